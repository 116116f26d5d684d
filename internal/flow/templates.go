package flow

import (
	"strings"
	"time"
)

// Heuristic thresholds and timing defaults for the intake flow.
const (
	// ReadinessMinUserMessages is the minimum number of user-authored log
	// entries required before contact collection is allowed.
	ReadinessMinUserMessages = 2
	// ReadinessMinChars is the minimum combined length of those entries.
	ReadinessMinChars = 50
	// DigestMessageCount is how many recent messages go into operator digests.
	DigestMessageCount = 5
	// FollowUpDelay is how long after phone capture the secondary prompt fires.
	FollowUpDelay = 2 * time.Second
	// DefaultSilenceTimeout is how long a silenced lead stays muted before the
	// background sweep reactivates them.
	DefaultSilenceTimeout = 24 * time.Hour
)

// ActivationKeywords override group-chat suppression and the silence gate.
// Matching is case-insensitive substring.
var ActivationKeywords = []string{
	"hunchun",
	"china",
	"clinic",
	"hospital",
	"doctor",
	"dentist",
	"dental",
	"implant",
	"treatment",
	"diagnostic",
	"checkup",
	"price",
	"cost",
	"how much",
	"appointment",
	"consultation",
	"tour",
}

// MedicalKeywords route free text straight to the media-request prompt once
// the lead has passed the name and problem stages.
var MedicalKeywords = []string{
	"hurt",
	"pain",
	"ache",
	"tooth",
	"teeth",
	"gum",
	"jaw",
	"knee",
	"joint",
	"spine",
	"back",
	"surgery",
	"implant",
	"prosthes",
	"crown",
	"veneer",
	"diagnos",
	"x-ray",
	"xray",
	"mri",
	"ultrasound",
	"treatment",
}

// Marker phrases the reply generator embeds to signal a state transition.
// The classifier scans replies for these substrings.
const (
	MarkerTransfer      = "I am passing your request to our specialist"
	MarkerSilence       = "I will wait until you want to continue our conversation"
	MarkerReset         = "let's start our conversation over"
	MarkerPrivateInvite = "let's continue our conversation in a private chat"
)

// User-facing templates. Kept short and retry-oriented: failures never leak
// raw diagnostics to the lead.
const (
	msgAskName = "Hello! I'm the assistant of the Hunchun medical center. " +
		"I'll help you arrange a consultation or treatment. What is your name?"

	msgAskProblem = "Nice to meet you, %s! Please describe what's bothering you — " +
		"the more detail the better."

	msgAskMedia = "Thank you. To give you an accurate answer, please send photos, " +
		"X-ray or MRI images, or any medical reports you have. If you don't have " +
		"them at hand, just describe your situation in more detail."

	msgAskPhone = "Got it, thank you! Please leave your phone number so our " +
		"specialist can contact you and discuss the details."

	msgAskPhoneAgain = "Received! If you have more images, send them too. " +
		"And please don't forget to leave your phone number."

	msgPhoneRetry = "That doesn't look like a phone number. Please send it in " +
		"international format, for example +7 912 345 67 89."

	msgPhoneSaved = "Thank you! Our specialist will contact you shortly."

	msgFollowUp = "While you wait: if you have any documents, test results or " +
		"images, send them here — the specialist will review them before the call."

	msgReactivated = "I'm back! Let's continue."

	msgOperatorJoined = "Our specialist has joined the conversation and will " +
		"answer you personally."

	msgNotReady = "To pass your request to a specialist I need a bit more detail. " +
		"Please describe your situation first — what's bothering you and for how long?"

	msgOperatorAlertSent = "Our specialist has been notified and will get in touch with you."

	msgOperatorUnreachable = "I couldn't reach the specialist right now. " +
		"Please try again in a few minutes."

	msgHelp = "I can help you arrange treatment at the Hunchun medical center.\n" +
		"/start — start over\n" +
		"/reset — reset our conversation\n" +
		"/contact — leave your phone number\n" +
		"/operator <text> — send a note to our specialist\n" +
		"Or just describe your problem and I'll guide you."

	msgResetDone = "Done, we're starting over. What is your name?"

	msgPriceInfo = "Prices depend on the diagnosis and treatment plan. A dental " +
		"implant starts from $500, a full checkup from $150. Describe your case " +
		"and I'll give you a closer estimate."

	msgClinicsInfo = "We work with accredited clinics in Hunchun: a dental " +
		"center, a diagnostic hospital and a rehabilitation facility, all with " +
		"Russian-speaking staff."

	msgTourInfo = "A treatment tour includes transfer from the border, " +
		"accommodation near the clinic and an interpreter. We'll arrange " +
		"everything once your treatment plan is confirmed."

	msgGenerateFailed = "Sorry, something went wrong on my side. Please send " +
		"your message again."

	msgOperatorUsage = "Operator commands:\n" +
		"@<identity> <text> — relay a message to a lead\n" +
		"/takeover <identity> — handle a lead manually\n" +
		"/release <identity> — return a lead to the bot"
)

// Button identifiers surfaced through the main-menu affordance.
const (
	ButtonLeaveContact = "btn_leave_contact"
	ButtonOperator     = "btn_operator"
	ButtonMainMenu     = "btn_main_menu"
	ButtonPrices       = "btn_prices"
	ButtonClinics      = "btn_clinics"
	ButtonTour         = "btn_tour"
)

// containsAnyKeyword reports whether the lowercased text contains at least one
// of the given keywords.
func containsAnyKeyword(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
