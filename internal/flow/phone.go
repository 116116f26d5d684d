package flow

import (
	"regexp"
	"strings"
)

// Phone-detection patterns. The loose pattern catches numbers embedded in
// ordinary text; the messenger pattern matches international messenger-style
// formatting; the strict pattern validates text that should be nothing but a
// phone number.
var (
	loosePhoneRegex     = regexp.MustCompile(`(?:\+|\d)[\d\s\-()]{9,20}`)
	messengerPhoneRegex = regexp.MustCompile(`\+\d{1,3}\s?\d{1,4}\s?\d{1,4}[-\s]?\d{1,2}[-\s]?\d{1,2}`)
	strictPhoneRegex    = regexp.MustCompile(`^\+?[\d\s\-()]{10,15}$`)
	nonDigitRegex       = regexp.MustCompile(`\D`)
)

// ExtractPhone scans free text for an embedded phone-like pattern and returns
// the trimmed match. Messenger-style numbers are preferred over the loose
// pattern when both match.
func ExtractPhone(text string) (string, bool) {
	if m := messengerPhoneRegex.FindString(text); m != "" {
		return strings.TrimSpace(m), true
	}
	if m := loosePhoneRegex.FindString(text); m != "" {
		return strings.TrimSpace(m), true
	}
	return "", false
}

// ValidatePhone reports whether the entire text, ignoring surrounding
// whitespace, is a plausible phone number.
func ValidatePhone(text string) bool {
	return strictPhoneRegex.MatchString(strings.TrimSpace(text))
}

// MessengerLink builds a click-to-chat link for a phone number by stripping
// everything but digits.
func MessengerLink(phone string) string {
	digits := nonDigitRegex.ReplaceAllString(phone, "")
	if digits == "" {
		return ""
	}
	return "https://wa.me/" + digits
}
