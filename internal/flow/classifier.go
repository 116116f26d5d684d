package flow

import (
	"strings"

	"github.com/hunchunmed/leadbot/internal/models"
)

// ReplyAction is the post-processing action derived from a generated reply.
type ReplyAction int

const (
	// ActionDefault delivers the reply with the standard main-menu affordance
	// (no affordance in group chats).
	ActionDefault ReplyAction = iota
	// ActionTransfer hands the lead to a human: timestamp the record and
	// deliver with a leave-contact affordance.
	ActionTransfer
	// ActionSilence mutes the lead and delivers the reply bare.
	ActionSilence
	// ActionReset fully resets the lead and re-arms the name stage.
	ActionReset
	// ActionPrivateInvite attaches a private-chat deep link; only meaningful
	// in group chats.
	ActionPrivateInvite
)

// String returns a human-readable name for logging.
func (a ReplyAction) String() string {
	switch a {
	case ActionTransfer:
		return "transfer"
	case ActionSilence:
		return "silence"
	case ActionReset:
		return "reset"
	case ActionPrivateInvite:
		return "private_invite"
	default:
		return "default"
	}
}

// markerPriority is the fixed priority table for marker classification. When
// a reply contains several markers, the first matching row wins.
var markerPriority = []struct {
	marker string
	action ReplyAction
}{
	{MarkerTransfer, ActionTransfer},
	{MarkerSilence, ActionSilence},
	{MarkerReset, ActionReset},
	{MarkerPrivateInvite, ActionPrivateInvite},
}

// ClassifyReply scans a generated reply for marker substrings and returns the
// action to apply. Matching is case-insensitive.
func ClassifyReply(reply string) ReplyAction {
	lower := strings.ToLower(reply)
	for _, row := range markerPriority {
		if strings.Contains(lower, strings.ToLower(row.marker)) {
			return row.action
		}
	}
	return ActionDefault
}

// CheckReadiness reports whether the lead has provided enough detail to allow
// contact collection: at least ReadinessMinUserMessages user-authored log
// entries whose combined length is at least ReadinessMinChars.
func CheckReadiness(entries []models.MessageEntry) bool {
	count := 0
	chars := 0
	for _, e := range entries {
		if e.Sender != models.SenderUser {
			continue
		}
		count++
		chars += len(e.Text)
	}
	return count >= ReadinessMinUserMessages && chars >= ReadinessMinChars
}
