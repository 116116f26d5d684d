// Package messaging provides the transport abstraction for leadbot.
//
// It defines a pluggable Service interface for delivering messages and
// receiving normalized inbound events, with WhatsApp (whatsmeow) and Twilio
// implementations.
package messaging

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/hunchunmed/leadbot/internal/models"
)

// Constants shared by Service implementations
const (
	// DefaultChannelBufferSize defines the default buffer size for event channels
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the default timeout for non-blocking channel operations
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped is returned when sending through a stopped service.
var ErrServiceStopped = errors.New("messaging service stopped")

// phoneNumberRegex strips everything that is not a digit during recipient
// canonicalization.
var phoneNumberRegex = regexp.MustCompile(`\D`)

// Service defines a pluggable message delivery abstraction.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a
	// recipient identifier. Returns the canonicalized recipient and an
	// error if validation fails.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendText sends a text message with an optional affordance. How the
	// affordance is rendered is up to the transport.
	SendText(ctx context.Context, to string, body string, affordance models.Affordance) error

	// SendMedia re-delivers a previously received media payload, identified
	// by its transport-level reference, with a caption.
	SendMedia(ctx context.Context, to string, mediaRef string, caption string) error

	// ResolveOwnIdentity returns the service's own channel identity (used
	// for private-chat deep links).
	ResolveOwnIdentity() (string, error)

	// Start begins background processing (e.g. event polling).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Events returns a channel of normalized inbound events.
	Events() <-chan models.IncomingEvent
}

// canonicalizeRecipient implements the shared recipient canonicalization:
// strip all non-digits and require a minimum plausible length.
func canonicalizeRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", errors.New("recipient cannot be empty")
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", errors.New("invalid recipient: no digits found")
	}
	if len(canonical) < 6 {
		return "", errors.New("invalid recipient: too short")
	}
	return canonical, nil
}

// renderAffordance renders an affordance as trailing message lines for
// transports without native interactive elements.
func renderAffordance(aff models.Affordance) string {
	switch aff.Kind {
	case models.AffordanceMainMenu:
		return "\n\nCommands: /help — help, /contact — leave your contact, /reset — start over, /operator — reach the operator"
	case models.AffordanceLeaveContact:
		return "\n\nTo leave your contact for a consultation, send /contact or simply type your phone number."
	case models.AffordanceSharePhone:
		return "\n\nPlease type your phone number, or share your contact card."
	case models.AffordanceOperatorContacts:
		s := "\n\nOur operators are ready to help you"
		if aff.URL != "" {
			s += ": " + aff.URL
		}
		return s
	case models.AffordancePrivateInvite:
		if aff.URL != "" {
			return "\n\nContinue privately: " + aff.URL
		}
		return ""
	default:
		return ""
	}
}

// composeBody joins a message body with its rendered affordance.
func composeBody(body string, aff models.Affordance) string {
	return strings.TrimSpace(body) + renderAffordance(aff)
}
