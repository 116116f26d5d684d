package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hunchunmed/leadbot/internal/models"
	"github.com/hunchunmed/leadbot/internal/twiliowhatsapp"
)

// TwilioService implements the Service interface using the Twilio API.
// Inbound traffic arrives via webhook, so it is text-only and media
// forwarding degrades to captions.
type TwilioService struct {
	client    twiliowhatsapp.Sender
	fromWhats string
	events    chan models.IncomingEvent
	done      chan struct{}
	mu        sync.RWMutex
	stopped   bool
}

// NewTwilioService creates a new TwilioService.
func NewTwilioService(client twiliowhatsapp.Sender, fromWhats string) *TwilioService {
	return &TwilioService{
		client:    client,
		fromWhats: fromWhats,
		events:    make(chan models.IncomingEvent, DefaultChannelBufferSize),
		done:      make(chan struct{}),
	}
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp
// phone number by removing all non-numeric characters.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizeRecipient(recipient)
}

// Start is a no-op for Twilio: inbound traffic arrives via webhook.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes channels and stops the service.
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.done)

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(s.events)
	}()

	return nil
}

// SendText sends a text message with the affordance rendered as a footer.
func (s *TwilioService) SendText(ctx context.Context, to string, body string, affordance models.Affordance) error {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return ErrServiceStopped
	}
	s.mu.RUnlock()

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendText validation error", "error", err, "to", to)
		return err
	}

	return s.client.SendMessage(ctx, canonicalTo, composeBody(body, affordance))
}

// SendMedia cannot re-upload raw bytes through Twilio, so it delivers the
// caption with a media notice instead.
func (s *TwilioService) SendMedia(ctx context.Context, to string, mediaRef string, caption string) error {
	body := "[media attachment]"
	if caption != "" {
		body = caption + "\n" + body
	}
	return s.SendText(ctx, to, body, models.NoAffordance)
}

// ResolveOwnIdentity returns the configured sending number's digits.
func (s *TwilioService) ResolveOwnIdentity() (string, error) {
	own := strings.TrimPrefix(s.fromWhats, "whatsapp:")
	if own == "" {
		return "", fmt.Errorf("no sending number configured")
	}
	return canonicalizeRecipient(own)
}

// Events returns the channel of normalized inbound events.
func (s *TwilioService) Events() <-chan models.IncomingEvent {
	return s.events
}

// WebhookHandler handles inbound Twilio webhook requests, converting each
// into a normalized IncomingEvent.
func (s *TwilioService) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	slog.Info("Twilio webhook received")

	if err := r.ParseForm(); err != nil {
		slog.Error("Failed to parse Twilio webhook form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	from := strings.TrimPrefix(r.FormValue("From"), "whatsapp:")
	body := r.FormValue("Body")
	profileName := r.FormValue("ProfileName")

	if from == "" || body == "" {
		slog.Warn("Twilio webhook missing fields", "from", from)
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	canonicalFrom, err := canonicalizeRecipient(from)
	if err != nil {
		slog.Warn("Twilio webhook invalid sender", "from", from, "error", err)
		http.Error(w, "Invalid sender", http.StatusBadRequest)
		return
	}

	slog.Info("Inbound WhatsApp message from Twilio", "from", canonicalFrom)

	s.safeEmit(models.IncomingEvent{
		From:        canonicalFrom,
		Chat:        canonicalFrom,
		DisplayName: profileName,
		Kind:        models.EventText,
		Text:        body,
		Time:        time.Now().Unix(),
	})

	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// safeEmit pushes an event into the events channel, dropping it when the
// service is stopped or the channel stays blocked.
func (s *TwilioService) safeEmit(event models.IncomingEvent) {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		slog.Warn("TwilioService dropping inbound event (service stopped)", "from", event.From)
		return
	}

	select {
	case s.events <- event:
		slog.Debug("TwilioService emitted inbound event", "from", event.From)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService events channel blocked, dropping message", "from", event.From)
	}
}
