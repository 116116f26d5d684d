// Package flow implements the per-user conversation orchestration engine:
// the activation/silence gate, the intake state machine, the escalation
// classifier, the admin override channel, and the operator notifier.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hunchunmed/leadbot/internal/genai"
	"github.com/hunchunmed/leadbot/internal/messaging"
	"github.com/hunchunmed/leadbot/internal/models"
	"github.com/hunchunmed/leadbot/internal/store"
)

// historyWindow is how many recent log entries feed the reply generator.
const historyWindow = 20

// Media log markers. Media events are recorded in the message log with these
// prefixes; the media counter is derived by scanning for them.
const (
	photoLogPrefix    = "[photo]"
	documentLogPrefix = "[document"
)

// Opts holds configuration options for the Sequencer.
type Opts struct {
	Gate            *Gate
	Overrides       *OverrideRegistry
	FollowUps       *FollowUpScheduler
	FollowUpDelay   time.Duration
	MedicalKeywords []string
}

// Option defines a configuration option for the Sequencer.
type Option func(*Opts)

// WithGate injects a gate with custom activation keywords.
func WithGate(g *Gate) Option {
	return func(o *Opts) { o.Gate = g }
}

// WithOverrides injects a shared override registry.
func WithOverrides(r *OverrideRegistry) Option {
	return func(o *Opts) { o.Overrides = r }
}

// WithFollowUpDelay overrides the deferred-prompt delay after phone capture.
func WithFollowUpDelay(d time.Duration) Option {
	return func(o *Opts) { o.FollowUpDelay = d }
}

// WithMedicalKeywords overrides the clinical vocabulary list.
func WithMedicalKeywords(keywords []string) Option {
	return func(o *Opts) { o.MedicalKeywords = keywords }
}

// Sequencer is the per-user intake state machine. It arbitrates, for every
// inbound event, which of the competing behaviors fires: gate suppression,
// operator override, onboarding, problem intake, media collection, phone
// capture, commands, buttons, and generated replies.
type Sequencer struct {
	store     store.Store
	service   messaging.Service
	gen       genai.ClientInterface
	gate      *Gate
	overrides *OverrideRegistry
	notifier  *Notifier
	followups *FollowUpScheduler

	operator        string
	followUpDelay   time.Duration
	medicalKeywords []string
}

// NewSequencer creates a Sequencer wired to its collaborators. operator is
// the identity that receives notifications and may issue takeovers.
func NewSequencer(st store.Store, service messaging.Service, gen genai.ClientInterface, operator string, options ...Option) *Sequencer {
	cfg := Opts{
		FollowUpDelay:   FollowUpDelay,
		MedicalKeywords: MedicalKeywords,
	}
	for _, opt := range options {
		opt(&cfg)
	}
	if cfg.Gate == nil {
		cfg.Gate = NewGate()
	}
	if cfg.Overrides == nil {
		cfg.Overrides = NewOverrideRegistry()
	}
	if cfg.FollowUps == nil {
		cfg.FollowUps = NewFollowUpScheduler()
	}

	slog.Debug("Creating Sequencer", "operator_set", operator != "")
	return &Sequencer{
		store:           st,
		service:         service,
		gen:             gen,
		gate:            cfg.Gate,
		overrides:       cfg.Overrides,
		notifier:        NewNotifier(service, operator),
		followups:       cfg.FollowUps,
		operator:        operator,
		followUpDelay:   cfg.FollowUpDelay,
		medicalKeywords: cfg.MedicalKeywords,
	}
}

// Overrides exposes the override registry for the management API.
func (s *Sequencer) Overrides() *OverrideRegistry {
	return s.overrides
}

// Notifier exposes the operator notifier for the silence sweep and API.
func (s *Sequencer) Notifier() *Notifier {
	return s.notifier
}

// Start consumes inbound events from the transport until ctx is cancelled.
// Each event is processed inside its own error boundary so one bad event
// never takes the dispatcher down.
func (s *Sequencer) Start(ctx context.Context) {
	slog.Info("Sequencer starting event loop")
	go func() {
		for {
			select {
			case <-ctx.Done():
				slog.Info("Sequencer event loop stopping", "reason", ctx.Err())
				s.followups.Stop()
				return
			case event, ok := <-s.service.Events():
				if !ok {
					slog.Info("Sequencer event channel closed")
					s.followups.Stop()
					return
				}
				s.processEvent(ctx, event)
			}
		}
	}()
}

// processEvent runs one event through HandleEvent, recovering from panics and
// logging errors so the loop continues with the next event.
func (s *Sequencer) processEvent(ctx context.Context, event models.IncomingEvent) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Sequencer recovered from panic while processing event", "panic", r, "from", event.From)
		}
	}()
	if err := s.HandleEvent(ctx, event); err != nil {
		slog.Error("Sequencer failed to process event", "error", err, "from", event.From, "kind", event.Kind)
	}
}

// HandleEvent is the dispatcher: it decides which behavior an inbound event
// triggers and in what order the competing conditions are checked.
func (s *Sequencer) HandleEvent(ctx context.Context, event models.IncomingEvent) error {
	if event.From == "" {
		return fmt.Errorf("event missing sender identity")
	}

	// Operator traffic has its own surface: relays, takeovers, releases.
	if s.operator != "" && event.From == s.operator && !event.Group {
		return s.handleOperatorEvent(ctx, event)
	}

	lead, err := s.store.GetLead(event.From)
	if err != nil {
		return fmt.Errorf("failed to load lead %s: %w", event.From, err)
	}

	// The gate sees text events before anything else. Media and contact
	// events bypass it: a silenced lead sending an X-ray means business.
	if event.Kind == models.EventText {
		action := s.gate.Check(lead, event)
		if action != GatePass {
			slog.Debug("Gate decision", "action", action.String(), "from", event.From, "group", event.Group)
		}
		switch action {
		case GateSuppress:
			if lead != nil {
				if err := s.store.TouchLastActive(lead.Identity); err != nil {
					slog.Error("Failed to touch last-active on suppressed event", "error", err, "identity", lead.Identity)
				}
			}
			return nil
		case GateReactivate:
			if lead, err = s.store.SetSilenced(lead.Identity, false); err != nil {
				return fmt.Errorf("failed to reactivate lead %s: %w", event.From, err)
			}
			s.sendText(ctx, lead.ChatAddress, msgReactivated, models.NoAffordance)
		}
	}

	// Manual override short-circuits the state machine entirely: everything
	// is relayed to the operator, only last-active is updated.
	if lead != nil && s.overrides.Contains(lead.Identity) {
		s.forwardToOperator(ctx, lead, event)
		if err := s.store.TouchLastActive(lead.Identity); err != nil {
			slog.Error("Failed to touch last-active under override", "error", err, "identity", lead.Identity)
		}
		return nil
	}

	if lead == nil {
		return s.handleFirstContact(ctx, event)
	}

	if err := s.store.TouchLastActive(lead.Identity); err != nil {
		slog.Error("Failed to touch last-active", "error", err, "identity", lead.Identity)
	}

	switch event.Kind {
	case models.EventContact:
		return s.handleContact(ctx, lead, event)
	case models.EventPhoto, models.EventDocument:
		return s.handleMedia(ctx, lead, event)
	case models.EventButton:
		return s.handleButton(ctx, lead, event)
	case models.EventText:
		return s.handleText(ctx, lead, event)
	default:
		slog.Debug("Sequencer ignoring unsupported event kind", "kind", event.Kind, "from", event.From)
		return nil
	}
}

// handleFirstContact creates the lead record and starts onboarding. This is
// the only path allowed to create records.
func (s *Sequencer) handleFirstContact(ctx context.Context, event models.IncomingEvent) error {
	chat := event.Chat
	if chat == "" {
		chat = event.From
	}
	now := time.Now()
	lead, err := s.store.CreateLead(models.LeadRecord{
		Identity:     event.From,
		Handle:       event.Handle,
		ChatAddress:  chat,
		AwaitingName: true,
		RegisteredAt: now,
		LastActiveAt: now,
	})
	if err != nil {
		return fmt.Errorf("failed to create lead %s: %w", event.From, err)
	}
	slog.Info("New lead registered", "identity", lead.Identity, "group", event.Group)

	if event.Kind == models.EventText && strings.TrimSpace(event.Text) != "" && !strings.HasPrefix(strings.TrimSpace(event.Text), "/") {
		s.appendMessage(lead.Identity, models.SenderUser, event.Text)
	}

	s.sendText(ctx, lead.ChatAddress, msgAskName, models.NoAffordance)
	s.notifier.Notify(ctx, lead, fmt.Sprintf("First contact. Opening message: %q", event.Text), models.NotificationNewContact)
	return nil
}

// handleText runs the text-stage precedence chain: commands, name capture,
// problem capture, explicit phone stage, medical keywords, opportunistic
// phone scan, and finally the generated reply.
func (s *Sequencer) handleText(ctx context.Context, lead *models.LeadRecord, event models.IncomingEvent) error {
	text := strings.TrimSpace(event.Text)

	if strings.HasPrefix(text, "/") {
		return s.handleCommand(ctx, lead, event, text)
	}

	if lead.AwaitingName {
		return s.captureName(ctx, lead, event, text)
	}

	if lead.AwaitingProblem {
		return s.captureProblem(ctx, lead, event, text)
	}

	if lead.AwaitingPhone {
		phone, ok := ExtractPhone(text)
		if !ok && ValidatePhone(text) {
			phone, ok = text, true
		}
		if !ok {
			// Malformed phone: re-prompt in place, no state transition, and
			// the text is not stored as a generic message.
			s.sendText(ctx, lead.ChatAddress, msgPhoneRetry, models.NoAffordance)
			return nil
		}
		return s.capturePhone(ctx, lead, phone)
	}

	// Medical vocabulary routes straight to the media request once the
	// name/problem stages are behind us. Checked before the phone scan.
	if lead.AwaitingMediaOrPhone() && containsAnyKeyword(text, s.medicalKeywords) {
		s.appendMessage(lead.Identity, models.SenderUser, text)
		s.sendText(ctx, lead.ChatAddress, msgAskMedia, models.NoAffordance)
		return nil
	}

	// Opportunistic capture: a phone number embedded in ordinary text is
	// taken immediately, whatever the stage flags say.
	if lead.Phone == "" {
		if phone, ok := ExtractPhone(text); ok {
			s.appendMessage(lead.Identity, models.SenderUser, text)
			return s.capturePhone(ctx, lead, phone)
		}
	}

	return s.handleGeneratedReply(ctx, lead, event, text)
}

// captureName accepts any text as the display name, arms the problem stage
// and asks for the issue description. The name is consumed, not logged.
func (s *Sequencer) captureName(ctx context.Context, lead *models.LeadRecord, event models.IncomingEvent, text string) error {
	name := text
	if name == "" {
		name = event.DisplayName
	}
	lead, err := s.store.SetDisplayName(lead.Identity, name)
	if err != nil {
		return fmt.Errorf("failed to store display name for %s: %w", lead.Identity, err)
	}
	if lead, err = s.store.SetProblemPending(lead.Identity, true); err != nil {
		return fmt.Errorf("failed to arm problem stage for %s: %w", lead.Identity, err)
	}
	slog.Info("Lead name captured", "identity", lead.Identity)

	s.sendText(ctx, lead.ChatAddress, fmt.Sprintf(msgAskProblem, lead.DisplayName), models.NoAffordance)
	s.notifier.Notify(ctx, lead, fmt.Sprintf("Introduced as %q.", lead.DisplayName), models.NotificationLeadProgress)
	return nil
}

// captureProblem stores the problem description and asks for supporting
// media.
func (s *Sequencer) captureProblem(ctx context.Context, lead *models.LeadRecord, event models.IncomingEvent, text string) error {
	s.appendMessage(lead.Identity, models.SenderUser, text)
	lead, err := s.store.SetProblemPending(lead.Identity, false)
	if err != nil {
		return fmt.Errorf("failed to clear problem stage for %s: %w", lead.Identity, err)
	}
	slog.Info("Lead problem captured", "identity", lead.Identity)

	s.sendText(ctx, lead.ChatAddress, msgAskMedia, models.NoAffordance)
	s.notifier.Notify(ctx, lead, fmt.Sprintf("Described the problem: %q", text), models.NotificationLeadProgress)
	return nil
}

// handleContact captures the phone from a structured contact card. It takes
// precedence over any text-pattern scanning in the same turn.
func (s *Sequencer) handleContact(ctx context.Context, lead *models.LeadRecord, event models.IncomingEvent) error {
	phone := strings.TrimSpace(event.ContactPhone)
	if phone == "" {
		slog.Warn("Contact card without phone number", "identity", lead.Identity)
		s.sendText(ctx, lead.ChatAddress, msgPhoneRetry, models.NoAffordance)
		return nil
	}
	return s.capturePhone(ctx, lead, phone)
}

// capturePhone stores the phone (last write wins), thanks the lead with a
// direct messenger link, alerts the operator, and schedules the deferred
// follow-up prompt.
func (s *Sequencer) capturePhone(ctx context.Context, lead *models.LeadRecord, phone string) error {
	lead, err := s.store.SetPhone(lead.Identity, phone)
	if err != nil {
		return fmt.Errorf("failed to store phone for %s: %w", lead.Identity, err)
	}
	slog.Info("Lead phone captured", "identity", lead.Identity)

	link := MessengerLink(s.operator)
	if link == "" {
		link = MessengerLink(lead.Identity)
	}
	s.sendText(ctx, lead.ChatAddress, msgPhoneSaved, models.Affordance{Kind: models.AffordanceOperatorContacts, URL: link})

	entries, err := s.store.ListMessages(lead.Identity, DigestMessageCount)
	if err != nil {
		slog.Error("Failed to load digest messages", "error", err, "identity", lead.Identity)
	}
	alert := fmt.Sprintf("Phone captured: %s\nDirect chat: %s\n\n%s", phone, MessengerLink(phone), BuildDigest(entries))
	s.notifier.Notify(ctx, lead, alert, models.NotificationLeadProgress)

	identity := lead.Identity
	chat := lead.ChatAddress
	s.followups.Schedule(identity, s.followUpDelay, func() {
		// Fire-and-forget: the lead may have advanced or reset by now.
		s.sendText(context.Background(), chat, msgFollowUp, models.NoAffordance)
	})
	return nil
}

// handleMedia records the media event in the log, forwards the payload to the
// operator, and drives the phone request: the first media item arms the phone
// stage, later items re-request the number.
func (s *Sequencer) handleMedia(ctx context.Context, lead *models.LeadRecord, event models.IncomingEvent) error {
	logText := photoLogPrefix
	if event.Kind == models.EventDocument {
		logText = fmt.Sprintf("%s: %s]", documentLogPrefix, event.FileName)
	}
	if caption := strings.TrimSpace(event.Text); caption != "" {
		logText += " " + caption
	}
	s.appendMessage(lead.Identity, models.SenderUser, logText)

	if event.MediaRef != "" && s.operator != "" {
		caption := fmt.Sprintf("From %s", leadLabel(lead))
		if err := s.service.SendMedia(ctx, s.operator, event.MediaRef, caption); err != nil {
			slog.Error("Failed to forward media to operator", "error", err, "identity", lead.Identity)
		}
	}

	count, err := s.countMediaEntries(lead.Identity)
	if err != nil {
		slog.Error("Failed to count media entries", "error", err, "identity", lead.Identity)
		count = 1
	}
	slog.Debug("Media received", "identity", lead.Identity, "kind", event.Kind, "total_media", count)

	if lead.Phone != "" {
		s.sendText(ctx, lead.ChatAddress, msgAskPhoneAgain, models.NoAffordance)
		return nil
	}
	if !lead.AwaitingPhone {
		if _, err := s.store.SetPhonePending(lead.Identity, true); err != nil {
			return fmt.Errorf("failed to arm phone stage for %s: %w", lead.Identity, err)
		}
	}
	if count <= 1 {
		s.sendText(ctx, lead.ChatAddress, msgAskPhone, models.Affordance{Kind: models.AffordanceSharePhone})
		return nil
	}
	s.sendText(ctx, lead.ChatAddress, msgAskPhoneAgain, models.NoAffordance)
	return nil
}

// countMediaEntries derives the media counter by scanning the recent message
// window, so old media in a long conversation does not change which phone
// prompt a fresh upload gets.
func (s *Sequencer) countMediaEntries(identity string) (int, error) {
	entries, err := s.store.ListMessages(identity, historyWindow)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, e := range entries {
		if strings.HasPrefix(e.Text, photoLogPrefix) || strings.HasPrefix(e.Text, documentLogPrefix) {
			count++
		}
	}
	return count, nil
}

// handleButton dispatches button presses from the main-menu affordance.
func (s *Sequencer) handleButton(ctx context.Context, lead *models.LeadRecord, event models.IncomingEvent) error {
	switch event.Text {
	case ButtonLeaveContact:
		return s.requestContact(ctx, lead)
	case ButtonOperator:
		return s.alertOperator(ctx, lead, "Pressed the call-operator button.")
	case ButtonMainMenu:
		s.sendText(ctx, lead.ChatAddress, msgHelp, models.Affordance{Kind: models.AffordanceMainMenu})
		return nil
	case ButtonPrices:
		s.sendText(ctx, lead.ChatAddress, msgPriceInfo, models.Affordance{Kind: models.AffordanceMainMenu})
		return nil
	case ButtonClinics:
		s.sendText(ctx, lead.ChatAddress, msgClinicsInfo, models.Affordance{Kind: models.AffordanceMainMenu})
		return nil
	case ButtonTour:
		s.sendText(ctx, lead.ChatAddress, msgTourInfo, models.Affordance{Kind: models.AffordanceMainMenu})
		return nil
	default:
		slog.Debug("Ignoring unknown button", "data", event.Text, "identity", lead.Identity)
		return nil
	}
}

// requestContact runs the readiness check before arming the phone stage: a
// lead that has not told us enough is asked for detail instead.
func (s *Sequencer) requestContact(ctx context.Context, lead *models.LeadRecord) error {
	entries, err := s.store.ListMessages(lead.Identity, 0)
	if err != nil {
		return fmt.Errorf("failed to load messages for readiness check: %w", err)
	}
	if !CheckReadiness(entries) {
		slog.Debug("Readiness check refused contact collection", "identity", lead.Identity)
		s.sendText(ctx, lead.ChatAddress, msgNotReady, models.NoAffordance)
		return nil
	}
	if _, err := s.store.SetPhonePending(lead.Identity, true); err != nil {
		return fmt.Errorf("failed to arm phone stage for %s: %w", lead.Identity, err)
	}
	s.sendText(ctx, lead.ChatAddress, msgAskPhone, models.Affordance{Kind: models.AffordanceSharePhone})
	return nil
}

// alertOperator fires an operator-request notification and confirms to the
// lead, falling back to an unreachable notice when delivery fails.
func (s *Sequencer) alertOperator(ctx context.Context, lead *models.LeadRecord, note string) error {
	entries, err := s.store.ListMessages(lead.Identity, DigestMessageCount)
	if err != nil {
		slog.Error("Failed to load digest messages", "error", err, "identity", lead.Identity)
	}
	body := note + "\n\n" + BuildDigest(entries)
	if err := s.notifier.NotifyText(ctx, fmt.Sprintf("[%s] %s\n%s", models.NotificationOperatorRequest, leadLabel(lead), body)); err != nil {
		slog.Error("Operator unreachable", "error", err, "identity", lead.Identity)
		s.sendText(ctx, lead.ChatAddress, msgOperatorUnreachable, models.NoAffordance)
		return nil
	}
	s.sendText(ctx, lead.ChatAddress, msgOperatorAlertSent, models.NoAffordance)
	return nil
}

// handleGeneratedReply produces the AI-assisted reply for free text that no
// stage consumed, then applies the escalation classifier to it.
func (s *Sequencer) handleGeneratedReply(ctx context.Context, lead *models.LeadRecord, event models.IncomingEvent, text string) error {
	s.appendMessage(lead.Identity, models.SenderUser, text)

	entries, err := s.store.ListMessages(lead.Identity, historyWindow)
	if err != nil {
		slog.Error("Failed to load history for generator", "error", err, "identity", lead.Identity)
	}
	reply, err := s.gen.GenerateReply(ctx, text, lead.DisplayName, renderHistory(entries), event.Group)
	if err != nil {
		slog.Error("Reply generation failed", "error", err, "identity", lead.Identity)
		s.sendText(ctx, lead.ChatAddress, msgGenerateFailed, models.NoAffordance)
		return nil
	}

	action := ClassifyReply(reply)
	slog.Debug("Classified generated reply", "identity", lead.Identity, "action", action.String())

	switch action {
	case ActionTransfer:
		if _, err := s.store.MarkHandoff(lead.Identity); err != nil {
			slog.Error("Failed to mark handoff", "error", err, "identity", lead.Identity)
		}
		s.sendText(ctx, lead.ChatAddress, reply, models.Affordance{Kind: models.AffordanceLeaveContact})
		digest, derr := s.store.ListMessages(lead.Identity, DigestMessageCount)
		if derr != nil {
			slog.Error("Failed to load digest messages", "error", derr, "identity", lead.Identity)
		}
		s.notifier.Notify(ctx, lead, "Requested a specialist.\n\n"+BuildDigest(digest), models.NotificationOperatorRequest)
	case ActionSilence:
		if _, err := s.store.SetSilenced(lead.Identity, true); err != nil {
			slog.Error("Failed to silence lead", "error", err, "identity", lead.Identity)
		}
		s.sendText(ctx, lead.ChatAddress, reply, models.NoAffordance)
	case ActionReset:
		if _, err := s.store.ResetLead(lead.Identity); err != nil {
			slog.Error("Failed to reset lead", "error", err, "identity", lead.Identity)
		}
		s.followups.Cancel(lead.Identity)
		s.sendText(ctx, lead.ChatAddress, reply, models.Affordance{Kind: models.AffordanceMainMenu})
		// The reset just cleared the snapshot; it must stay empty. The reply
		// still goes into the append-only log.
		s.appendMessage(lead.Identity, models.SenderAgent, reply)
		return nil
	case ActionPrivateInvite:
		affordance := models.Affordance{Kind: models.AffordanceMainMenu}
		if event.Group {
			affordance = models.Affordance{Kind: models.AffordancePrivateInvite}
			if own, oerr := s.service.ResolveOwnIdentity(); oerr == nil {
				affordance.URL = MessengerLink(own)
			}
		}
		s.sendText(ctx, event.Chat, reply, affordance)
	default:
		affordance := models.Affordance{Kind: models.AffordanceMainMenu}
		if event.Group {
			affordance = models.NoAffordance
		}
		s.sendText(ctx, event.Chat, reply, affordance)
	}

	s.appendMessage(lead.Identity, models.SenderAgent, reply)
	snapshot := renderHistory(append(entries, models.MessageEntry{Sender: models.SenderAgent, Text: reply}))
	if err := s.store.SaveHistorySnapshot(lead.Identity, snapshot); err != nil {
		slog.Error("Failed to save history snapshot", "error", err, "identity", lead.Identity)
	}
	return nil
}

// handleOperatorEvent dispatches traffic from the operator identity: relays,
// takeover buttons and operator commands.
func (s *Sequencer) handleOperatorEvent(ctx context.Context, event models.IncomingEvent) error {
	switch event.Kind {
	case models.EventButton:
		if target, ok := strings.CutPrefix(event.Text, "takeover_"); ok {
			return s.ackOperator(ctx, s.Takeover(ctx, event.From, target), fmt.Sprintf("Now handling %s manually.", target))
		}
		slog.Debug("Ignoring unknown operator button", "data", event.Text)
		return nil
	case models.EventText:
		text := strings.TrimSpace(event.Text)
		if target, body, ok := ParseRelay(text); ok {
			return s.ackOperator(ctx, s.Relay(ctx, target, body), fmt.Sprintf("Delivered to %s.", target))
		}
		fields := strings.Fields(text)
		if len(fields) == 2 {
			switch strings.ToLower(fields[0]) {
			case "/takeover":
				return s.ackOperator(ctx, s.Takeover(ctx, event.From, fields[1]), fmt.Sprintf("Now handling %s manually.", fields[1]))
			case "/release":
				return s.ackOperator(ctx, s.Release(event.From, fields[1]), fmt.Sprintf("Released %s back to the bot.", fields[1]))
			}
		}
		s.sendText(ctx, event.From, msgOperatorUsage, models.NoAffordance)
		return nil
	default:
		slog.Debug("Ignoring operator event", "kind", event.Kind)
		return nil
	}
}

// ackOperator reports the outcome of an operator action back to the operator.
func (s *Sequencer) ackOperator(ctx context.Context, err error, success string) error {
	msg := success
	if err != nil {
		msg = fmt.Sprintf("Failed: %v", err)
	}
	s.sendText(ctx, s.operator, msg, models.NoAffordance)
	return nil
}

// Takeover puts a lead under manual operator control. Only the configured
// operator may issue it; an unknown target fails without mutating state.
func (s *Sequencer) Takeover(ctx context.Context, requester, target string) error {
	if requester != s.operator || s.operator == "" {
		slog.Warn("Unauthorized takeover attempt", "requester", requester, "target", target)
		return models.ErrUnauthorized
	}
	lead, err := s.store.GetLead(target)
	if err != nil {
		return fmt.Errorf("failed to load lead %s: %w", target, err)
	}
	if lead == nil {
		return fmt.Errorf("takeover target %s: %w", target, models.ErrLeadNotFound)
	}

	s.overrides.Add(target)
	slog.Info("Lead under manual control", "identity", target)

	s.sendText(ctx, lead.ChatAddress, msgOperatorJoined, models.NoAffordance)
	s.notifier.Notify(ctx, lead, "Manual takeover active. Messages from this lead will be relayed to you.", models.NotificationTakeover)
	return nil
}

// Release returns a lead to automated handling.
func (s *Sequencer) Release(requester, target string) error {
	if requester != s.operator || s.operator == "" {
		slog.Warn("Unauthorized release attempt", "requester", requester, "target", target)
		return models.ErrUnauthorized
	}
	s.overrides.Remove(target)
	slog.Info("Lead released to automated handling", "identity", target)
	return nil
}

// Relay forwards operator text verbatim to a lead. The lead enters the
// override set if not already there. Delivery failures are returned so the
// caller can acknowledge them to the operator; they are never fatal.
func (s *Sequencer) Relay(ctx context.Context, target, body string) error {
	lead, err := s.store.GetLead(target)
	if err != nil {
		return fmt.Errorf("failed to load lead %s: %w", target, err)
	}
	if lead == nil {
		return fmt.Errorf("relay target %s: %w", target, models.ErrLeadNotFound)
	}

	if err := s.service.SendText(ctx, lead.ChatAddress, body, models.NoAffordance); err != nil {
		return fmt.Errorf("failed to deliver to %s: %w", target, err)
	}
	s.appendMessage(lead.Identity, models.SenderAgent, body)

	if s.overrides.Add(target) {
		if nerr := s.notifier.NotifyText(ctx, fmt.Sprintf("Now manually handling %s.", leadLabel(lead))); nerr != nil {
			slog.Error("Failed to confirm override entry to operator", "error", nerr, "identity", target)
		}
	}
	if err := s.store.TouchLastActive(target); err != nil {
		slog.Error("Failed to touch last-active after relay", "error", err, "identity", target)
	}
	return nil
}

// forwardToOperator relays an overridden lead's event to the operator.
func (s *Sequencer) forwardToOperator(ctx context.Context, lead *models.LeadRecord, event models.IncomingEvent) {
	if s.operator == "" {
		return
	}
	switch event.Kind {
	case models.EventPhoto, models.EventDocument:
		if event.MediaRef != "" {
			if err := s.service.SendMedia(ctx, s.operator, event.MediaRef, fmt.Sprintf("From %s", leadLabel(lead))); err != nil {
				slog.Error("Failed to forward media to operator", "error", err, "identity", lead.Identity)
			}
			return
		}
		fallthrough
	default:
		body := fmt.Sprintf("%s:\n%s", leadLabel(lead), event.Text)
		if err := s.service.SendText(ctx, s.operator, body, models.NoAffordance); err != nil {
			slog.Error("Failed to forward text to operator", "error", err, "identity", lead.Identity)
		}
	}
}

// sendText delivers a message with a local error boundary: failures are
// logged and never interrupt event processing.
func (s *Sequencer) sendText(ctx context.Context, to, body string, affordance models.Affordance) {
	if err := s.service.SendText(ctx, to, body, affordance); err != nil {
		slog.Error("Failed to send message", "error", err, "to", to)
	}
}

// appendMessage appends to the log with a local error boundary.
func (s *Sequencer) appendMessage(identity string, sender models.Sender, text string) {
	if _, err := s.store.AppendMessage(identity, sender, text); err != nil {
		slog.Error("Failed to append message", "error", err, "identity", identity, "sender", sender)
	}
}

// renderHistory serializes log entries as generator context, oldest first.
func renderHistory(entries []models.MessageEntry) string {
	var b strings.Builder
	for _, e := range entries {
		label := "User"
		if e.Sender == models.SenderAgent {
			label = "Assistant"
		}
		fmt.Fprintf(&b, "%s: %s\n", label, e.Text)
	}
	return strings.TrimRight(b.String(), "\n")
}
