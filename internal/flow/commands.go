package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hunchunmed/leadbot/internal/models"
)

// handleCommand dispatches end-user slash commands. Commands are checked
// before any stage handling so "/reset" works even mid-onboarding.
func (s *Sequencer) handleCommand(ctx context.Context, lead *models.LeadRecord, event models.IncomingEvent, text string) error {
	fields := strings.Fields(text)
	command := strings.ToLower(fields[0])
	slog.Debug("Handling command", "command", command, "identity", lead.Identity)

	switch command {
	case "/start":
		if lead.AwaitingName {
			s.sendText(ctx, lead.ChatAddress, msgAskName, models.NoAffordance)
			return nil
		}
		s.sendText(ctx, lead.ChatAddress, msgHelp, models.Affordance{Kind: models.AffordanceMainMenu})
		return nil

	case "/help":
		s.sendText(ctx, lead.ChatAddress, msgHelp, models.Affordance{Kind: models.AffordanceMainMenu})
		return nil

	case "/reset":
		if _, err := s.store.ResetLead(lead.Identity); err != nil {
			return fmt.Errorf("failed to reset lead %s: %w", lead.Identity, err)
		}
		s.followups.Cancel(lead.Identity)
		slog.Info("Lead reset by command", "identity", lead.Identity)
		s.sendText(ctx, lead.ChatAddress, msgResetDone, models.NoAffordance)
		return nil

	case "/contact":
		return s.requestContact(ctx, lead)

	case "/operator":
		note := strings.TrimSpace(strings.TrimPrefix(text, fields[0]))
		if note == "" {
			note = "Asked for the operator."
		} else {
			note = fmt.Sprintf("Message for the operator: %q", note)
		}
		return s.alertOperator(ctx, lead, note)

	default:
		reply, err := s.gen.GenerateCommandReply(ctx, command, lead.DisplayName)
		if err != nil {
			slog.Error("Command reply generation failed", "error", err, "command", command)
			s.sendText(ctx, lead.ChatAddress, msgHelp, models.Affordance{Kind: models.AffordanceMainMenu})
			return nil
		}
		s.sendText(ctx, lead.ChatAddress, reply, models.Affordance{Kind: models.AffordanceMainMenu})
		return nil
	}
}
