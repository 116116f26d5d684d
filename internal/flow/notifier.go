package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hunchunmed/leadbot/internal/messaging"
	"github.com/hunchunmed/leadbot/internal/models"
)

// Notifier pushes structured alerts to the operator. Delivery is best-effort:
// failures are logged and never propagate to the caller.
type Notifier struct {
	service  messaging.Service
	operator string
}

// NewNotifier creates a Notifier targeting the given operator identity.
func NewNotifier(service messaging.Service, operator string) *Notifier {
	return &Notifier{service: service, operator: operator}
}

// Operator returns the operator identity notifications are sent to.
func (n *Notifier) Operator() string {
	return n.operator
}

// Notify sends a structured alert about a lead to the operator.
func (n *Notifier) Notify(ctx context.Context, lead *models.LeadRecord, message string, kind models.NotificationKind) {
	if n.operator == "" {
		slog.Debug("Notifier skipping alert, no operator configured", "kind", kind)
		return
	}

	header := fmt.Sprintf("[%s] %s", kind, leadLabel(lead))
	body := header + "\n" + message
	if err := n.service.SendText(ctx, n.operator, body, models.NoAffordance); err != nil {
		slog.Error("Notifier failed to deliver alert", "error", err, "kind", kind, "identity", lead.Identity)
		return
	}
	slog.Debug("Notifier delivered alert", "kind", kind, "identity", lead.Identity)
}

// NotifyText sends a plain text notice to the operator, unrelated to any
// particular lead.
func (n *Notifier) NotifyText(ctx context.Context, message string) error {
	if n.operator == "" {
		return fmt.Errorf("no operator configured")
	}
	return n.service.SendText(ctx, n.operator, message, models.NoAffordance)
}

// BuildDigest renders the most recent DigestMessageCount entries of a message
// log as a compact transcript for operator alerts.
func BuildDigest(entries []models.MessageEntry) string {
	if len(entries) == 0 {
		return "(no messages yet)"
	}
	start := 0
	if len(entries) > DigestMessageCount {
		start = len(entries) - DigestMessageCount
	}
	var b strings.Builder
	for _, e := range entries[start:] {
		label := "Lead"
		if e.Sender == models.SenderAgent {
			label = "Bot"
		}
		fmt.Fprintf(&b, "%s: %s\n", label, e.Text)
	}
	return strings.TrimRight(b.String(), "\n")
}

// leadLabel renders the most specific human-readable label available.
func leadLabel(lead *models.LeadRecord) string {
	switch {
	case lead.DisplayName != "" && lead.Handle != "":
		return fmt.Sprintf("%s (@%s, %s)", lead.DisplayName, lead.Handle, lead.Identity)
	case lead.DisplayName != "":
		return fmt.Sprintf("%s (%s)", lead.DisplayName, lead.Identity)
	default:
		return lead.Identity
	}
}
