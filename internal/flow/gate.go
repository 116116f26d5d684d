package flow

import (
	"log/slog"

	"github.com/hunchunmed/leadbot/internal/models"
)

// GateAction is the decision produced by the activation/silence gate.
type GateAction int

const (
	// GatePass lets the event continue to normal processing.
	GatePass GateAction = iota
	// GateSuppress drops the event silently.
	GateSuppress
	// GateReactivate clears the silenced flag, emits a short notice, then
	// continues normal processing of the same event.
	GateReactivate
)

// String returns a human-readable name for logging.
func (a GateAction) String() string {
	switch a {
	case GatePass:
		return "pass"
	case GateSuppress:
		return "suppress"
	case GateReactivate:
		return "reactivate"
	default:
		return "unknown"
	}
}

// Gate decides whether an inbound text event should be suppressed before any
// other processing. It holds no mutable state; the silenced flag lives on the
// lead record so independent dispatcher instances stay isolated.
type Gate struct {
	keywords []string
}

// NewGate creates a gate with the given activation keywords, defaulting to
// ActivationKeywords when none are given.
func NewGate(keywords ...string) *Gate {
	if len(keywords) == 0 {
		keywords = ActivationKeywords
	}
	return &Gate{keywords: keywords}
}

// Check evaluates the gate rules in order for a text event. Group messages
// require an activation keyword; silenced leads require one to reactivate;
// everything else passes. lead may be nil for first-contact events.
func (g *Gate) Check(lead *models.LeadRecord, event models.IncomingEvent) GateAction {
	if event.Group {
		if !containsAnyKeyword(event.Text, g.keywords) {
			slog.Debug("Gate suppressing group message without activation keyword", "from", event.From)
			return GateSuppress
		}
		return GatePass
	}
	if lead != nil && lead.Silenced {
		if containsAnyKeyword(event.Text, g.keywords) {
			slog.Info("Gate reactivating silenced lead", "identity", lead.Identity)
			return GateReactivate
		}
		slog.Debug("Gate suppressing message from silenced lead", "identity", lead.Identity)
		return GateSuppress
	}
	return GatePass
}
