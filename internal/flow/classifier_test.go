package flow

import (
	"strings"
	"testing"

	"github.com/hunchunmed/leadbot/internal/models"
)

func TestClassifyReply(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  ReplyAction
	}{
		{"plain reply", "Our clinic offers full dental diagnostics.", ActionDefault},
		{"transfer marker", "Of course. " + MarkerTransfer + ".", ActionTransfer},
		{"silence marker", "No problem, " + MarkerSilence + ".", ActionSilence},
		{"reset marker", "Alright, " + MarkerReset + "!", ActionReset},
		{"private invite marker", "Sure, " + MarkerPrivateInvite + ".", ActionPrivateInvite},
		{"case insensitive", strings.ToUpper(MarkerSilence), ActionSilence},
		{"empty reply", "", ActionDefault},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyReply(tt.reply); got != tt.want {
				t.Errorf("ClassifyReply(%q) = %s, want %s", tt.reply, got, tt.want)
			}
		})
	}
}

// Multiple markers in one reply resolve by fixed priority, not text order.
func TestClassifyReplyPriority(t *testing.T) {
	reply := MarkerPrivateInvite + " " + MarkerSilence + " " + MarkerTransfer
	if got := ClassifyReply(reply); got != ActionTransfer {
		t.Errorf("transfer should win over all: got %s", got)
	}
	reply = MarkerReset + " " + MarkerSilence
	if got := ClassifyReply(reply); got != ActionSilence {
		t.Errorf("silence should win over reset: got %s", got)
	}
	reply = MarkerPrivateInvite + " " + MarkerReset
	if got := ClassifyReply(reply); got != ActionReset {
		t.Errorf("reset should win over private invite: got %s", got)
	}
}

func TestCheckReadiness(t *testing.T) {
	entry := func(sender models.Sender, n int) models.MessageEntry {
		return models.MessageEntry{Sender: sender, Text: strings.Repeat("x", n)}
	}

	// One long user message is not enough.
	if CheckReadiness([]models.MessageEntry{entry(models.SenderUser, 80)}) {
		t.Error("single 80-char message should refuse")
	}

	// Two user messages totaling 50+ pass.
	if !CheckReadiness([]models.MessageEntry{entry(models.SenderUser, 25), entry(models.SenderUser, 25)}) {
		t.Error("two messages totaling 50 should pass")
	}

	// Two short user messages below the char threshold refuse.
	if CheckReadiness([]models.MessageEntry{entry(models.SenderUser, 10), entry(models.SenderUser, 10)}) {
		t.Error("two messages totaling 20 should refuse")
	}

	// Agent messages do not count.
	if CheckReadiness([]models.MessageEntry{
		entry(models.SenderUser, 40),
		entry(models.SenderAgent, 200),
	}) {
		t.Error("agent entries must not count toward readiness")
	}

	if CheckReadiness(nil) {
		t.Error("empty log should refuse")
	}
}
