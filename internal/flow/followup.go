package flow

import (
	"log/slog"
	"sync"
	"time"
)

// FollowUpScheduler manages the deferred secondary prompts sent shortly after
// phone capture. Timers are keyed by identity so a reset or a later stage
// change can cancel a stale pending prompt.
type FollowUpScheduler struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewFollowUpScheduler creates an empty scheduler.
func NewFollowUpScheduler() *FollowUpScheduler {
	slog.Debug("Creating FollowUpScheduler")
	return &FollowUpScheduler{timers: make(map[string]*time.Timer)}
}

// Schedule runs fn after delay for the given identity, replacing any pending
// follow-up for the same identity.
func (f *FollowUpScheduler) Schedule(identity string, delay time.Duration, fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if existing, ok := f.timers[identity]; ok {
		existing.Stop()
		slog.Debug("FollowUpScheduler replaced pending follow-up", "identity", identity)
	}

	f.timers[identity] = time.AfterFunc(delay, func() {
		f.mu.Lock()
		delete(f.timers, identity)
		f.mu.Unlock()
		slog.Debug("FollowUpScheduler firing follow-up", "identity", identity)
		fn()
	})
	slog.Debug("FollowUpScheduler scheduled follow-up", "identity", identity, "delay", delay)
}

// Cancel drops any pending follow-up for the identity.
func (f *FollowUpScheduler) Cancel(identity string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.timers[identity]; ok {
		t.Stop()
		delete(f.timers, identity)
		slog.Debug("FollowUpScheduler cancelled follow-up", "identity", identity)
	}
}

// Stop cancels all pending follow-ups.
func (f *FollowUpScheduler) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	slog.Debug("FollowUpScheduler stopping all follow-ups", "count", len(f.timers))
	for identity, t := range f.timers {
		t.Stop()
		delete(f.timers, identity)
	}
}
