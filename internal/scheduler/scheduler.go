// Package scheduler provides cron-based background jobs for leadbot.
//
// Its main job is the silence-expiry sweep: leads muted by the escalation
// classifier are reactivated after the configured timeout.
package scheduler

import (
	"log/slog"
	"time"

	"github.com/hunchunmed/leadbot/internal/store"
	"github.com/robfig/cron/v3"
)

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	// Standard 5-field cron parser (min, hour, dom, month, dow) with recovery.
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

// AddSilenceSweep schedules an hourly sweep that unmutes leads silenced
// longer than timeout ago.
func (s *Scheduler) AddSilenceSweep(st store.Store, timeout time.Duration) error {
	return s.AddJob("0 * * * *", func() {
		SweepSilenced(st, timeout)
	})
}

// SweepSilenced reactivates all leads silenced at or before now-timeout.
// Failures on individual leads are logged and do not stop the sweep.
func SweepSilenced(st store.Store, timeout time.Duration) {
	cutoff := time.Now().Add(-timeout)
	leads, err := st.ListSilencedBefore(cutoff)
	if err != nil {
		slog.Error("Silence sweep failed to list silenced leads", "error", err)
		return
	}
	if len(leads) == 0 {
		return
	}
	slog.Info("Silence sweep reactivating leads", "count", len(leads), "cutoff", cutoff)
	for _, lead := range leads {
		if _, err := st.SetSilenced(lead.Identity, false); err != nil {
			slog.Error("Silence sweep failed to reactivate lead", "error", err, "identity", lead.Identity)
		}
	}
}
