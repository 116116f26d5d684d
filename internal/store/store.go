// Package store provides storage backends for leadbot.
//
// It defines the lead repository contract consumed by the flow engine and
// includes an in-memory implementation for tests alongside SQLite and
// PostgreSQL backends.
package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hunchunmed/leadbot/internal/models"
)

// Store is the lead repository contract. Every update operation targeting an
// identity that was never created returns models.ErrLeadNotFound; the
// sequencer's first-contact path is the only caller allowed to create records.
type Store interface {
	// GetLead returns the record for identity, or (nil, nil) when absent.
	GetLead(identity string) (*models.LeadRecord, error)
	// CreateLead persists a new record. Fails with models.ErrDuplicateLead
	// if the identity already exists.
	CreateLead(lead models.LeadRecord) (*models.LeadRecord, error)
	// ListLeads returns all records ordered by registration time.
	ListLeads() ([]models.LeadRecord, error)

	// SetDisplayName stores the captured name and clears the awaiting-name
	// flag in the same update.
	SetDisplayName(identity, name string) (*models.LeadRecord, error)
	// SetProblemPending arms or clears the awaiting-problem flag.
	SetProblemPending(identity string, pending bool) (*models.LeadRecord, error)
	// SetPhonePending arms or clears the awaiting-phone flag.
	SetPhonePending(identity string, pending bool) (*models.LeadRecord, error)
	// SetPhone stores the captured phone and clears the awaiting-phone flag
	// in the same update. Last write wins.
	SetPhone(identity, phone string) (*models.LeadRecord, error)
	// SetSilenced flips the silence flag, recording the silencing time so
	// the expiry sweep can find stale silences.
	SetSilenced(identity string, silenced bool) (*models.LeadRecord, error)
	// MarkHandoff timestamps the most recent transfer to a human.
	MarkHandoff(identity string) (*models.LeadRecord, error)
	// ResetLead clears the stage flags, silence, phone, handoff timestamp
	// and history snapshot, then re-arms awaiting-name. The identity and
	// its message log survive.
	ResetLead(identity string) (*models.LeadRecord, error)
	// TouchLastActive bumps the last-activity timestamp.
	TouchLastActive(identity string) error
	// SaveHistorySnapshot stores the advisory recent-turn digest.
	SaveHistorySnapshot(identity, snapshot string) error
	// ListSilencedBefore returns leads silenced at or before cutoff.
	ListSilencedBefore(cutoff time.Time) ([]models.LeadRecord, error)

	// AppendMessage appends an immutable entry to the lead's message log.
	AppendMessage(identity string, sender models.Sender, text string) (*models.MessageEntry, error)
	// ListMessages returns the lead's log oldest first. A positive limit
	// tail-limits the result to the most recent entries.
	ListMessages(identity string, limit int) ([]models.MessageEntry, error)

	// Close releases backend resources.
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string // database connection string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType reports "postgres" for PostgreSQL-style connection strings
// and "sqlite" for everything else (treated as a file path).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite"
}

// InMemoryStore is a Store kept entirely in process memory. It backs tests
// and small single-process deployments.
type InMemoryStore struct {
	mu       sync.RWMutex
	leads    map[string]*models.LeadRecord
	messages map[string][]models.MessageEntry
	nextID   int64
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		leads:    make(map[string]*models.LeadRecord),
		messages: make(map[string][]models.MessageEntry),
	}
}

// GetLead returns the record for identity, or (nil, nil) when absent.
func (s *InMemoryStore) GetLead(identity string) (*models.LeadRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.leads[identity]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

// CreateLead persists a new record.
func (s *InMemoryStore) CreateLead(lead models.LeadRecord) (*models.LeadRecord, error) {
	if lead.Identity == "" {
		return nil, models.ErrEmptyIdentity
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.leads[lead.Identity]; ok {
		return nil, models.ErrDuplicateLead
	}
	now := time.Now()
	if lead.RegisteredAt.IsZero() {
		lead.RegisteredAt = now
	}
	if lead.LastActiveAt.IsZero() {
		lead.LastActiveAt = now
	}
	cp := lead
	s.leads[lead.Identity] = &cp
	out := cp
	return &out, nil
}

// ListLeads returns all records ordered by registration time.
func (s *InMemoryStore) ListLeads() ([]models.LeadRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.LeadRecord, 0, len(s.leads))
	for _, rec := range s.leads {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RegisteredAt.Before(out[j].RegisteredAt) })
	return out, nil
}

// update applies fn to the record for identity under the write lock.
func (s *InMemoryStore) update(identity string, fn func(*models.LeadRecord)) (*models.LeadRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.leads[identity]
	if !ok {
		return nil, models.ErrLeadNotFound
	}
	fn(rec)
	rec.LastActiveAt = time.Now()
	cp := *rec
	return &cp, nil
}

// SetDisplayName stores the captured name and clears the awaiting-name flag.
func (s *InMemoryStore) SetDisplayName(identity, name string) (*models.LeadRecord, error) {
	return s.update(identity, func(r *models.LeadRecord) {
		r.DisplayName = name
		r.AwaitingName = false
	})
}

// SetProblemPending arms or clears the awaiting-problem flag.
func (s *InMemoryStore) SetProblemPending(identity string, pending bool) (*models.LeadRecord, error) {
	return s.update(identity, func(r *models.LeadRecord) {
		r.AwaitingProblem = pending
	})
}

// SetPhonePending arms or clears the awaiting-phone flag.
func (s *InMemoryStore) SetPhonePending(identity string, pending bool) (*models.LeadRecord, error) {
	return s.update(identity, func(r *models.LeadRecord) {
		r.AwaitingPhone = pending
	})
}

// SetPhone stores the captured phone and clears the awaiting-phone flag.
func (s *InMemoryStore) SetPhone(identity, phone string) (*models.LeadRecord, error) {
	return s.update(identity, func(r *models.LeadRecord) {
		r.Phone = phone
		r.AwaitingPhone = false
	})
}

// SetSilenced flips the silence flag.
func (s *InMemoryStore) SetSilenced(identity string, silenced bool) (*models.LeadRecord, error) {
	return s.update(identity, func(r *models.LeadRecord) {
		r.Silenced = silenced
		if silenced {
			now := time.Now()
			r.SilencedAt = &now
		} else {
			r.SilencedAt = nil
		}
	})
}

// MarkHandoff timestamps the most recent transfer to a human.
func (s *InMemoryStore) MarkHandoff(identity string) (*models.LeadRecord, error) {
	return s.update(identity, func(r *models.LeadRecord) {
		now := time.Now()
		r.LastHandoffAt = &now
	})
}

// ResetLead clears transient state and re-arms awaiting-name.
func (s *InMemoryStore) ResetLead(identity string) (*models.LeadRecord, error) {
	return s.update(identity, func(r *models.LeadRecord) {
		r.AwaitingName = true
		r.AwaitingProblem = false
		r.AwaitingPhone = false
		r.Silenced = false
		r.SilencedAt = nil
		r.Phone = ""
		r.LastHandoffAt = nil
		r.HistorySnapshot = ""
	})
}

// TouchLastActive bumps the last-activity timestamp.
func (s *InMemoryStore) TouchLastActive(identity string) error {
	_, err := s.update(identity, func(r *models.LeadRecord) {})
	return err
}

// SaveHistorySnapshot stores the advisory recent-turn digest.
func (s *InMemoryStore) SaveHistorySnapshot(identity, snapshot string) error {
	_, err := s.update(identity, func(r *models.LeadRecord) {
		r.HistorySnapshot = snapshot
	})
	return err
}

// ListSilencedBefore returns leads silenced at or before cutoff.
func (s *InMemoryStore) ListSilencedBefore(cutoff time.Time) ([]models.LeadRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.LeadRecord
	for _, rec := range s.leads {
		if rec.Silenced && rec.SilencedAt != nil && !rec.SilencedAt.After(cutoff) {
			out = append(out, *rec)
		}
	}
	return out, nil
}

// AppendMessage appends an immutable entry to the lead's message log.
func (s *InMemoryStore) AppendMessage(identity string, sender models.Sender, text string) (*models.MessageEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.leads[identity]; !ok {
		return nil, models.ErrLeadNotFound
	}
	s.nextID++
	entry := models.MessageEntry{
		ID:       s.nextID,
		LeadID:   identity,
		Sender:   sender,
		Text:     text,
		Occurred: time.Now(),
	}
	s.messages[identity] = append(s.messages[identity], entry)
	return &entry, nil
}

// ListMessages returns the lead's log oldest first, optionally tail-limited.
func (s *InMemoryStore) ListMessages(identity string, limit int) ([]models.MessageEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.messages[identity]
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	out := make([]models.MessageEntry, len(entries))
	copy(out, entries)
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
