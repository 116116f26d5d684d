package store

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hunchunmed/leadbot/internal/models"
)

// dbStore implements Store on top of database/sql and is shared by the
// SQLite and Postgres backends. Queries are written with '?' placeholders
// and rebound to '$n' when the backend requires it.
type dbStore struct {
	db       *sql.DB
	postgres bool
}

// rebind converts '?' placeholders to '$n' for Postgres.
func (s *dbStore) rebind(query string) string {
	if !s.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const leadColumns = `identity, display_name, handle, chat_address, phone,
	awaiting_name, awaiting_problem, awaiting_phone,
	silenced, silenced_at, last_handoff_at,
	registered_at, last_active_at, history_snapshot`

// rowScanner abstracts sql.Row and sql.Rows for the scan helpers.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanLead scans a full lead row.
func scanLead(row rowScanner) (*models.LeadRecord, error) {
	var r models.LeadRecord
	var silencedAt, handoffAt sql.NullTime
	err := row.Scan(
		&r.Identity, &r.DisplayName, &r.Handle, &r.ChatAddress, &r.Phone,
		&r.AwaitingName, &r.AwaitingProblem, &r.AwaitingPhone,
		&r.Silenced, &silencedAt, &handoffAt,
		&r.RegisteredAt, &r.LastActiveAt, &r.HistorySnapshot,
	)
	if err != nil {
		return nil, err
	}
	if silencedAt.Valid {
		r.SilencedAt = &silencedAt.Time
	}
	if handoffAt.Valid {
		r.LastHandoffAt = &handoffAt.Time
	}
	return &r, nil
}

// scanMessage scans a message log row.
func scanMessage(row rowScanner) (*models.MessageEntry, error) {
	var m models.MessageEntry
	var sender string
	if err := row.Scan(&m.ID, &m.LeadID, &sender, &m.Text, &m.Occurred); err != nil {
		return nil, err
	}
	m.Sender = models.Sender(sender)
	return &m, nil
}

func (s *dbStore) GetLead(identity string) (*models.LeadRecord, error) {
	row := s.db.QueryRow(s.rebind(`SELECT `+leadColumns+` FROM leads WHERE identity = ?`), identity)
	rec, err := scanLead(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query lead %s: %w", identity, err)
	}
	return rec, nil
}

func (s *dbStore) CreateLead(lead models.LeadRecord) (*models.LeadRecord, error) {
	if lead.Identity == "" {
		return nil, models.ErrEmptyIdentity
	}
	existing, err := s.GetLead(lead.Identity)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, models.ErrDuplicateLead
	}
	now := time.Now()
	if lead.RegisteredAt.IsZero() {
		lead.RegisteredAt = now
	}
	if lead.LastActiveAt.IsZero() {
		lead.LastActiveAt = now
	}
	_, err = s.db.Exec(s.rebind(`INSERT INTO leads (`+leadColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		lead.Identity, lead.DisplayName, lead.Handle, lead.ChatAddress, lead.Phone,
		lead.AwaitingName, lead.AwaitingProblem, lead.AwaitingPhone,
		lead.Silenced, lead.SilencedAt, lead.LastHandoffAt,
		lead.RegisteredAt, lead.LastActiveAt, lead.HistorySnapshot,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert lead %s: %w", lead.Identity, err)
	}
	return &lead, nil
}

func (s *dbStore) ListLeads() ([]models.LeadRecord, error) {
	rows, err := s.db.Query(`SELECT ` + leadColumns + ` FROM leads ORDER BY registered_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query leads: %w", err)
	}
	defer rows.Close()
	var out []models.LeadRecord
	for rows.Next() {
		rec, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lead row: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate lead rows: %w", err)
	}
	return out, nil
}

// exec runs an update statement and maps a zero-row result to ErrLeadNotFound.
func (s *dbStore) exec(query string, args ...interface{}) error {
	res, err := s.db.Exec(s.rebind(query), args...)
	if err != nil {
		return fmt.Errorf("lead update failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("lead update rows affected: %w", err)
	}
	if n == 0 {
		return models.ErrLeadNotFound
	}
	return nil
}

// execAndGet runs an update and returns the fresh record.
func (s *dbStore) execAndGet(identity, query string, args ...interface{}) (*models.LeadRecord, error) {
	if err := s.exec(query, args...); err != nil {
		return nil, err
	}
	return s.GetLead(identity)
}

func (s *dbStore) SetDisplayName(identity, name string) (*models.LeadRecord, error) {
	return s.execAndGet(identity,
		`UPDATE leads SET display_name = ?, awaiting_name = ?, last_active_at = ? WHERE identity = ?`,
		name, false, time.Now(), identity)
}

func (s *dbStore) SetProblemPending(identity string, pending bool) (*models.LeadRecord, error) {
	return s.execAndGet(identity,
		`UPDATE leads SET awaiting_problem = ?, last_active_at = ? WHERE identity = ?`,
		pending, time.Now(), identity)
}

func (s *dbStore) SetPhonePending(identity string, pending bool) (*models.LeadRecord, error) {
	return s.execAndGet(identity,
		`UPDATE leads SET awaiting_phone = ?, last_active_at = ? WHERE identity = ?`,
		pending, time.Now(), identity)
}

func (s *dbStore) SetPhone(identity, phone string) (*models.LeadRecord, error) {
	return s.execAndGet(identity,
		`UPDATE leads SET phone = ?, awaiting_phone = ?, last_active_at = ? WHERE identity = ?`,
		phone, false, time.Now(), identity)
}

func (s *dbStore) SetSilenced(identity string, silenced bool) (*models.LeadRecord, error) {
	var silencedAt interface{}
	if silenced {
		silencedAt = time.Now()
	}
	return s.execAndGet(identity,
		`UPDATE leads SET silenced = ?, silenced_at = ?, last_active_at = ? WHERE identity = ?`,
		silenced, silencedAt, time.Now(), identity)
}

func (s *dbStore) MarkHandoff(identity string) (*models.LeadRecord, error) {
	return s.execAndGet(identity,
		`UPDATE leads SET last_handoff_at = ?, last_active_at = ? WHERE identity = ?`,
		time.Now(), time.Now(), identity)
}

func (s *dbStore) ResetLead(identity string) (*models.LeadRecord, error) {
	return s.execAndGet(identity,
		`UPDATE leads SET awaiting_name = ?, awaiting_problem = ?, awaiting_phone = ?,
			silenced = ?, silenced_at = NULL, phone = '', last_handoff_at = NULL,
			history_snapshot = '', last_active_at = ? WHERE identity = ?`,
		true, false, false, false, time.Now(), identity)
}

func (s *dbStore) TouchLastActive(identity string) error {
	return s.exec(`UPDATE leads SET last_active_at = ? WHERE identity = ?`, time.Now(), identity)
}

func (s *dbStore) SaveHistorySnapshot(identity, snapshot string) error {
	return s.exec(`UPDATE leads SET history_snapshot = ?, last_active_at = ? WHERE identity = ?`,
		snapshot, time.Now(), identity)
}

func (s *dbStore) ListSilencedBefore(cutoff time.Time) ([]models.LeadRecord, error) {
	rows, err := s.db.Query(s.rebind(`SELECT `+leadColumns+` FROM leads WHERE silenced = ? AND silenced_at <= ?`), true, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query silenced leads: %w", err)
	}
	defer rows.Close()
	var out []models.LeadRecord
	for rows.Next() {
		rec, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan silenced lead: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (s *dbStore) AppendMessage(identity string, sender models.Sender, text string) (*models.MessageEntry, error) {
	rec, err := s.GetLead(identity)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, models.ErrLeadNotFound
	}
	entry := models.MessageEntry{LeadID: identity, Sender: sender, Text: text, Occurred: time.Now()}
	if s.postgres {
		row := s.db.QueryRow(s.rebind(`INSERT INTO messages (lead_id, sender, text, occurred) VALUES (?, ?, ?, ?) RETURNING id`),
			identity, string(sender), text, entry.Occurred)
		if err := row.Scan(&entry.ID); err != nil {
			return nil, fmt.Errorf("failed to insert message for %s: %w", identity, err)
		}
		return &entry, nil
	}
	res, err := s.db.Exec(`INSERT INTO messages (lead_id, sender, text, occurred) VALUES (?, ?, ?, ?)`,
		identity, string(sender), text, entry.Occurred)
	if err != nil {
		return nil, fmt.Errorf("failed to insert message for %s: %w", identity, err)
	}
	entry.ID, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read message id: %w", err)
	}
	return &entry, nil
}

func (s *dbStore) ListMessages(identity string, limit int) ([]models.MessageEntry, error) {
	query := `SELECT id, lead_id, sender, text, occurred FROM messages WHERE lead_id = ? ORDER BY occurred, id`
	args := []interface{}{identity}
	if limit > 0 {
		// Tail-limit: take the newest N, then restore oldest-first order.
		query = `SELECT id, lead_id, sender, text, occurred FROM (
			SELECT id, lead_id, sender, text, occurred FROM messages
			WHERE lead_id = ? ORDER BY occurred DESC, id DESC LIMIT ?
		) tail ORDER BY occurred, id`
		args = append(args, limit)
	}
	rows, err := s.db.Query(s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages for %s: %w", identity, err)
	}
	defer rows.Close()
	var out []models.MessageEntry
	for rows.Next() {
		entry, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		out = append(out, *entry)
	}
	return out, rows.Err()
}

func (s *dbStore) Close() error {
	return s.db.Close()
}
