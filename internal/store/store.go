// Package store provides SQLite-backed diagnostics persistence for nightshift.
// It holds the transition log, repair log, recovery attempts and audit trail;
// it is a postmortem surface, never an authority for recovery decisions.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fentz26/nightshift/internal/models"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store provides access to the nightshift SQLite database.
type Store struct {
	db *sql.DB
}

// New creates a new Store and runs migrations.
func New(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Open with WAL mode for better concurrency
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS transitions (
		id TEXT PRIMARY KEY,
		from_phase TEXT NOT NULL,
		to_phase TEXT NOT NULL,
		reason TEXT,
		succeeded INTEGER NOT NULL,
		emergency INTEGER NOT NULL,
		timestamp DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS repairs (
		id TEXT PRIMARY KEY,
		description TEXT NOT NULL,
		success INTEGER NOT NULL,
		timestamp DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS recovery_attempts (
		id TEXT PRIMARY KEY,
		transition_id TEXT NOT NULL,
		strategy TEXT NOT NULL,
		target TEXT NOT NULL,
		attempt INTEGER NOT NULL,
		success INTEGER NOT NULL,
		timestamp DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS trail (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		inputs_hash TEXT NOT NULL,
		outcome TEXT NOT NULL,
		subject_id TEXT,
		details TEXT,
		timestamp DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transitions_timestamp ON transitions(timestamp);
	CREATE INDEX IF NOT EXISTS idx_recovery_transition_id ON recovery_attempts(transition_id);
	CREATE INDEX IF NOT EXISTS idx_trail_action ON trail(action);
	`

	_, err := s.db.Exec(schema)
	return err
}

// --- Transition Log ---

// RecordTransition appends a transition record to the diagnostics log.
func (s *Store) RecordTransition(rec models.TransitionRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO transitions (id, from_phase, to_phase, reason, succeeded, emergency, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), rec.From, rec.To, rec.Reason, rec.Succeeded, rec.Emergency, rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}
	return nil
}

// ListTransitions returns the most recent transition records, newest first.
func (s *Store) ListTransitions(limit int) ([]models.TransitionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT from_phase, to_phase, reason, succeeded, emergency, timestamp FROM transitions ORDER BY timestamp DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	var recs []models.TransitionRecord
	for rows.Next() {
		var rec models.TransitionRecord
		if err := rows.Scan(&rec.From, &rec.To, &rec.Reason, &rec.Succeeded, &rec.Emergency, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// --- Repair Log ---

// RecordRepair appends a repair operation to the diagnostics log.
func (s *Store) RecordRepair(op models.RepairOperation) error {
	_, err := s.db.Exec(
		`INSERT INTO repairs (id, description, success, timestamp) VALUES (?, ?, ?, ?)`,
		op.ID, op.Description, op.Success, op.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert repair: %w", err)
	}
	return nil
}

// ListRepairs returns the most recent repair operations, newest first.
func (s *Store) ListRepairs(limit int) ([]models.RepairOperation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, description, success, timestamp FROM repairs ORDER BY timestamp DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query repairs: %w", err)
	}
	defer rows.Close()

	var ops []models.RepairOperation
	for rows.Next() {
		var op models.RepairOperation
		if err := rows.Scan(&op.ID, &op.Description, &op.Success, &op.Timestamp); err != nil {
			return nil, fmt.Errorf("scan repair: %w", err)
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// --- Recovery Attempts ---

// RecordRecovery appends a guarantor recovery attempt.
func (s *Store) RecordRecovery(rec models.RecoveryRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO recovery_attempts (id, transition_id, strategy, target, attempt, success, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.TransitionID, rec.Strategy, rec.Target, rec.Attempt, rec.Success, rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert recovery attempt: %w", err)
	}
	return nil
}

// ListRecoveries returns the most recent recovery attempts, newest first.
func (s *Store) ListRecoveries(limit int) ([]models.RecoveryRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, transition_id, strategy, target, attempt, success, timestamp FROM recovery_attempts ORDER BY timestamp DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recovery attempts: %w", err)
	}
	defer rows.Close()

	var recs []models.RecoveryRecord
	for rows.Next() {
		var rec models.RecoveryRecord
		if err := rows.Scan(&rec.ID, &rec.TransitionID, &rec.Strategy, &rec.Target, &rec.Attempt, &rec.Success, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("scan recovery attempt: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// --- Audit Trail ---

// WriteTrail writes an audit trail entry.
func (s *Store) WriteTrail(action, inputsHash, outcome, subjectID, details string) (*models.TrailEntry, error) {
	entry := &models.TrailEntry{
		ID:         uuid.New().String(),
		Action:     action,
		InputsHash: inputsHash,
		Outcome:    outcome,
		SubjectID:  subjectID,
		Details:    details,
		Timestamp:  time.Now().UTC(),
	}

	_, err := s.db.Exec(
		`INSERT INTO trail (id, action, inputs_hash, outcome, subject_id, details, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Action, entry.InputsHash, entry.Outcome, entry.SubjectID, entry.Details, entry.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert trail entry: %w", err)
	}
	return entry, nil
}

// ListTrail returns the most recent audit trail entries, newest first.
func (s *Store) ListTrail(limit int) ([]models.TrailEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, action, inputs_hash, outcome, subject_id, details, timestamp FROM trail ORDER BY timestamp DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query trail: %w", err)
	}
	defer rows.Close()

	var entries []models.TrailEntry
	for rows.Next() {
		var entry models.TrailEntry
		var subjectID, details sql.NullString
		if err := rows.Scan(&entry.ID, &entry.Action, &entry.InputsHash, &entry.Outcome, &subjectID, &details, &entry.Timestamp); err != nil {
			return nil, fmt.Errorf("scan trail entry: %w", err)
		}
		if subjectID.Valid {
			entry.SubjectID = subjectID.String
		}
		if details.Valid {
			entry.Details = details.String
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
