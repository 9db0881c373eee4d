// Package journal records an append-only event history for every session
// in a SQLite database. The journal is observability only: orchestration
// decisions are always taken from the session record, never from here.
package journal

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Event types written by the orchestration loop and the CLI.
const (
	EventSessionPlanned    = "session_planned"
	EventSessionStarted    = "session_started"
	EventSessionCompleted  = "session_completed"
	EventSessionFailed     = "session_failed"
	EventSessionArchived   = "session_archived"
	EventPhaseDispatched   = "phase_dispatched"
	EventPhaseCompleted    = "phase_completed"
	EventPhaseRetried      = "phase_retried"
	EventOwnershipWarning  = "ownership_warning"
	EventApprovalProposed  = "approval_proposed"
	EventApprovalConfirmed = "approval_confirmed"
	EventApprovalRejected  = "approval_rejected"
)

// Event is one journal row.
type Event struct {
	ID           int64
	SessionTitle string
	PhaseIndex   int
	Worker       string
	Type         string
	Detail       string
	CreatedAt    time.Time
}

// Journal is the SQLite-backed event log.
type Journal struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	session_title TEXT NOT NULL,
	phase_index   INTEGER NOT NULL DEFAULT -1,
	worker        TEXT NOT NULL DEFAULT '',
	event_type    TEXT NOT NULL,
	detail        TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_title, id);
`

// Open opens (creating if needed) the journal database at path.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init journal schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record appends one event. PhaseIndex -1 marks a session-level event.
func (j *Journal) Record(sessionTitle string, phaseIndex int, worker, eventType, detail string) error {
	_, err := j.db.Exec(
		`INSERT INTO events (session_title, phase_index, worker, event_type, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sessionTitle, phaseIndex, worker, eventType, detail, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

// Tail returns the most recent events, newest last.
func (j *Journal) Tail(limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.Query(
		`SELECT id, session_title, phase_index, worker, event_type, detail, created_at
		 FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.SessionTitle, &e.PhaseIndex, &e.Worker, &e.Type, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Reverse to chronological order.
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

// Nop is a Journal sink that drops everything, used when journaling is
// disabled in config.
type Nop struct{}

func (Nop) Record(string, int, string, string, string) error { return nil }
func (Nop) Close() error                                     { return nil }

// Sink is the write-side interface the loop depends on.
type Sink interface {
	Record(sessionTitle string, phaseIndex int, worker, eventType, detail string) error
	Close() error
}
