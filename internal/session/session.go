// Package session provides the durable session record and its state store.
//
// A session record is the unit of durable state for one multi-phase task:
// an ordered phase list, a done-prefix cursor, and an append-only work log.
// Exactly one record is active at a time; completed or failed records move
// to a numbered archive.
package session

import (
	"fmt"
	"time"
)

// Status represents the execution status of a session.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
)

// IsValidStatus returns true if s is a valid status value.
func IsValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusInProgress, StatusComplete, StatusFailed:
		return true
	default:
		return false
	}
}

// NoWorker is the agent shown in the status block when no phase is current.
const NoWorker = "none"

// Phase is one unit of delegated work bound to exactly one worker.
// Index and Worker are fixed at creation; Done only ever flips false→true.
type Phase struct {
	Index       int
	Worker      string
	Description string
	Done        bool
}

// LogEntry records the outcome of one completed phase.
type LogEntry struct {
	PhaseIndex   int
	Worker       string
	Summary      string
	FilesTouched []string
	Timestamp    time.Time
}

// Record is the durable state of a multi-phase session.
type Record struct {
	Title      string
	Request    string
	Status     Status
	FailReason string
	Phases     []Phase
	Log        []LogEntry
}

// New creates a pending record with the given phases. Phase indexes are
// assigned from position.
func New(title, request string, phases []Phase) *Record {
	for i := range phases {
		phases[i].Index = i
		phases[i].Done = false
	}
	return &Record{
		Title:   title,
		Request: request,
		Status:  StatusPending,
		Phases:  phases,
	}
}

// FirstUndone returns the index of the first phase with Done == false,
// or len(Phases) when every phase is done.
func (r *Record) FirstUndone() int {
	for i := range r.Phases {
		if !r.Phases[i].Done {
			return i
		}
	}
	return len(r.Phases)
}

// CurrentIndex returns the 0-based execution cursor: the count of the done
// prefix. It equals len(Phases) exactly when all phases are done.
func (r *Record) CurrentIndex() int {
	return r.FirstUndone()
}

// CurrentWorker returns the worker bound to the current phase, or NoWorker
// when every phase is done.
func (r *Record) CurrentWorker() string {
	i := r.FirstUndone()
	if i >= len(r.Phases) {
		return NoWorker
	}
	return r.Phases[i].Worker
}

// AllDone returns true if every phase is done.
func (r *Record) AllDone() bool {
	return r.FirstUndone() == len(r.Phases)
}

// Start transitions a pending record to in_progress. No-op when already
// in progress.
func (r *Record) Start() error {
	switch r.Status {
	case StatusPending:
		r.Status = StatusInProgress
		return nil
	case StatusInProgress:
		return nil
	default:
		return fmt.Errorf("cannot start session in state %q", r.Status)
	}
}

// CompletePhase marks phase index done and appends the log entry. It fails
// unless index is the first undone phase, so phases can never complete out
// of order.
func (r *Record) CompletePhase(index int, summary string, files []string, at time.Time) error {
	if r.Status == StatusComplete || r.Status == StatusFailed {
		return fmt.Errorf("cannot complete phase of a %s session", r.Status)
	}
	first := r.FirstUndone()
	if first >= len(r.Phases) {
		return fmt.Errorf("no incomplete phases remain")
	}
	if index != first {
		return fmt.Errorf("phase %d is not the current phase (expected %d)", index, first)
	}

	r.Phases[index].Done = true
	r.Status = StatusInProgress
	r.Log = append(r.Log, LogEntry{
		PhaseIndex:   index,
		Worker:       r.Phases[index].Worker,
		Summary:      summary,
		FilesTouched: files,
		Timestamp:    at.UTC().Truncate(time.Second),
	})
	return nil
}

// MarkComplete transitions the record to complete. It fails unless every
// phase is done.
func (r *Record) MarkComplete() error {
	if !r.AllDone() {
		return fmt.Errorf("cannot complete session: phase %d is not done", r.FirstUndone())
	}
	r.Status = StatusComplete
	return nil
}

// Fail transitions the record to failed with the given reason.
func (r *Record) Fail(reason string) {
	r.Status = StatusFailed
	r.FailReason = reason
}

// Validate checks the structural invariants of the record. It is called on
// every parse and before every save; any violation fails closed.
func (r *Record) Validate() error {
	if r.Title == "" {
		return fmt.Errorf("empty session title")
	}
	if r.Request == "" {
		return fmt.Errorf("empty user request")
	}
	if !IsValidStatus(r.Status) {
		return fmt.Errorf("unknown status %q", r.Status)
	}
	if len(r.Phases) == 0 {
		return fmt.Errorf("session has no phases")
	}

	seenUndone := false
	for i, p := range r.Phases {
		if p.Index != i {
			return fmt.Errorf("phase %d has index %d", i, p.Index)
		}
		if p.Worker == "" {
			return fmt.Errorf("phase %d has no worker", i)
		}
		if p.Description == "" {
			return fmt.Errorf("phase %d has no description", i)
		}
		if p.Done && seenUndone {
			return fmt.Errorf("phase %d is done but phase %d is not", i, r.FirstUndone())
		}
		if !p.Done {
			seenUndone = true
		}
	}

	switch r.Status {
	case StatusPending:
		if r.FirstUndone() != 0 {
			return fmt.Errorf("pending session has completed phases")
		}
	case StatusComplete:
		if !r.AllDone() {
			return fmt.Errorf("complete session has undone phase %d", r.FirstUndone())
		}
	case StatusFailed:
		if r.FailReason == "" {
			return fmt.Errorf("failed session has no reason")
		}
	}

	for _, e := range r.Log {
		if e.PhaseIndex < 0 || e.PhaseIndex >= len(r.Phases) {
			return fmt.Errorf("log entry references phase %d of %d", e.PhaseIndex, len(r.Phases))
		}
	}

	return nil
}
