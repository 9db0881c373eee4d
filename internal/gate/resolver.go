package gate

import (
	"fmt"
	"time"

	derrors "dirigent/internal/errors"
	"dirigent/internal/session"
)

// Resolver applies confirmed proposals to the session record. It is the
// only code path that performs a session's terminal mutation.
type Resolver struct {
	gate  *Gate
	store *session.Store
}

// NewResolver returns a Resolver over the given gate and store.
func NewResolver(g *Gate, store *session.Store) *Resolver {
	return &Resolver{gate: g, store: store}
}

// Confirm applies the staged proposal with the given ID: the terminal
// phase is marked done with the staged summary, the record is marked
// complete, and the record is archived. Returns the archive ID.
//
// Confirmation is durable before mutation: the staged file is what makes
// the action applicable, so a crash between confirm and apply leaves the
// terminal phase undone and a rerun re-stages the same proposal.
func (r *Resolver) Confirm(id string) (*Pending, int, error) {
	p, err := r.gate.Pending()
	if err != nil {
		return nil, 0, err
	}
	if p == nil || p.ID != id {
		return nil, 0, derrors.ErrApprovalUnknown(id)
	}

	rec, _, err := r.store.Load()
	if err != nil {
		return nil, 0, err
	}
	if rec == nil {
		// A staged proposal with no record behind it is an orphan: the
		// record can only vanish through an archive, so a prior apply
		// crashed after archiving but before clearing the stage. Clear it
		// now so the slot is usable again.
		if _, takeErr := r.gate.take(id); takeErr != nil {
			return nil, 0, takeErr
		}
		return nil, 0, derrors.ErrNoSession()
	}
	if p.Action != ActionComplete {
		return nil, 0, fmt.Errorf("unknown proposal action %q", p.Action)
	}

	if err := rec.CompletePhase(p.PhaseIndex, p.Summary, p.FilesTouched, time.Now().UTC()); err != nil {
		return nil, 0, err
	}
	if err := rec.MarkComplete(); err != nil {
		return nil, 0, err
	}

	archiveID, err := r.store.Archive(rec)
	if err != nil {
		return nil, 0, err
	}

	// Clear the staged file last so a crash mid-apply stays resumable.
	if _, err := r.gate.take(id); err != nil {
		return nil, 0, err
	}
	return p, archiveID, nil
}
