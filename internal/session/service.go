package session

import (
	"time"

	derrors "dirigent/internal/errors"
)

// Service is the inspection interface over the store. It is the only
// mutator exposed to external callers besides the orchestration loop, and
// every mutation revalidates the record's invariants before it is applied.
type Service struct {
	store *Store
}

// NewService creates a service over store.
func NewService(store *Store) *Service {
	return &Service{store: store}
}

// StatusInfo is a point-in-time summary of the active session.
type StatusInfo struct {
	Title         string `json:"title"`
	PhaseNumber   int    `json:"phase_number"` // 1-based, clamped to total
	TotalPhases   int    `json:"total_phases"`
	CurrentWorker string `json:"current_worker"`
	Status        Status `json:"status"`
	Reason        string `json:"reason,omitempty"`
}

// Status returns the active session's status summary.
func (s *Service) Status() (*StatusInfo, error) {
	rec, _, err := s.store.Load()
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, derrors.ErrNoSession()
	}

	num := rec.FirstUndone() + 1
	if num > len(rec.Phases) {
		num = len(rec.Phases)
	}
	return &StatusInfo{
		Title:         rec.Title,
		PhaseNumber:   num,
		TotalPhases:   len(rec.Phases),
		CurrentWorker: rec.CurrentWorker(),
		Status:        rec.Status,
		Reason:        rec.FailReason,
	}, nil
}

// NextPhase returns the first incomplete phase, or nil when every phase is
// done.
func (s *Service) NextPhase() (*Phase, error) {
	rec, _, err := s.store.Load()
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, derrors.ErrNoSession()
	}

	i := rec.FirstUndone()
	if i >= len(rec.Phases) {
		return nil, nil
	}
	p := rec.Phases[i]
	return &p, nil
}

// MarkPhaseComplete marks the phase at index (0-based) done with the given
// notes and persists the record. It refuses any index other than the first
// incomplete phase, so external callers cannot complete phases out of
// order.
func (s *Service) MarkPhaseComplete(index int, notes string, files []string) error {
	rec, _, err := s.store.Load()
	if err != nil {
		return err
	}
	if rec == nil {
		return derrors.ErrNoSession()
	}

	if err := rec.Start(); err != nil {
		return derrors.ErrFormatViolation(err.Error())
	}
	if err := rec.CompletePhase(index, notes, files, time.Now()); err != nil {
		return derrors.ErrFormatViolation(err.Error())
	}
	return s.store.Save(rec)
}

// IsComplete reports whether every phase of the active session is done.
func (s *Service) IsComplete() (bool, error) {
	rec, _, err := s.store.Load()
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, derrors.ErrNoSession()
	}
	return rec.AllDone(), nil
}
