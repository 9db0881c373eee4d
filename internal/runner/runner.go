// Package runner drives a session to completion: it dispatches each
// undone phase to its worker, records outcomes into the session record,
// and gates the terminal action behind user approval.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"dirigent/internal/config"
	derrors "dirigent/internal/errors"
	"dirigent/internal/gate"
	"dirigent/internal/journal"
	"dirigent/internal/lock"
	"dirigent/internal/registry"
	"dirigent/internal/session"
	"dirigent/internal/worker"
)

// Runner is one orchestration loop instance.
type Runner struct {
	cfg   *config.Config
	store *session.Store
	reg   *registry.Registry
	gate  *gate.Gate
	exec  worker.Executor
	log   *slog.Logger
	sink  journal.Sink

	// pollInterval controls how often the approval wait rechecks the
	// staged proposal. Overridable in tests.
	pollInterval time.Duration
}

// New assembles a Runner. A nil sink disables journaling.
func New(cfg *config.Config, store *session.Store, reg *registry.Registry, g *gate.Gate, exec worker.Executor, log *slog.Logger, sink journal.Sink) *Runner {
	if log == nil {
		log = slog.Default()
	}
	if sink == nil {
		sink = journal.Nop{}
	}
	return &Runner{
		cfg:          cfg,
		store:        store,
		reg:          reg,
		gate:         g,
		exec:         exec,
		log:          log,
		sink:         sink,
		pollInterval: time.Second,
	}
}

// Run executes the loop until the session completes, fails, blocks on
// approval, or ctx is cancelled. Cancellation is honored between
// dispatches only; an in-flight worker sees its own context.
//
// The loop recomputes the next phase from the persisted record on every
// iteration, so a restarted process picks up exactly where a previous
// one stopped.
func (r *Runner) Run(ctx context.Context) error {
	guard, err := lock.Acquire(r.store.Dir(), "dirigent-run", r.cfg.LeaseTTL)
	if err != nil {
		return err
	}
	hbCtx, stopHB := context.WithCancel(ctx)
	guard.StartHeartbeat(hbCtx)
	defer func() {
		stopHB()
		if err := guard.Release(); err != nil {
			r.log.Warn("lease release failed", "error", err)
		}
	}()

	iterations := 0
	retried := map[int]bool{}

	for {
		select {
		case <-ctx.Done():
			r.log.Info("loop stopped by cancellation")
			return ctx.Err()
		default:
		}

		if r.cfg.MaxIterations > 0 && iterations >= r.cfg.MaxIterations {
			return fmt.Errorf("stopped after %d iterations without completing; rerun to resume", iterations)
		}
		iterations++

		rec, warnings, err := r.store.Load()
		if err != nil {
			return err
		}
		for _, w := range warnings {
			r.log.Warn("session record warning", "detail", w)
		}
		if rec == nil {
			return derrors.ErrNoSession()
		}

		switch rec.Status {
		case session.StatusComplete:
			// A complete record still on disk means a prior archive
			// failed; finish the job.
			if _, err := r.store.Archive(rec); err != nil {
				return err
			}
			return nil
		case session.StatusFailed:
			// Same for a failed record: a crash between the failing save
			// and its archive must not wedge the active slot.
			id, err := r.store.Archive(rec)
			if err != nil {
				return err
			}
			r.journal(rec.Title, -1, "", journal.EventSessionArchived, fmt.Sprintf("archive %d", id))
			return derrors.ErrDelegationTerminal(rec.CurrentWorker(), rec.FailReason)
		case session.StatusPending:
			if err := rec.Start(); err != nil {
				return err
			}
			if err := r.store.Save(rec); err != nil {
				return err
			}
			r.journal(rec.Title, -1, "", journal.EventSessionStarted, "")
		}

		next := rec.FirstUndone()
		if next >= len(rec.Phases) {
			// All phases done but status is in_progress: the terminal
			// mutation belongs to the approval resolver, never here.
			return derrors.ErrFormatViolation("all phases done but session is still in progress")
		}
		phase := rec.Phases[next]
		terminal := next == len(rec.Phases)-1

		if terminal {
			if done, err := r.runTerminal(ctx, rec, phase, retried); done || err != nil {
				return err
			}
			continue
		}

		outcome, err := r.dispatch(ctx, rec, phase, retried)
		if err != nil {
			return r.handleDispatchError(rec, phase, err)
		}

		summary := r.applyOwnershipCheck(rec, phase, outcome)
		if err := rec.CompletePhase(next, summary, outcome.FilesTouched, time.Now().UTC()); err != nil {
			return err
		}
		if err := r.store.Save(rec); err != nil {
			return err
		}
		r.journal(rec.Title, next, phase.Worker, journal.EventPhaseCompleted, summary)
		r.log.Info("phase complete",
			"phase", next+1, "of", len(rec.Phases), "worker", phase.Worker)
	}
}

// runTerminal handles the validator phase: dispatch (unless a proposal is
// already staged from a prior run), stage the completion proposal, then
// wait a bounded time for confirmation. Returns done=true when the
// session reached a terminal state.
func (r *Runner) runTerminal(ctx context.Context, rec *session.Record, phase session.Phase, retried map[int]bool) (bool, error) {
	pending, err := r.gate.Pending()
	if err != nil {
		return true, err
	}

	if pending == nil {
		outcome, err := r.dispatch(ctx, rec, phase, retried)
		if err != nil {
			return true, r.handleDispatchError(rec, phase, err)
		}
		summary := r.applyOwnershipCheck(rec, phase, outcome)
		description := outcome.Proposal
		if description == "" {
			description = "Complete the session and archive the record"
		}
		pending, err = r.gate.Propose(gate.ActionComplete, phase.Index, phase.Worker, description, summary, outcome.FilesTouched)
		if err != nil {
			return true, err
		}
		r.journal(rec.Title, phase.Index, phase.Worker, journal.EventApprovalProposed, pending.ID)
		r.log.Info("terminal action proposed", "proposal", pending.ID)
	} else {
		r.log.Info("resuming with staged proposal", "proposal", pending.ID)
	}

	deadline := time.Now().Add(r.cfg.Approval.Wait)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case <-time.After(r.pollInterval):
		}

		current, err := r.gate.Pending()
		if err != nil {
			return true, err
		}
		if current != nil && current.ID == pending.ID {
			continue
		}

		// Proposal resolved out-of-band. Confirmed means the record was
		// archived; rejected leaves the terminal phase undone.
		rec2, _, err := r.store.Load()
		if err != nil {
			return true, err
		}
		if rec2 == nil {
			r.log.Info("session complete")
			return true, nil
		}
		return false, nil
	}

	return true, derrors.ErrApprovalPending(pending.ID)
}

// dispatch runs one phase through the executor with a single retry on
// transient failure.
func (r *Runner) dispatch(ctx context.Context, rec *session.Record, phase session.Phase, retried map[int]bool) (worker.Outcome, error) {
	a := worker.Assignment{
		Request:     rec.Request,
		PhaseIndex:  phase.Index,
		Description: phase.Description,
		Worker:      phase.Worker,
		OwnedPaths:  r.reg.OwnedPaths(phase.Worker),
		PriorLog:    rec.Log,
	}

	r.journal(rec.Title, phase.Index, phase.Worker, journal.EventPhaseDispatched, phase.Description)
	r.log.Info("dispatching phase", "phase", phase.Index+1, "worker", phase.Worker)

	outcome, err := r.exec.Execute(ctx, a)
	if err == nil || !derrors.HasCode(err, derrors.CodeDelegationTransient) {
		return outcome, err
	}
	if retried[phase.Index] {
		return outcome, err
	}
	retried[phase.Index] = true

	r.journal(rec.Title, phase.Index, phase.Worker, journal.EventPhaseRetried, err.Error())
	r.log.Warn("transient delegation failure, retrying once",
		"phase", phase.Index+1, "worker", phase.Worker, "error", err)

	select {
	case <-ctx.Done():
		return worker.Outcome{}, ctx.Err()
	case <-time.After(r.cfg.Worker.RetryWait):
	}
	return r.exec.Execute(ctx, a)
}

// handleDispatchError maps a failed dispatch onto the session record.
// Terminal failures mark the session failed and archive it; transient
// failures (post-retry) leave the record in progress so a rerun resumes
// at the same phase.
func (r *Runner) handleDispatchError(rec *session.Record, phase session.Phase, err error) error {
	if derrors.HasCode(err, derrors.CodeDelegationTerminal) {
		de := derrors.AsError(err)
		rec.Fail(de.Why)
		if saveErr := r.store.Save(rec); saveErr != nil {
			return saveErr
		}
		r.journal(rec.Title, phase.Index, phase.Worker, journal.EventSessionFailed, de.Why)
		id, archErr := r.store.Archive(rec)
		if archErr != nil {
			return archErr
		}
		r.journal(rec.Title, -1, "", journal.EventSessionArchived, fmt.Sprintf("archive %d", id))
		return err
	}
	return err
}

// applyOwnershipCheck verifies every reported file against the worker's
// owned paths. Violations are advisory: they are journaled, logged, and
// noted in the work log summary, but never fail the phase.
func (r *Runner) applyOwnershipCheck(rec *session.Record, phase session.Phase, outcome worker.Outcome) string {
	var violations []string
	for _, path := range outcome.FilesTouched {
		if err := r.reg.ValidateMutation(phase.Worker, path); err != nil {
			violations = append(violations, path)
			r.journal(rec.Title, phase.Index, phase.Worker, journal.EventOwnershipWarning, path)
			r.log.Warn("ownership violation", "worker", phase.Worker, "path", path)
		}
	}
	summary := outcome.Summary
	if len(violations) > 0 {
		summary = fmt.Sprintf("%s [ownership warnings: %s]", summary, strings.Join(violations, ", "))
	}
	return summary
}

func (r *Runner) journal(title string, phaseIndex int, workerName, eventType, detail string) {
	if err := r.sink.Record(title, phaseIndex, workerName, eventType, detail); err != nil {
		r.log.Warn("journal write failed", "event", eventType, "error", err)
	}
}
