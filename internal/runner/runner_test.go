package runner

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dirigent/internal/config"
	derrors "dirigent/internal/errors"
	"dirigent/internal/gate"
	"dirigent/internal/lock"
	"dirigent/internal/registry"
	"dirigent/internal/session"
	"dirigent/internal/worker"
)

// fakeExec scripts outcomes per call and records every assignment.
type fakeExec struct {
	mu      sync.Mutex
	calls   []worker.Assignment
	respond func(call int, a worker.Assignment) (worker.Outcome, error)
}

func (f *fakeExec) Execute(ctx context.Context, a worker.Assignment) (worker.Outcome, error) {
	f.mu.Lock()
	call := len(f.calls)
	f.calls = append(f.calls, a)
	respond := f.respond
	f.mu.Unlock()
	return respond(call, a)
}

func (f *fakeExec) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// succeedAll reports success for every assignment, touching only paths
// the worker owns. The validator reports no files at all.
func succeedAll(call int, a worker.Assignment) (worker.Outcome, error) {
	o := worker.Outcome{
		Status:  worker.StatusSuccess,
		Summary: fmt.Sprintf("phase %d done", a.PhaseIndex+1),
	}
	switch a.Worker {
	case "api-agent":
		o.FilesTouched = []string{"internal/work.go"}
	case "docs-agent":
		o.FilesTouched = []string{"docs/work.md"}
	case "finalize":
		o.Proposal = "All checks green; complete the session"
	}
	return o, nil
}

type harness struct {
	cfg   *config.Config
	store *session.Store
	gate  *gate.Gate
	exec  *fakeExec
}

func newHarness(t *testing.T, phases []session.Phase) *harness {
	t.Helper()

	cfg := config.Default(t.TempDir())
	cfg.Approval.Wait = 300 * time.Millisecond
	cfg.Worker.RetryWait = time.Millisecond
	cfg.LeaseTTL = time.Minute

	store := session.NewStore(cfg.StateDir())
	rec := session.New("Test session", "do the work", phases)
	require.NoError(t, store.Save(rec))

	return &harness{
		cfg:   cfg,
		store: store,
		gate:  gate.New(cfg.StateDir()),
		exec:  &fakeExec{respond: succeedAll},
	}
}

func (h *harness) registry(t *testing.T) *registry.Registry {
	t.Helper()
	r, err := registry.Build([]Agent{
		{Name: "api-agent", Capabilities: []string{"api"}, Owns: []string{"internal/**"}},
		{Name: "docs-agent", Capabilities: []string{"docs"}, Owns: []string{"docs/**"}},
		{Name: "finalize", Capabilities: []string{"finalize"}, Validator: true},
	})
	require.NoError(t, err)
	return r
}

// Agent keeps the roster literals short.
type Agent = registry.Agent

func (h *harness) runner(t *testing.T) *Runner {
	t.Helper()
	r := New(h.cfg, h.store, h.registry(t), h.gate, h.exec, nil, nil)
	r.pollInterval = 10 * time.Millisecond
	return r
}

func threePhases() []session.Phase {
	return []session.Phase{
		{Worker: "api-agent", Description: "build"},
		{Worker: "docs-agent", Description: "document"},
		{Worker: "finalize", Description: "validate and finalize"},
	}
}

func TestRunBlocksOnApproval(t *testing.T) {
	h := newHarness(t, threePhases())

	err := h.runner(t).Run(context.Background())
	require.Error(t, err)
	assert.True(t, derrors.HasCode(err, derrors.CodeApprovalPending), "err = %v", err)

	// All three phases dispatched exactly once.
	assert.Equal(t, 3, h.exec.callCount())

	// Non-terminal phases are done and logged; the terminal one waits.
	rec, _, err := h.store.Load()
	require.NoError(t, err)
	assert.True(t, rec.Phases[0].Done)
	assert.True(t, rec.Phases[1].Done)
	assert.False(t, rec.Phases[2].Done)
	assert.Equal(t, session.StatusInProgress, rec.Status)

	pending, err := h.gate.Pending()
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, 2, pending.PhaseIndex)
	assert.Equal(t, "All checks green; complete the session", pending.Description,
		"the validator's proposal wording must reach the staged gate")

	// The lease is released on exit.
	lease, err := lock.Inspect(h.store.Dir())
	require.NoError(t, err)
	assert.Nil(t, lease)
}

func TestRunCompletesWhenApproved(t *testing.T) {
	h := newHarness(t, threePhases())
	r := h.runner(t)

	// Approve the proposal as soon as it is staged, as a user would from
	// another terminal.
	done := make(chan error, 1)
	go func() {
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			p, err := h.gate.Pending()
			if err == nil && p != nil {
				_, _, err := gate.NewResolver(h.gate, h.store).Confirm(p.ID)
				done <- err
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
		done <- fmt.Errorf("no proposal appeared")
	}()

	require.NoError(t, r.Run(context.Background()))
	require.NoError(t, <-done)

	// The session is archived complete; nothing remains active.
	rec, _, err := h.store.Load()
	require.NoError(t, err)
	assert.Nil(t, rec)

	archived, err := h.store.LoadArchive(1)
	require.NoError(t, err)
	assert.Equal(t, session.StatusComplete, archived.Status)
	require.Len(t, archived.Log, 3)
}

func TestRunResumesWithoutRedispatching(t *testing.T) {
	h := newHarness(t, threePhases())

	err := h.runner(t).Run(context.Background())
	require.True(t, derrors.HasCode(err, derrors.CodeApprovalPending))
	require.Equal(t, 3, h.exec.callCount())

	// A second run resumes against the staged proposal: no phase runs
	// again, because done phases and the staged terminal outcome are all
	// recovered from disk.
	err = h.runner(t).Run(context.Background())
	require.True(t, derrors.HasCode(err, derrors.CodeApprovalPending))
	assert.Equal(t, 3, h.exec.callCount(), "resume must not redispatch any phase")
}

func TestRunTerminalFailureFailsAndArchives(t *testing.T) {
	h := newHarness(t, threePhases())
	h.exec.respond = func(call int, a worker.Assignment) (worker.Outcome, error) {
		if a.PhaseIndex == 1 {
			return worker.Outcome{}, derrors.ErrDelegationTerminal(a.Worker, "cannot write those docs")
		}
		return succeedAll(call, a)
	}

	err := h.runner(t).Run(context.Background())
	require.Error(t, err)
	assert.True(t, derrors.HasCode(err, derrors.CodeDelegationTerminal), "err = %v", err)

	// The failed record moved straight to the archive.
	rec, _, err := h.store.Load()
	require.NoError(t, err)
	assert.Nil(t, rec)

	archived, err := h.store.LoadArchive(1)
	require.NoError(t, err)
	assert.Equal(t, session.StatusFailed, archived.Status)
	assert.Equal(t, "cannot write those docs", archived.FailReason)
	assert.True(t, archived.Phases[0].Done)
	assert.False(t, archived.Phases[1].Done)
}

func TestRunArchivesFailedRecordLeftActive(t *testing.T) {
	// A failed record still in the active slot means a prior run crashed
	// after the failing save but before the archive. The loop finishes the
	// archive instead of wedging the slot.
	h := newHarness(t, threePhases())
	rec, _, err := h.store.Load()
	require.NoError(t, err)
	require.NoError(t, rec.Start())
	rec.Fail("worker reported an unrecoverable failure")
	require.NoError(t, h.store.Save(rec))

	err = h.runner(t).Run(context.Background())
	require.Error(t, err)
	assert.True(t, derrors.HasCode(err, derrors.CodeDelegationTerminal), "err = %v", err)
	assert.Equal(t, 0, h.exec.callCount())

	rec, _, err = h.store.Load()
	require.NoError(t, err)
	assert.Nil(t, rec, "failed record must leave the active slot")

	archived, err := h.store.LoadArchive(1)
	require.NoError(t, err)
	assert.Equal(t, session.StatusFailed, archived.Status)
	assert.Equal(t, "worker reported an unrecoverable failure", archived.FailReason)
}

func TestRunRetriesTransientOnce(t *testing.T) {
	h := newHarness(t, threePhases())
	failed := false
	h.exec.respond = func(call int, a worker.Assignment) (worker.Outcome, error) {
		if a.PhaseIndex == 0 && !failed {
			failed = true
			return worker.Outcome{}, derrors.ErrDelegationTransient(a.Worker, fmt.Errorf("socket reset"))
		}
		return succeedAll(call, a)
	}

	err := h.runner(t).Run(context.Background())
	require.True(t, derrors.HasCode(err, derrors.CodeApprovalPending), "err = %v", err)

	// Phase 1 ran twice, phases 2 and 3 once each.
	assert.Equal(t, 4, h.exec.callCount())
}

func TestRunEscalatesAfterSecondTransientFailure(t *testing.T) {
	h := newHarness(t, threePhases())
	h.exec.respond = func(call int, a worker.Assignment) (worker.Outcome, error) {
		return worker.Outcome{}, derrors.ErrDelegationTransient(a.Worker, fmt.Errorf("still down"))
	}

	err := h.runner(t).Run(context.Background())
	require.Error(t, err)
	assert.True(t, derrors.HasCode(err, derrors.CodeDelegationTransient))
	assert.Equal(t, 2, h.exec.callCount(), "one dispatch plus one retry")

	// The record is untouched and resumable: rerunning with a healthy
	// worker picks up at the same phase.
	rec, _, err := h.store.Load()
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.False(t, rec.Phases[0].Done)

	h.exec.respond = succeedAll
	err = h.runner(t).Run(context.Background())
	assert.True(t, derrors.HasCode(err, derrors.CodeApprovalPending), "err = %v", err)
}

func TestRunRefusesSecondLoop(t *testing.T) {
	h := newHarness(t, threePhases())

	g, err := lock.Acquire(h.store.Dir(), "other-loop", time.Minute)
	require.NoError(t, err)
	defer g.Release()

	err = h.runner(t).Run(context.Background())
	require.Error(t, err)
	assert.True(t, derrors.HasCode(err, derrors.CodeAlreadyRunning), "err = %v", err)
	assert.Equal(t, 0, h.exec.callCount())
}

func TestRunStopsBetweenDispatchesOnCancel(t *testing.T) {
	h := newHarness(t, threePhases())

	ctx, cancel := context.WithCancel(context.Background())
	h.exec.respond = func(call int, a worker.Assignment) (worker.Outcome, error) {
		// Cancel while the first phase is in flight; the loop must finish
		// recording it and stop before the second dispatch.
		cancel()
		return succeedAll(call, a)
	}

	err := h.runner(t).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, h.exec.callCount())

	rec, _, err := h.store.Load()
	require.NoError(t, err)
	assert.True(t, rec.Phases[0].Done, "in-flight phase outcome must be recorded")
	assert.False(t, rec.Phases[1].Done)
}

func TestRunOwnershipViolationIsAdvisory(t *testing.T) {
	h := newHarness(t, threePhases())
	h.exec.respond = func(call int, a worker.Assignment) (worker.Outcome, error) {
		o, _ := succeedAll(call, a)
		if a.Worker == "docs-agent" {
			o.FilesTouched = []string{"docs/guide.md", "internal/api.go"}
		}
		return o, nil
	}

	err := h.runner(t).Run(context.Background())
	require.True(t, derrors.HasCode(err, derrors.CodeApprovalPending), "err = %v", err)

	rec, _, err := h.store.Load()
	require.NoError(t, err)
	assert.True(t, rec.Phases[1].Done, "violation must not fail the phase")
	require.Len(t, rec.Log, 2)
	assert.Contains(t, rec.Log[1].Summary, "ownership warnings")
	assert.Contains(t, rec.Log[1].Summary, "internal/api.go")
}

func TestRunNoSession(t *testing.T) {
	h := newHarness(t, threePhases())
	rec, _, err := h.store.Load()
	require.NoError(t, err)
	rec.Fail("abandoned")
	require.NoError(t, h.store.Save(rec))
	_, err = h.store.Archive(rec)
	require.NoError(t, err)

	err = h.runner(t).Run(context.Background())
	require.Error(t, err)
	assert.True(t, derrors.HasCode(err, derrors.CodeNoSession))
}

func TestRunMaxIterations(t *testing.T) {
	h := newHarness(t, threePhases())
	h.cfg.MaxIterations = 1

	err := h.runner(t).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "iterations")
	assert.Equal(t, 1, h.exec.callCount())

	// Still resumable.
	h.cfg.MaxIterations = 0
	err = h.runner(t).Run(context.Background())
	assert.True(t, derrors.HasCode(err, derrors.CodeApprovalPending), "err = %v", err)
}
