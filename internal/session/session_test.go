package session

import (
	"testing"
	"time"
)

func threePhases() []Phase {
	return []Phase{
		{Worker: "api-agent", Description: "Build the endpoint"},
		{Worker: "docs-agent", Description: "Document the endpoint"},
		{Worker: "finalize", Description: "Validate changes and finalize delivery"},
	}
}

func TestNew(t *testing.T) {
	r := New("Add auth", "Add an auth endpoint", threePhases())

	if r.Status != StatusPending {
		t.Errorf("Status = %s, want %s", r.Status, StatusPending)
	}
	if len(r.Phases) != 3 {
		t.Fatalf("len(Phases) = %d, want 3", len(r.Phases))
	}
	for i, p := range r.Phases {
		if p.Index != i {
			t.Errorf("Phases[%d].Index = %d, want %d", i, p.Index, i)
		}
		if p.Done {
			t.Errorf("Phases[%d].Done = true, want false", i)
		}
	}
	if err := r.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestFirstUndone(t *testing.T) {
	r := New("t", "r", threePhases())

	if got := r.FirstUndone(); got != 0 {
		t.Errorf("FirstUndone() = %d, want 0", got)
	}

	r.Phases[0].Done = true
	if got := r.FirstUndone(); got != 1 {
		t.Errorf("FirstUndone() = %d, want 1", got)
	}

	r.Phases[1].Done = true
	r.Phases[2].Done = true
	if got := r.FirstUndone(); got != 3 {
		t.Errorf("FirstUndone() = %d, want 3", got)
	}
	if !r.AllDone() {
		t.Error("AllDone() = false, want true")
	}
	if got := r.CurrentWorker(); got != NoWorker {
		t.Errorf("CurrentWorker() = %s, want %s", got, NoWorker)
	}
}

func TestCompletePhaseInOrder(t *testing.T) {
	r := New("t", "r", threePhases())
	now := time.Now()

	if err := r.CompletePhase(1, "skip ahead", nil, now); err == nil {
		t.Error("completing phase 1 before phase 0 succeeded, want error")
	}

	if err := r.CompletePhase(0, "built it", []string{"api/auth.go"}, now); err != nil {
		t.Fatalf("CompletePhase(0) = %v", err)
	}
	if !r.Phases[0].Done {
		t.Error("Phases[0].Done = false after completion")
	}
	if r.Status != StatusInProgress {
		t.Errorf("Status = %s, want %s", r.Status, StatusInProgress)
	}
	if len(r.Log) != 1 {
		t.Fatalf("len(Log) = %d, want 1", len(r.Log))
	}
	if r.Log[0].Worker != "api-agent" {
		t.Errorf("Log[0].Worker = %s, want api-agent", r.Log[0].Worker)
	}

	// Completing the same phase again must be refused.
	if err := r.CompletePhase(0, "again", nil, now); err == nil {
		t.Error("re-completing phase 0 succeeded, want error")
	}
}

func TestMarkComplete(t *testing.T) {
	r := New("t", "r", threePhases())
	now := time.Now()

	if err := r.MarkComplete(); err == nil {
		t.Error("MarkComplete with undone phases succeeded, want error")
	}

	for i := range r.Phases {
		if err := r.CompletePhase(i, "done", nil, now); err != nil {
			t.Fatalf("CompletePhase(%d) = %v", i, err)
		}
	}
	if err := r.MarkComplete(); err != nil {
		t.Fatalf("MarkComplete() = %v", err)
	}
	if r.Status != StatusComplete {
		t.Errorf("Status = %s, want %s", r.Status, StatusComplete)
	}
	if err := r.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestFail(t *testing.T) {
	r := New("t", "r", threePhases())
	r.Fail("worker reported a broken build")

	if r.Status != StatusFailed {
		t.Errorf("Status = %s, want %s", r.Status, StatusFailed)
	}
	if err := r.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}

	if err := r.CompletePhase(0, "late", nil, time.Now()); err == nil {
		t.Error("CompletePhase on failed session succeeded, want error")
	}
}

func TestValidateRejectsGapInDonePrefix(t *testing.T) {
	r := New("t", "r", threePhases())
	r.Status = StatusInProgress
	r.Phases[0].Done = true
	r.Phases[2].Done = true

	if err := r.Validate(); err == nil {
		t.Error("Validate accepted a done phase after an undone one")
	}
}

func TestValidateRejectsInconsistentStates(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Record)
	}{
		{"pending with done phase", func(r *Record) { r.Phases[0].Done = true }},
		{"complete with undone phase", func(r *Record) { r.Status = StatusComplete }},
		{"failed without reason", func(r *Record) { r.Status = StatusFailed }},
		{"empty title", func(r *Record) { r.Title = "" }},
		{"empty request", func(r *Record) { r.Request = "" }},
		{"unknown status", func(r *Record) { r.Status = "paused" }},
		{"no phases", func(r *Record) { r.Phases = nil }},
		{"log out of range", func(r *Record) { r.Log = []LogEntry{{PhaseIndex: 9}} }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := New("t", "r", threePhases())
			tc.mutate(r)
			if err := r.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}
