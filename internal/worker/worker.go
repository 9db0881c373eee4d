// Package worker delegates a single phase to an external worker process
// and classifies the result.
package worker

import (
	"context"

	"dirigent/internal/session"
)

// Assignment is the unit of work handed to a worker for one phase.
type Assignment struct {
	Request     string             `json:"request"`
	PhaseIndex  int                `json:"phase_index"`
	Description string             `json:"description"`
	Worker      string             `json:"worker"`
	OwnedPaths  []string           `json:"owned_paths,omitempty"`
	PriorLog    []session.LogEntry `json:"prior_log,omitempty"`
}

// Outcome status values reported by a worker.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Outcome is a worker's report for one assignment. A parseable Outcome,
// success or failure, is a semantic result; anything else is an
// infrastructure failure and never reaches this type.
type Outcome struct {
	Status       string   `json:"status"`
	Summary      string   `json:"summary"`
	FilesTouched []string `json:"files_touched,omitempty"`
	Reason       string   `json:"reason,omitempty"`
	Proposal     string   `json:"proposal,omitempty"`
}

// Succeeded reports whether the worker completed the assignment.
func (o Outcome) Succeeded() bool {
	return o.Status == StatusSuccess
}

// Executor runs one assignment to completion. Implementations must honor
// ctx cancellation and return a typed delegation error when no outcome can
// be produced.
type Executor interface {
	Execute(ctx context.Context, a Assignment) (Outcome, error)
}
