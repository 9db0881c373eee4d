// Package errors provides structured error types for dirigent.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Code represents a unique error code.
type Code string

// Error codes for dirigent.
const (
	// Initialization errors
	CodeNotInitialized Code = "NOT_INITIALIZED"

	// State store errors
	CodeNoSession       Code = "NO_SESSION"
	CodeCorruptState    Code = "CORRUPT_STATE"
	CodeFormatViolation Code = "FORMAT_VIOLATION"

	// Planning and routing errors
	CodeUnroutableCapability Code = "UNROUTABLE_CAPABILITY"
	CodeRegistryInvalid      Code = "REGISTRY_INVALID"

	// Delegation errors
	CodeOwnershipViolation  Code = "OWNERSHIP_VIOLATION"
	CodeDelegationTransient Code = "DELEGATION_TRANSIENT"
	CodeDelegationTerminal  Code = "DELEGATION_TERMINAL"

	// Loop guard and gate errors
	CodeAlreadyRunning  Code = "ALREADY_RUNNING"
	CodeApprovalPending Code = "APPROVAL_PENDING"
	CodeApprovalUnknown Code = "APPROVAL_UNKNOWN"
)

// Error is the structured error type for dirigent.
type Error struct {
	Code  Code
	What  string
	Why   string
	Fix   string
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString(": ")
		b.WriteString(e.Why)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// UserMessage returns a user-friendly message for CLI output.
func (e *Error) UserMessage() string {
	var b strings.Builder
	b.WriteString("Error: ")
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString("\n\nWhy: ")
		b.WriteString(e.Why)
	}
	if e.Fix != "" {
		b.WriteString("\n\nFix: ")
		b.WriteString(e.Fix)
	}
	return b.String()
}

// Is reports whether target is an Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithCause returns a copy of the error with the given cause.
func (e *Error) WithCause(err error) *Error {
	return &Error{
		Code:  e.Code,
		What:  e.What,
		Why:   e.Why,
		Fix:   e.Fix,
		Cause: err,
	}
}

// --- Error constructors ---

// ErrNotInitialized returns an error for an uninitialized project.
func ErrNotInitialized() *Error {
	return &Error{
		Code: CodeNotInitialized,
		What: "dirigent is not initialized in this directory",
		Why:  "No .dirigent/ directory found",
		Fix:  "Run 'dirigent init' to initialize this project",
	}
}

// ErrNoSession returns an error when no active session record exists.
func ErrNoSession() *Error {
	return &Error{
		Code: CodeNoSession,
		What: "no active session",
		Why:  "No session record found in .dirigent/session/",
		Fix:  "Create one with 'dirigent new \"your request\"'",
	}
}

// ErrCorruptState returns an error for an unparseable session record.
// The store never repairs or fabricates a record; the error surfaces as-is.
func ErrCorruptState(path string, cause error) *Error {
	return &Error{
		Code:  CodeCorruptState,
		What:  "session record is corrupt",
		Why:   fmt.Sprintf("Could not parse %s", path),
		Fix:   "Inspect the file by hand, or archive it and start a new session",
		Cause: cause,
	}
}

// ErrFormatViolation returns an error for a record that parses but breaks a
// structural invariant.
func ErrFormatViolation(detail string) *Error {
	return &Error{
		Code: CodeFormatViolation,
		What: "session record violates format invariants",
		Why:  detail,
		Fix:  "Fix the record by hand, or archive it and start a new session",
	}
}

// ErrUnroutableCapability returns an error when planning cannot assign any
// worker to the request.
func ErrUnroutableCapability(request string) *Error {
	return &Error{
		Code: CodeUnroutableCapability,
		What: "no worker can be routed for this request",
		Why:  fmt.Sprintf("No registered capability matches %q", request),
		Fix:  "Add capability tags to .dirigent/agents.yaml, or pass explicit --phase specs",
	}
}

// ErrRegistryInvalid returns an error for an invalid agent registry.
func ErrRegistryInvalid(detail string) *Error {
	return &Error{
		Code: CodeRegistryInvalid,
		What: "agent registry is invalid",
		Why:  detail,
		Fix:  "Fix .dirigent/agents.yaml and rerun",
	}
}

// ErrOwnershipViolation returns an error when a worker reports touching a
// path outside its owned set.
func ErrOwnershipViolation(worker, path string) *Error {
	return &Error{
		Code: CodeOwnershipViolation,
		What: fmt.Sprintf("worker %s touched unowned path", worker),
		Why:  fmt.Sprintf("%s is outside the paths owned by %s", path, worker),
		Fix:  "Review the ownership matrix in .dirigent/agents.yaml",
	}
}

// ErrDelegationTransient returns an error for a timeout or infrastructure
// failure during delegation. Eligible for one retry at the same phase index.
func ErrDelegationTransient(worker string, cause error) *Error {
	return &Error{
		Code:  CodeDelegationTransient,
		What:  fmt.Sprintf("delegation to %s failed transiently", worker),
		Why:   "The worker produced no outcome (timeout or infrastructure failure)",
		Fix:   "The loop retries once automatically; rerun 'dirigent run' to resume after escalation",
		Cause: cause,
	}
}

// ErrDelegationTerminal returns an error for a semantic failure reported by
// a worker. Never retried.
func ErrDelegationTerminal(worker, reason string) *Error {
	return &Error{
		Code: CodeDelegationTerminal,
		What: fmt.Sprintf("worker %s reported terminal failure", worker),
		Why:  reason,
		Fix:  "Review the work log, fix the underlying problem, then plan a new session",
	}
}

// ErrAlreadyRunning returns an error when a second loop instance is refused.
func ErrAlreadyRunning(owner string, pid int) *Error {
	return &Error{
		Code: CodeAlreadyRunning,
		What: "an orchestration loop is already running against this session",
		Why:  fmt.Sprintf("Live lease held by %s (pid %d)", owner, pid),
		Fix:  "Wait for the running loop to finish, or remove a stale lease if the process is gone",
	}
}

// ErrApprovalPending returns an error when the terminal phase is blocked on
// an unconfirmed proposal.
func ErrApprovalPending(id string) *Error {
	return &Error{
		Code: CodeApprovalPending,
		What: "terminal action awaits approval",
		Why:  fmt.Sprintf("Proposal %s is staged but unconfirmed", id),
		Fix:  fmt.Sprintf("Confirm with 'dirigent approve %s' or reject with 'dirigent reject %s'", id, id),
	}
}

// ErrApprovalUnknown returns an error when a confirmation names no staged
// proposal.
func ErrApprovalUnknown(id string) *Error {
	return &Error{
		Code: CodeApprovalUnknown,
		What: fmt.Sprintf("no pending proposal %s", id),
		Why:  "The proposal was never staged, already resolved, or the ID is wrong",
		Fix:  "Run 'dirigent status' to see the pending proposal, if any",
	}
}

// AsError attempts to convert err to a dirigent *Error, unwrapping as needed.
// Returns nil if err carries no *Error.
func AsError(err error) *Error {
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return nil
}

// HasCode reports whether err carries a dirigent *Error with the given code.
func HasCode(err error, code Code) bool {
	de := AsError(err)
	return de != nil && de.Code == code
}

// Wrap adapts a generic error for CLI presentation. The cause stays
// unwrappable and its text becomes the why line.
func Wrap(err error, what string) *Error {
	return &Error{
		Code:  Code("UNKNOWN"),
		What:  what,
		Why:   err.Error(),
		Cause: err,
	}
}
