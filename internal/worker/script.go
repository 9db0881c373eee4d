package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	derrors "dirigent/internal/errors"
)

// ScriptExecutor runs a worker as a subprocess. The assignment is written
// as JSON to stdin and the outcome is read as JSON from stdout. The worker
// name is appended to the argument list so one command can serve every
// worker.
type ScriptExecutor struct {
	Command string
	Args    []string
	Timeout time.Duration
	Dir     string
}

// NewScriptExecutor returns an executor for the given command line.
func NewScriptExecutor(command string, args []string, timeout time.Duration) *ScriptExecutor {
	return &ScriptExecutor{Command: command, Args: args, Timeout: timeout}
}

// Execute runs the worker process for one assignment.
//
// Classification: timeout, spawn failure, or unparseable stdout are
// transient (the process produced no semantic result). A well-formed
// outcome with status "failure" is terminal. Only a well-formed "success"
// outcome returns a nil error.
func (s *ScriptExecutor) Execute(ctx context.Context, a Assignment) (Outcome, error) {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	payload, err := json.Marshal(a)
	if err != nil {
		return Outcome{}, derrors.ErrDelegationTransient(a.Worker, fmt.Errorf("encode assignment: %w", err))
	}

	cmd := exec.CommandContext(ctx, s.Command, append(append([]string{}, s.Args...), a.Worker)...)
	cmd.Dir = s.Dir
	cmd.Stdin = bytes.NewReader(payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return Outcome{}, derrors.ErrDelegationTransient(a.Worker,
			fmt.Errorf("worker timed out after %s", s.Timeout))
	}

	outcome, parseErr := ParseOutcome(stdout.Bytes())
	if parseErr != nil {
		if runErr != nil {
			return Outcome{}, derrors.ErrDelegationTransient(a.Worker,
				fmt.Errorf("%w (stderr: %s)", runErr, firstLine(stderr.String())))
		}
		return Outcome{}, derrors.ErrDelegationTransient(a.Worker, parseErr)
	}

	if !outcome.Succeeded() {
		reason := outcome.Reason
		if reason == "" {
			reason = "worker reported failure without a reason"
		}
		return outcome, derrors.ErrDelegationTerminal(a.Worker, reason)
	}
	return outcome, nil
}

// ParseOutcome decodes a worker's stdout into an Outcome. The worker may
// print diagnostic noise; only the trailing JSON object is considered.
func ParseOutcome(data []byte) (Outcome, error) {
	raw := extractJSON(string(data))
	if raw == "" {
		return Outcome{}, fmt.Errorf("worker stdout contains no JSON outcome")
	}
	parsed := gjson.Parse(raw)

	status := parsed.Get("status").String()
	if status != StatusSuccess && status != StatusFailure {
		return Outcome{}, fmt.Errorf("worker outcome has invalid status %q", status)
	}

	o := Outcome{
		Status:   status,
		Summary:  parsed.Get("summary").String(),
		Reason:   parsed.Get("reason").String(),
		Proposal: parsed.Get("proposal").String(),
	}
	for _, f := range parsed.Get("files_touched").Array() {
		if p := strings.TrimSpace(f.String()); p != "" {
			o.FilesTouched = append(o.FilesTouched, p)
		}
	}

	if o.Status == StatusSuccess && strings.TrimSpace(o.Summary) == "" {
		return Outcome{}, fmt.Errorf("worker outcome is missing a summary")
	}
	return o, nil
}

// extractJSON returns the last top-level JSON object in text, or "".
func extractJSON(text string) string {
	end := strings.LastIndex(text, "}")
	if end < 0 {
		return ""
	}
	depth := 0
	for i := end; i >= 0; i-- {
		switch text[i] {
		case '}':
			depth++
		case '{':
			depth--
			if depth == 0 {
				candidate := text[i : end+1]
				if gjson.Valid(candidate) {
					return candidate
				}
				return ""
			}
		}
	}
	return ""
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
