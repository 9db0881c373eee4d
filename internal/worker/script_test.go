package worker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	derrors "dirigent/internal/errors"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func testAssignment() Assignment {
	return Assignment{
		Request:     "add an endpoint",
		PhaseIndex:  0,
		Description: "build it",
		Worker:      "api-agent",
		OwnedPaths:  []string{"internal/**"},
	}
}

func TestScriptExecutorSuccess(t *testing.T) {
	script := writeScript(t, `cat >/dev/null
echo '{"status":"success","summary":"built the endpoint","files_touched":["internal/api.go"]}'`)

	exec := NewScriptExecutor(script, nil, 5*time.Second)
	outcome, err := exec.Execute(context.Background(), testAssignment())
	require.NoError(t, err)
	assert.True(t, outcome.Succeeded())
	assert.Equal(t, "built the endpoint", outcome.Summary)
	assert.Equal(t, []string{"internal/api.go"}, outcome.FilesTouched)
}

func TestScriptExecutorReceivesAssignmentOnStdin(t *testing.T) {
	dir := t.TempDir()
	capture := filepath.Join(dir, "stdin.json")
	script := writeScript(t, `cat > `+capture+`
echo '{"status":"success","summary":"ok"}'`)

	exec := NewScriptExecutor(script, nil, 5*time.Second)
	_, err := exec.Execute(context.Background(), testAssignment())
	require.NoError(t, err)

	data, err := os.ReadFile(capture)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"request":"add an endpoint"`)
	assert.Contains(t, string(data), `"worker":"api-agent"`)
}

func TestScriptExecutorTerminalFailure(t *testing.T) {
	script := writeScript(t, `cat >/dev/null
echo '{"status":"failure","summary":"","reason":"tests are red"}'`)

	exec := NewScriptExecutor(script, nil, 5*time.Second)
	_, err := exec.Execute(context.Background(), testAssignment())
	require.Error(t, err)
	assert.True(t, derrors.HasCode(err, derrors.CodeDelegationTerminal), "err = %v", err)
	assert.Contains(t, err.Error(), "tests are red")
}

func TestScriptExecutorGarbageIsTransient(t *testing.T) {
	script := writeScript(t, `cat >/dev/null
echo 'segfault lol'`)

	exec := NewScriptExecutor(script, nil, 5*time.Second)
	_, err := exec.Execute(context.Background(), testAssignment())
	require.Error(t, err)
	assert.True(t, derrors.HasCode(err, derrors.CodeDelegationTransient), "err = %v", err)
}

func TestScriptExecutorNonZeroExitIsTransient(t *testing.T) {
	script := writeScript(t, `cat >/dev/null
echo 'boom' >&2
exit 3`)

	exec := NewScriptExecutor(script, nil, 5*time.Second)
	_, err := exec.Execute(context.Background(), testAssignment())
	require.Error(t, err)
	assert.True(t, derrors.HasCode(err, derrors.CodeDelegationTransient), "err = %v", err)
}

func TestScriptExecutorTimeoutIsTransient(t *testing.T) {
	script := writeScript(t, `cat >/dev/null
sleep 5
echo '{"status":"success","summary":"too late"}'`)

	exec := NewScriptExecutor(script, nil, 100*time.Millisecond)
	start := time.Now()
	_, err := exec.Execute(context.Background(), testAssignment())
	require.Error(t, err)
	assert.True(t, derrors.HasCode(err, derrors.CodeDelegationTransient), "err = %v", err)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestScriptExecutorMissingCommandIsTransient(t *testing.T) {
	exec := NewScriptExecutor("/nonexistent/worker", nil, time.Second)
	_, err := exec.Execute(context.Background(), testAssignment())
	require.Error(t, err)
	assert.True(t, derrors.HasCode(err, derrors.CodeDelegationTransient))
}

func TestParseOutcome(t *testing.T) {
	t.Run("plain success", func(t *testing.T) {
		o, err := ParseOutcome([]byte(`{"status":"success","summary":"did the thing"}`))
		require.NoError(t, err)
		assert.True(t, o.Succeeded())
	})

	t.Run("noise before the outcome", func(t *testing.T) {
		o, err := ParseOutcome([]byte("warming up...\nstep 1 ok\n" +
			`{"status":"success","summary":"done","files_touched":["a.go",""]}`))
		require.NoError(t, err)
		assert.Equal(t, []string{"a.go"}, o.FilesTouched)
	})

	t.Run("failure with reason", func(t *testing.T) {
		o, err := ParseOutcome([]byte(`{"status":"failure","reason":"cannot comply"}`))
		require.NoError(t, err)
		assert.False(t, o.Succeeded())
		assert.Equal(t, "cannot comply", o.Reason)
	})

	t.Run("rejections", func(t *testing.T) {
		for name, in := range map[string]string{
			"empty":              "",
			"no json":            "all done boss",
			"invalid status":     `{"status":"maybe","summary":"x"}`,
			"success no summary": `{"status":"success"}`,
			"truncated":          `{"status":"success","summary":`,
		} {
			_, err := ParseOutcome([]byte(in))
			assert.Error(t, err, "case %s", name)
		}
	})
}
