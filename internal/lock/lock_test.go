package lock

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	derrors "dirigent/internal/errors"
)

func TestAcquireRelease(t *testing.T) {
	dir := t.TempDir()

	g, err := Acquire(dir, "runner-test", time.Minute)
	require.NoError(t, err)

	lease, err := Inspect(dir)
	require.NoError(t, err)
	require.NotNil(t, lease)
	assert.Equal(t, "runner-test", lease.Owner)
	assert.Equal(t, os.Getpid(), lease.PID)
	assert.False(t, lease.Stale(time.Now().UTC()))

	require.NoError(t, g.Release())

	lease, err = Inspect(dir)
	require.NoError(t, err)
	assert.Nil(t, lease)
}

func TestAcquireRefusesLiveLease(t *testing.T) {
	dir := t.TempDir()

	g, err := Acquire(dir, "first", time.Minute)
	require.NoError(t, err)
	defer g.Release()

	_, err = Acquire(dir, "second", time.Minute)
	require.Error(t, err)
	assert.True(t, derrors.HasCode(err, derrors.CodeAlreadyRunning), "err = %v", err)
}

func TestAcquireReplacesStaleLease(t *testing.T) {
	dir := t.TempDir()

	// A lease whose heartbeat is long past its TTL is stale even if the
	// PID is alive.
	g, err := Acquire(dir, "old", 50*time.Millisecond)
	require.NoError(t, err)
	_ = g
	time.Sleep(120 * time.Millisecond)

	g2, err := Acquire(dir, "new", time.Minute)
	require.NoError(t, err)
	defer g2.Release()

	lease, err := Inspect(dir)
	require.NoError(t, err)
	assert.Equal(t, "new", lease.Owner)
}

func TestLeaseStaleOnDeadPID(t *testing.T) {
	l := &Lease{
		Owner:     "ghost",
		PID:       1 << 30, // far above any real pid
		Heartbeat: time.Now().UTC(),
		TTL:       time.Minute,
	}
	assert.True(t, l.Stale(time.Now().UTC()))
}

func TestHeartbeatKeepsLeaseLive(t *testing.T) {
	dir := t.TempDir()

	g, err := Acquire(dir, "runner", 150*time.Millisecond)
	require.NoError(t, err)
	defer g.Release()

	for i := 0; i < 3; i++ {
		time.Sleep(60 * time.Millisecond)
		require.NoError(t, g.Heartbeat())
	}

	lease, err := Inspect(dir)
	require.NoError(t, err)
	assert.False(t, lease.Stale(time.Now().UTC()))
}

func TestUnreadableLeaseDoesNotBlock(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, LeaseFileName), []byte(":::"), 0o644))

	g, err := Acquire(dir, "runner", time.Minute)
	require.NoError(t, err)
	defer g.Release()
}

func TestProcessAlive(t *testing.T) {
	assert.True(t, processAlive(os.Getpid()))
	assert.False(t, processAlive(0))
	assert.False(t, processAlive(-5))
}
