// Package lock provides the single-writer lease over a session. At most
// one orchestration loop may mutate a session record at a time; a second
// instance is refused while a live lease exists.
package lock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	derrors "dirigent/internal/errors"
	"dirigent/internal/util"
)

// LeaseFileName is the lease file inside the session directory.
const LeaseFileName = "lease.yaml"

// Lease is the persisted claim of a running loop.
type Lease struct {
	Owner     string        `yaml:"owner"`
	PID       int           `yaml:"pid"`
	Acquired  time.Time     `yaml:"acquired"`
	Heartbeat time.Time     `yaml:"heartbeat"`
	TTL       time.Duration `yaml:"ttl"`
}

// Stale reports whether the lease no longer protects the session: either
// the heartbeat aged past the TTL or the owning process is gone. A stale
// lease may be broken; a live one may not.
func (l *Lease) Stale(now time.Time) bool {
	if now.Sub(l.Heartbeat) > l.TTL {
		return true
	}
	return !processAlive(l.PID)
}

// Guard is a held lease. Release it when the loop exits; refresh it with
// Heartbeat (or StartHeartbeat) while running.
type Guard struct {
	path  string
	lease Lease
}

// Acquire claims the session lease for owner. Returns ALREADY_RUNNING if
// another live lease exists; silently replaces a stale one.
func Acquire(dir, owner string, ttl time.Duration) (*Guard, error) {
	path := filepath.Join(dir, LeaseFileName)
	now := time.Now().UTC()

	if existing, err := read(path); err != nil {
		return nil, err
	} else if existing != nil && !existing.Stale(now) {
		return nil, derrors.ErrAlreadyRunning(existing.Owner, existing.PID)
	}

	g := &Guard{
		path: path,
		lease: Lease{
			Owner:     owner,
			PID:       os.Getpid(),
			Acquired:  now,
			Heartbeat: now,
			TTL:       ttl,
		},
	}
	if err := g.write(); err != nil {
		return nil, err
	}
	return g, nil
}

// Heartbeat refreshes the lease timestamp.
func (g *Guard) Heartbeat() error {
	g.lease.Heartbeat = time.Now().UTC()
	return g.write()
}

// Release removes the lease file. Safe to call after a failed heartbeat.
func (g *Guard) Release() error {
	if err := os.Remove(g.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

// StartHeartbeat refreshes the lease at a third of the TTL until ctx is
// done. Heartbeat failures are swallowed; the lease simply goes stale.
func (g *Guard) StartHeartbeat(ctx context.Context) {
	interval := g.lease.TTL / 3
	if interval <= 0 {
		interval = time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = g.Heartbeat()
			}
		}
	}()
}

func (g *Guard) write() error {
	data, err := yaml.Marshal(g.lease)
	if err != nil {
		return fmt.Errorf("encode lease: %w", err)
	}
	if err := util.AtomicWriteFile(g.path, data, 0o644); err != nil {
		return fmt.Errorf("write lease: %w", err)
	}
	return nil
}

// Inspect returns the current lease on disk, or nil when none exists.
func Inspect(dir string) (*Lease, error) {
	return read(filepath.Join(dir, LeaseFileName))
}

func read(path string) (*Lease, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read lease: %w", err)
	}
	var l Lease
	if err := yaml.Unmarshal(data, &l); err != nil {
		// An unreadable lease cannot prove a live owner.
		return nil, nil
	}
	return &l, nil
}
