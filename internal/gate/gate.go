// Package gate implements the two-phase approval required before a
// session's terminal action. A proposal is staged to disk first; the
// completing mutation only ever happens after an explicit confirmation.
// There is no auto-approve path.
package gate

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	derrors "dirigent/internal/errors"
	"dirigent/internal/util"
)

// PendingFileName is the staged proposal file inside the session directory.
const PendingFileName = "pending-approval.yaml"

// Pending is a staged terminal-action proposal. It carries everything
// needed to apply the action after confirmation, so a confirm can happen
// from a fresh process.
type Pending struct {
	ID           string    `yaml:"id"`
	Action       string    `yaml:"action"`
	PhaseIndex   int       `yaml:"phase_index"`
	Worker       string    `yaml:"worker"`
	Description  string    `yaml:"description,omitempty"`
	Summary      string    `yaml:"summary"`
	FilesTouched []string  `yaml:"files_touched,omitempty"`
	ProposedAt   time.Time `yaml:"proposed_at"`
}

// ActionComplete is the only terminal action a session proposes today.
const ActionComplete = "complete_session"

// Gate stages and resolves proposals under a session directory.
type Gate struct {
	dir string
}

// New returns a Gate rooted at the session directory.
func New(dir string) *Gate {
	return &Gate{dir: dir}
}

func (g *Gate) path() string {
	return filepath.Join(g.dir, PendingFileName)
}

// Pending returns the staged proposal, or nil when none is staged.
func (g *Gate) Pending() (*Pending, error) {
	data, err := os.ReadFile(g.path())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read pending proposal: %w", err)
	}
	var p Pending
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse pending proposal: %w", err)
	}
	return &p, nil
}

// Propose stages a proposal and returns it. The description is the
// worker's own wording of the action it wants approved. If a proposal for
// the same phase is already staged, the existing one is returned unchanged
// so that a resumed loop never duplicates a gate.
func (g *Gate) Propose(action string, phaseIndex int, worker, description, summary string, files []string) (*Pending, error) {
	if existing, err := g.Pending(); err != nil {
		return nil, err
	} else if existing != nil {
		if existing.Action == action && existing.PhaseIndex == phaseIndex {
			return existing, nil
		}
		return nil, derrors.ErrApprovalPending(existing.ID)
	}

	p := &Pending{
		ID:           uuid.NewString(),
		Action:       action,
		PhaseIndex:   phaseIndex,
		Worker:       worker,
		Description:  description,
		Summary:      summary,
		FilesTouched: files,
		ProposedAt:   time.Now().UTC(),
	}
	data, err := yaml.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode proposal: %w", err)
	}
	if err := util.AtomicWriteFile(g.path(), data, 0o644); err != nil {
		return nil, fmt.Errorf("stage proposal: %w", err)
	}
	return p, nil
}

// take returns the staged proposal matching id and removes it from disk.
func (g *Gate) take(id string) (*Pending, error) {
	p, err := g.Pending()
	if err != nil {
		return nil, err
	}
	if p == nil || p.ID != id {
		return nil, derrors.ErrApprovalUnknown(id)
	}
	if err := os.Remove(g.path()); err != nil {
		return nil, fmt.Errorf("clear proposal: %w", err)
	}
	return p, nil
}

// Reject removes the staged proposal without applying it. The session
// record is untouched; the terminal phase stays undone.
func (g *Gate) Reject(id string) (*Pending, error) {
	return g.take(id)
}
