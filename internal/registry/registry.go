// Package registry provides the agent ownership registry: the static
// mapping from capability tags and path ownership to workers.
package registry

import (
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	derrors "dirigent/internal/errors"
)

// Agent describes one registered worker.
type Agent struct {
	// Name identifies the worker. It appears verbatim in phase lines, so
	// it may not contain whitespace.
	Name string `yaml:"name"`

	// Description is free text shown in audits and status output.
	Description string `yaml:"description,omitempty"`

	// Capabilities are the routing tags this agent handles. Each tag maps
	// to exactly one agent registry-wide.
	Capabilities []string `yaml:"capabilities,omitempty"`

	// Owns lists the path globs this agent has exclusive write ownership
	// of. Pairwise disjoint across agents.
	Owns []string `yaml:"owns,omitempty"`

	// Validator marks the designated terminal-phase worker. It owns no
	// paths and may not mutate any.
	Validator bool `yaml:"validator,omitempty"`
}

// Registry is a validated, immutable snapshot of the agent roster.
type Registry struct {
	agents    []Agent
	byName    map[string]*Agent
	routes    map[string]string // capability tag -> agent name
	validator string
}

// Agents returns the roster in declaration order.
func (r *Registry) Agents() []Agent {
	return r.agents
}

// Get returns the agent with the given name.
func (r *Registry) Get(name string) (*Agent, bool) {
	a, ok := r.byName[name]
	return a, ok
}

// Validator returns the name of the designated terminal-phase worker.
func (r *Registry) Validator() string {
	return r.validator
}

// Capabilities returns every routable capability tag, sorted.
func (r *Registry) Capabilities() []string {
	tags := make([]string, 0, len(r.routes))
	for tag := range r.routes {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Resolve maps a capability tag to its worker. Resolution is a
// deterministic total function over the registered tags: the same tag
// always yields the same worker while the registry is unchanged, and an
// unknown tag fails rather than falling back.
func (r *Registry) Resolve(capability string) (string, error) {
	name, ok := r.routes[normalizeTag(capability)]
	if !ok {
		return "", derrors.ErrUnroutableCapability(capability)
	}
	return name, nil
}

// OwnedPaths returns the path globs owned by the named worker. The
// validator owns nothing.
func (r *Registry) OwnedPaths(name string) []string {
	a, ok := r.byName[name]
	if !ok {
		return nil
	}
	return a.Owns
}

// ValidateMutation reports whether the named worker may mutate path. The
// check is advisory at the orchestration layer: actual mutation happens
// inside the opaque worker, so denials over the reported files_touched set
// are surfaced and logged rather than silently ignored.
func (r *Registry) ValidateMutation(name, path string) error {
	a, ok := r.byName[name]
	if !ok {
		return derrors.ErrOwnershipViolation(name, path)
	}
	if a.Validator {
		// The validator inspects and approves; it never mutates.
		return derrors.ErrOwnershipViolation(name, path)
	}
	for _, glob := range a.Owns {
		if ok, err := doublestar.Match(glob, path); err == nil && ok {
			return nil
		}
		// Directory-style globs also cover everything beneath them.
		if ok, err := doublestar.Match(strings.TrimSuffix(glob, "/")+"/**", path); err == nil && ok {
			return nil
		}
	}
	return derrors.ErrOwnershipViolation(name, path)
}

// normalizeTag canonicalizes a capability tag for routing.
func normalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}
