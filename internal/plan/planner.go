// Package plan builds the ordered phase list for a new session.
package plan

import (
	"fmt"
	"sort"
	"strings"

	derrors "dirigent/internal/errors"
	"dirigent/internal/registry"
	"dirigent/internal/session"
)

// FinalizeDescription is the fixed description of the terminal phase.
const FinalizeDescription = "Validate changes and finalize delivery"

// FromRequest derives a phase list from the request text and a registry
// snapshot. Capability tags found in the request each contribute one phase
// for their routed worker, ordered by first occurrence in the request (ties
// broken by registry declaration order), deduplicated per worker. A
// terminal phase bound to the validator is always appended. Planning is
// deterministic: the same request against the same registry always yields
// the same phases.
func FromRequest(request string, reg *registry.Registry) ([]session.Phase, error) {
	positions := tokenPositions(request)

	type hit struct {
		worker   string
		tag      string
		pos      int
		declared int
	}
	var hits []hit
	seen := map[string]bool{}

	declared := 0
	for _, agent := range reg.Agents() {
		if agent.Validator {
			// The validator only ever runs the terminal phase; its tags
			// never route mid-session work.
			continue
		}
		for _, tag := range agent.Capabilities {
			pos, ok := positions[strings.ToLower(tag)]
			if !ok || seen[agent.Name] {
				continue
			}
			seen[agent.Name] = true
			hits = append(hits, hit{worker: agent.Name, tag: strings.ToLower(tag), pos: pos, declared: declared})
		}
		declared++
	}

	if len(hits) == 0 {
		return nil, derrors.ErrUnroutableCapability(request)
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].pos != hits[j].pos {
			return hits[i].pos < hits[j].pos
		}
		return hits[i].declared < hits[j].declared
	})

	var phases []session.Phase
	for _, h := range hits {
		phases = append(phases, session.Phase{
			Worker:      h.worker,
			Description: fmt.Sprintf("Handle %s work for this request", h.tag),
		})
	}
	phases = append(phases, session.Phase{
		Worker:      reg.Validator(),
		Description: FinalizeDescription,
	})

	for i := range phases {
		phases[i].Index = i
	}
	return phases, nil
}

// FromSpecs builds a phase list from explicit "worker:description" specs.
// Every worker must resolve in the registry, the validator may not appear
// mid-plan, and no two adjacent phases may share a worker. The terminal
// validator phase is appended when the caller did not supply it.
func FromSpecs(specs []string, reg *registry.Registry) ([]session.Phase, error) {
	if len(specs) == 0 {
		return nil, derrors.ErrUnroutableCapability("(empty plan)")
	}

	var phases []session.Phase
	for _, spec := range specs {
		name, desc, ok := strings.Cut(spec, ":")
		name = strings.TrimSpace(name)
		desc = strings.TrimSpace(desc)
		if !ok || name == "" || desc == "" {
			return nil, fmt.Errorf("invalid phase spec %q (want worker:description)", spec)
		}
		if _, known := reg.Get(name); !known {
			return nil, derrors.ErrUnroutableCapability(name)
		}
		phases = append(phases, session.Phase{Worker: name, Description: desc})
	}

	for i, p := range phases {
		if p.Worker == reg.Validator() && i != len(phases)-1 {
			return nil, fmt.Errorf("validator %q may only run the terminal phase", p.Worker)
		}
		if i > 0 && phases[i-1].Worker == p.Worker {
			return nil, fmt.Errorf("adjacent phases %d and %d are both assigned to %q", i, i+1, p.Worker)
		}
	}

	if phases[len(phases)-1].Worker != reg.Validator() {
		phases = append(phases, session.Phase{
			Worker:      reg.Validator(),
			Description: FinalizeDescription,
		})
	}

	for i := range phases {
		phases[i].Index = i
	}
	return phases, nil
}

// tokenPositions maps each lowercase word of text to its first occurrence
// index.
func tokenPositions(text string) map[string]int {
	positions := map[string]int{}
	word := strings.Builder{}
	idx := 0

	flush := func() {
		if word.Len() == 0 {
			return
		}
		w := word.String()
		if _, ok := positions[w]; !ok {
			positions[w] = idx
		}
		idx++
		word.Reset()
	}

	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			word.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return positions
}
