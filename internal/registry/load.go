package registry

import (
	"fmt"
	"os"
	"regexp"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	derrors "dirigent/internal/errors"
)

// registryFile is the on-disk shape of .dirigent/agents.yaml.
type registryFile struct {
	Agents []Agent `yaml:"agents"`
}

var agentNameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Load reads and validates the registry at path.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}

	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, derrors.ErrRegistryInvalid(fmt.Sprintf("parse %s: %v", path, err))
	}

	return Build(file.Agents)
}

// Build validates a roster and constructs the registry. Validation fails
// closed: a roster that breaks any invariant yields no registry at all.
func Build(agents []Agent) (*Registry, error) {
	if len(agents) == 0 {
		return nil, derrors.ErrRegistryInvalid("no agents declared")
	}

	r := &Registry{
		agents: agents,
		byName: make(map[string]*Agent, len(agents)),
		routes: make(map[string]string),
	}

	globOwner := map[string]string{}
	for i := range agents {
		a := &agents[i]

		if !agentNameRe.MatchString(a.Name) {
			return nil, derrors.ErrRegistryInvalid(fmt.Sprintf("invalid agent name %q", a.Name))
		}
		if _, dup := r.byName[a.Name]; dup {
			return nil, derrors.ErrRegistryInvalid(fmt.Sprintf("duplicate agent %q", a.Name))
		}
		r.byName[a.Name] = a

		if a.Validator {
			if r.validator != "" {
				return nil, derrors.ErrRegistryInvalid(
					fmt.Sprintf("both %q and %q are marked validator", r.validator, a.Name))
			}
			if len(a.Owns) > 0 {
				return nil, derrors.ErrRegistryInvalid(
					fmt.Sprintf("validator %q must not own paths", a.Name))
			}
			r.validator = a.Name
		}

		for _, tag := range a.Capabilities {
			tag = normalizeTag(tag)
			if tag == "" {
				return nil, derrors.ErrRegistryInvalid(fmt.Sprintf("agent %q has an empty capability", a.Name))
			}
			if owner, dup := r.routes[tag]; dup {
				return nil, derrors.ErrRegistryInvalid(
					fmt.Sprintf("capability %q claimed by both %q and %q", tag, owner, a.Name))
			}
			r.routes[tag] = a.Name
		}

		for _, glob := range a.Owns {
			if !doublestar.ValidatePattern(glob) {
				return nil, derrors.ErrRegistryInvalid(
					fmt.Sprintf("agent %q has invalid glob %q", a.Name, glob))
			}
			if owner, dup := globOwner[glob]; dup {
				return nil, derrors.ErrRegistryInvalid(
					fmt.Sprintf("path glob %q owned by both %q and %q", glob, owner, a.Name))
			}
			globOwner[glob] = a.Name
		}
	}

	if r.validator == "" {
		return nil, derrors.ErrRegistryInvalid("no agent is marked validator")
	}

	return r, nil
}

// SeedTemplate is a minimal agents.yaml written by 'dirigent init' when the
// project has no registry yet.
const SeedTemplate = `# dirigent agent registry
#
# Each agent has exclusive write ownership of its path globs, and each
# capability tag routes to exactly one agent. The validator runs the
# terminal phase, owns nothing, and only inspects and approves.
agents:
  - name: api-agent
    description: Backend endpoints and handlers
    capabilities: [api, backend, endpoint]
    owns:
      - "internal/**"
      - "cmd/**"
  - name: docs-agent
    description: Documentation and examples
    capabilities: [docs, readme]
    owns:
      - "docs/**"
      - "*.md"
  - name: finalize
    description: Validate changes and finalize delivery
    capabilities: [finalize, validate]
    validator: true
`
