// Package roles holds RoleSpec: the declarative definition of a role
// (clarifier, analyst, writer, reviewer, or a project-specific one loaded
// from YAML) that the single Agent Runtime executor is parameterized by.
// There is no per-role subclassing; every role runs through the same
// Think-Act-Reflect loop, differing only in the RoleSpec it was given.
package roles

import "fmt"

// QualityWeights maps a quality dimension name to its contribution to a
// role's own output-quality score, used by the Agent Runtime's Reflect step
// to decide whether a cycle needs a retry.
type QualityWeights map[string]float64

// RoleSpec is the full, static definition of one role.
type RoleSpec struct {
	ID          string
	Name        string
	Description string

	// SubSteps are the named pieces of work a role breaks its task into,
	// each becoming a child Task. A role with no sub-steps executes as one
	// task.
	SubSteps []string

	// PromptTemplates maps a step name ("" for the root step, or one of
	// SubSteps) to the prompt template used to build that step's LLM call.
	PromptTemplates map[string]string

	QualityWeights QualityWeights

	// Threshold is the minimum output-quality score (0-1) that the Reflect
	// step requires before accepting a cycle's result; below it, the role
	// retries once more before falling back to its current best attempt.
	Threshold float64

	// MaxIterations is a per-role default independent of session mode. The
	// Agent Runtime does not read it; its Think-Act-Reflect loop is bounded
	// by a fixed two cycles.
	MaxIterations int
}

// Registry holds RoleSpecs keyed by id. Loaded once at startup from the
// built-ins plus any YAML overlay; read-only thereafter, so no locking is
// needed.
type Registry struct {
	specs map[string]*RoleSpec
}

// NewRegistry builds a Registry from a set of specs, rejecting duplicate
// ids and specs with no PromptTemplates entry for their root step.
func NewRegistry(specs ...*RoleSpec) (*Registry, error) {
	r := &Registry{specs: make(map[string]*RoleSpec, len(specs))}
	for _, s := range specs {
		if s.ID == "" {
			return nil, fmt.Errorf("roles: spec with empty id")
		}
		if _, exists := r.specs[s.ID]; exists {
			return nil, fmt.Errorf("roles: duplicate spec id %q", s.ID)
		}
		if _, ok := s.PromptTemplates[""]; !ok && len(s.SubSteps) == 0 {
			return nil, fmt.Errorf("roles: spec %q has no root prompt template and no sub-steps", s.ID)
		}
		r.specs[s.ID] = s
	}
	return r, nil
}

// Get returns the spec for id, or false if unknown.
func (r *Registry) Get(id string) (*RoleSpec, bool) {
	s, ok := r.specs[id]
	return s, ok
}

// All returns every registered spec in no particular order.
func (r *Registry) All() []*RoleSpec {
	out := make([]*RoleSpec, 0, len(r.specs))
	for _, s := range r.specs {
		out = append(out, s)
	}
	return out
}

// Len reports the number of registered specs.
func (r *Registry) Len() int { return len(r.specs) }
