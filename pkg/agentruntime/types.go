// Package agentruntime runs one role's task through the Think-Act-Reflect
// loop. There is a single executor: it is parameterized entirely by the
// RoleSpec attached to the task, never subclassed per role.
package agentruntime

import (
	"github.com/reqflow/reqflow/pkg/domain"
)

// StepInput is everything a Think step needs to build a prompt.
type StepInput struct {
	Task       *domain.Task
	Step       string // "" for a role with no sub-steps, else one of RoleSpec.SubSteps
	Collab     map[string]string
	Snippets   []string // prior-art text from the knowledge base, if any
	Iteration  int       // 1-based cycle count within the current step
	LastOutput string    // previous cycle's output, set only on a quality retry
}

// rubricDimensions are the six axes the Reflect step scores a role's own
// output against. Distinct from the eight request-quality dimensions in
// pkg/quality, which score the requirement itself rather than a role's
// prose.
var rubricDimensions = []string{
	"completeness", "accuracy", "professionalism", "clarity", "actionability", "innovation",
}

// DefaultThreshold is used when a RoleSpec leaves Threshold unset (zero
// value).
const DefaultThreshold = 0.7

// StepOutput is one Think-Act-Reflect cycle's result.
type StepOutput struct {
	Content string
	Quality float64
	Snapshot domain.QualitySnapshot
	Staging  map[string]string // collaboration-state writes staged for commit
}
