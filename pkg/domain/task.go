package domain

import "time"

// AgentStatus is shared by CollaborationState role entries and by Task.
type AgentStatus string

const (
	StatusIdle        AgentStatus = "idle"
	StatusPreparing   AgentStatus = "preparing"
	StatusRunning     AgentStatus = "running"
	StatusSucceeded   AgentStatus = "succeeded"
	StatusFailed      AgentStatus = "failed"
	StatusInterrupted AgentStatus = "interrupted"
)

// Terminal reports whether a status will not change again.
func (s AgentStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusInterrupted
}

// Participant identifies one role instance assigned to a Task.
type Participant struct {
	Role    string
	AgentID string
}

// TaskResult is the `{content, quality, artifacts}` result attached to a
// terminal-successful Task.
type TaskResult struct {
	Content   string
	Quality   QualitySnapshot
	Artifacts []Artifact
	Metadata  map[string]string
}

// Task is a node in the flat task-id to Task map; tasks reference their
// dependencies by id only, so cycles are rejected at insertion rather than
// by walking owning pointers.
type Task struct {
	ID           string
	SessionID    string
	ParentID     string // "" for the root task
	Name         string // "clarify", "analyze", "document", "review", or a sub-step name
	Participants []Participant
	Status       AgentStatus
	Progress     float64
	Dependencies []string // task ids that must be terminal-success before this task is ready
	Result       *TaskResult
	Weight       float64 // used for parent progress roll-up; defaults to 1 (equal weights)

	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time

	// RetryCount tracks transient-failure retries (up to 2, backoff 500ms/2s).
	RetryCount int

	// LastProgressEventAt is persisted with the task; nothing sets or reads
	// it, and progress events are not rate-limited.
	LastProgressEventAt time.Time
}

// Ready reports whether every dependency id in deps is terminal-success.
func Ready(t *Task, byID map[string]*Task) bool {
	for _, depID := range t.Dependencies {
		dep, ok := byID[depID]
		if !ok || dep.Status != StatusSucceeded {
			return false
		}
	}
	return true
}
