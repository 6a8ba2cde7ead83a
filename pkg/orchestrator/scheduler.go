package orchestrator

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/reqflow/reqflow/pkg/domain"
)

// TaskTree owns one session's tasks, keyed by id. Mutation is serialized
// through a single mutex; the ready-set scheduler reads the whole tree at
// once rather than locking per task, since task counts per session are
// small (a handful per phase).
type TaskTree struct {
	mu    sync.Mutex
	byID  map[string]*domain.Task
	order []string // insertion order, used as the FIFO tie-break
}

// NewTaskTree creates an empty tree for a session.
func NewTaskTree() *TaskTree {
	return &TaskTree{byID: make(map[string]*domain.Task)}
}

// Insert adds a task to the tree, rejecting it with InvalidTaskGraph if its
// declared dependencies would form a cycle or reference an unknown task.
func (t *TaskTree) Insert(task *domain.Task) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.byID[task.ID]; exists {
		return &domain.TerminalError{Kind: domain.ErrKindInvalidTaskGraph, Message: fmt.Sprintf("duplicate task id %q", task.ID)}
	}
	for _, depID := range task.Dependencies {
		if depID == task.ID {
			return &domain.TerminalError{Kind: domain.ErrKindInvalidTaskGraph, Message: fmt.Sprintf("task %q depends on itself", task.ID)}
		}
		if _, ok := t.byID[depID]; !ok {
			return &domain.TerminalError{Kind: domain.ErrKindInvalidTaskGraph, Message: fmt.Sprintf("task %q depends on unknown task %q", task.ID, depID)}
		}
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	t.byID[task.ID] = task
	t.order = append(t.order, task.ID)
	if detectCycle(t.byID) {
		// Roll back: a cycle can only be introduced by this insertion since
		// every prior insertion was itself checked.
		delete(t.byID, task.ID)
		t.order = t.order[:len(t.order)-1]
		return &domain.TerminalError{Kind: domain.ErrKindInvalidTaskGraph, Message: fmt.Sprintf("task %q would introduce a dependency cycle", task.ID)}
	}
	return nil
}

// detectCycle runs a simple three-color DFS over the dependency graph.
func detectCycle(byID map[string]*domain.Task) bool {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(byID))
	var visit func(id string) bool
	visit = func(id string) bool {
		switch color[id] {
		case gray:
			return true
		case black:
			return false
		}
		color[id] = gray
		for _, dep := range byID[id].Dependencies {
			if visit(dep) {
				return true
			}
		}
		color[id] = black
		return false
	}
	for id := range byID {
		if color[id] == white {
			if visit(id) {
				return true
			}
		}
	}
	return false
}

// Get returns a task by id.
func (t *TaskTree) Get(id string) (*domain.Task, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	task, ok := t.byID[id]
	return task, ok
}

// Update replaces a task's stored value in place (by id).
func (t *TaskTree) Update(task *domain.Task) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byID[task.ID] = task
}

// All returns every task in insertion order.
func (t *TaskTree) All() []*domain.Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*domain.Task, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.byID[id])
	}
	return out
}

// ReadySet returns every non-terminal task whose dependencies are all
// terminal-success, sorted FIFO by insertion time (CreatedAt) with task id
// as the tie-break for tasks created at the same instant.
func (t *TaskTree) ReadySet() []*domain.Task {
	t.mu.Lock()
	defer t.mu.Unlock()

	var ready []*domain.Task
	for _, id := range t.order {
		task := t.byID[id]
		if task.Status.Terminal() {
			continue
		}
		if task.Status == domain.StatusRunning || task.Status == domain.StatusPreparing {
			continue
		}
		if domain.Ready(task, t.byID) {
			ready = append(ready, task)
		}
	}
	sort.SliceStable(ready, func(i, j int) bool {
		if !ready[i].CreatedAt.Equal(ready[j].CreatedAt) {
			return ready[i].CreatedAt.Before(ready[j].CreatedAt)
		}
		return ready[i].ID < ready[j].ID
	})
	return ready
}

// AllTerminal reports whether every task in the tree has reached a terminal
// status, used to decide when a phase's work is complete.
func (t *TaskTree) AllTerminal() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range t.order {
		if !t.byID[id].Status.Terminal() {
			return false
		}
	}
	return true
}

// AnyFailed reports whether any task in the tree ended in StatusFailed.
func (t *TaskTree) AnyFailed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range t.order {
		if t.byID[id].Status == domain.StatusFailed {
			return true
		}
	}
	return false
}

// Progress computes the root's roll-up progress: a weighted mean of every
// task's own progress (terminal-success tasks count as 1.0), defaulting to
// equal weights when a task's Weight is zero.
func (t *TaskTree) Progress() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.order) == 0 {
		return 0
	}
	var sum, total float64
	for _, id := range t.order {
		task := t.byID[id]
		w := task.Weight
		if w == 0 {
			w = 1
		}
		p := task.Progress
		if task.Status == domain.StatusSucceeded {
			p = 1
		}
		sum += p * w
		total += w
	}
	if total == 0 {
		return 0
	}
	return sum / total
}
