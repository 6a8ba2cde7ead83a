package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/reqflow/reqflow/pkg/domain"
)

// Execute runs task and returns its result, or an error that isFatal (see
// retry.go) classifies.
type Execute func(ctx context.Context, task *domain.Task) (*domain.TaskResult, error)

// RunTasks drives tree's ready-set to completion, dispatching at most
// maxConcurrent tasks at a time with a buffered-channel semaphore — the
// same idiom pkg/llmgateway bounds provider concurrency with. A task whose
// Execute call returns a fatal error aborts the phase: no further tasks are
// dispatched, but tasks already in flight are allowed to reach a terminal
// state before RunTasks returns, matching the requirement that cancellation
// only ends a session once every in-flight task is terminal.
func RunTasks(ctx context.Context, tree *TaskTree, maxConcurrent int, execute Execute) error {
	sem := make(chan struct{}, maxConcurrent)
	notify := make(chan struct{}, 1)
	wake := func() {
		select {
		case notify <- struct{}{}:
		default:
		}
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstFatal error
	var aborted atomic.Bool

	dispatch := func(task *domain.Task) {
		task.Status = domain.StatusPreparing
		tree.Update(task)

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer wake()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				mu.Lock()
				task.Status = domain.StatusInterrupted
				tree.Update(task)
				mu.Unlock()
				return
			}
			defer func() { <-sem }()

			startedAt := time.Now().UTC()
			mu.Lock()
			task.StartedAt = &startedAt
			task.Status = domain.StatusRunning
			tree.Update(task)
			mu.Unlock()

			result, err := execute(ctx, task)

			finishedAt := time.Now().UTC()
			mu.Lock()
			defer mu.Unlock()
			task.FinishedAt = &finishedAt
			if err != nil {
				task.Status = domain.StatusFailed
				if isFatal(err) && firstFatal == nil {
					firstFatal = err
					aborted.Store(true)
				}
			} else {
				task.Status = domain.StatusSucceeded
				task.Progress = 1
				task.Result = result
			}
			tree.Update(task)
		}()
	}

	dispatched := make(map[string]bool)
	for {
		if !aborted.Load() {
			for _, task := range tree.ReadySet() {
				if dispatched[task.ID] {
					continue
				}
				dispatched[task.ID] = true
				dispatch(task)
			}
		}

		if tree.AllTerminal() {
			break
		}
		if aborted.Load() && !anyInFlight(tree) {
			break
		}

		select {
		case <-notify:
		case <-ctx.Done():
			wg.Wait()
			mu.Lock()
			defer mu.Unlock()
			if firstFatal != nil {
				return firstFatal
			}
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}

	wg.Wait()
	mu.Lock()
	defer mu.Unlock()
	return firstFatal
}

func anyInFlight(tree *TaskTree) bool {
	for _, t := range tree.All() {
		if t.Status == domain.StatusPreparing || t.Status == domain.StatusRunning {
			return true
		}
	}
	return false
}
