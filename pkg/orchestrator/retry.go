package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/reqflow/reqflow/pkg/agentruntime"
	"github.com/reqflow/reqflow/pkg/domain"
)

// transientBackoff is the fixed two-step backoff schedule a transient task
// failure uses: 500ms before the first retry, 2s before the second.
var transientBackoff = []time.Duration{500 * time.Millisecond, 2 * time.Second}

// isFatal reports whether err should abort the task's phase rather than be
// retried.
func isFatal(err error) bool {
	var fe *agentruntime.FatalError
	if errors.As(err, &fe) {
		return true
	}
	var te *agentruntime.TransientError
	if errors.As(err, &te) {
		return false
	}
	// Anything not already classified by the Agent Runtime (e.g. a context
	// cancellation) is treated as fatal: retrying an unclassified error
	// risks retrying a cancellation or a programmer error indefinitely.
	return true
}

// runWithRetry wraps an Agent Runtime execution with the task-level
// transient-retry policy: up to len(transientBackoff) retries, sleeping the
// matching backoff step between attempts, before giving up and returning
// the last error.
func runWithRetry(ctx context.Context, task *domain.Task, run func(ctx context.Context) (*domain.TaskResult, error)) (*domain.TaskResult, error) {
	var lastErr error
	attempts := len(transientBackoff) + 1
	for attempt := 0; attempt < attempts; attempt++ {
		result, err := run(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if isFatal(err) {
			return nil, err
		}
		if attempt >= len(transientBackoff) {
			break
		}
		task.RetryCount++
		select {
		case <-time.After(transientBackoff[attempt]):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}
