package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reqflow/reqflow/pkg/agentruntime"
	"github.com/reqflow/reqflow/pkg/domain"
)

func TestIsFatalClassifiesErrors(t *testing.T) {
	assert.True(t, isFatal(&agentruntime.FatalError{Err: errors.New("boom")}))
	assert.False(t, isFatal(&agentruntime.TransientError{Err: errors.New("boom")}))
	assert.True(t, isFatal(errors.New("unclassified")))
}

func TestRunWithRetrySucceedsFirstTry(t *testing.T) {
	task := &domain.Task{ID: "t"}
	calls := 0
	result, err := runWithRetry(context.Background(), task, func(ctx context.Context) (*domain.TaskResult, error) {
		calls++
		return &domain.TaskResult{Content: "ok"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Content)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, task.RetryCount)
}

func TestRunWithRetryFatalErrorStopsImmediately(t *testing.T) {
	task := &domain.Task{ID: "t"}
	calls := 0
	_, err := runWithRetry(context.Background(), task, func(ctx context.Context) (*domain.TaskResult, error) {
		calls++
		return nil, &agentruntime.FatalError{Err: errors.New("nope")}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, task.RetryCount)
}

func TestRunWithRetryTransientErrorRetriesThenGivesUp(t *testing.T) {
	task := &domain.Task{ID: "t"}
	calls := 0
	start := time.Now()
	_, err := runWithRetry(context.Background(), task, func(ctx context.Context) (*domain.TaskResult, error) {
		calls++
		return nil, &agentruntime.TransientError{Err: errors.New("try again")}
	})
	elapsed := time.Since(start)
	require.Error(t, err)
	assert.Equal(t, len(transientBackoff)+1, calls)
	assert.Equal(t, len(transientBackoff), task.RetryCount)
	assert.GreaterOrEqual(t, elapsed, transientBackoff[0]+transientBackoff[1])
}

func TestRunWithRetryTransientThenSuccess(t *testing.T) {
	task := &domain.Task{ID: "t"}
	calls := 0
	result, err := runWithRetry(context.Background(), task, func(ctx context.Context) (*domain.TaskResult, error) {
		calls++
		if calls < 2 {
			return nil, &agentruntime.TransientError{Err: errors.New("retry me")}
		}
		return &domain.TaskResult{Content: "recovered"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "recovered", result.Content)
	assert.Equal(t, 1, task.RetryCount)
}

func TestRunWithRetryContextCancelledDuringBackoffStops(t *testing.T) {
	task := &domain.Task{ID: "t"}
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := runWithRetry(ctx, task, func(ctx context.Context) (*domain.TaskResult, error) {
		calls++
		return nil, &agentruntime.TransientError{Err: errors.New("retry me")}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
