package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/reqflow/reqflow/pkg/domain"
	"github.com/reqflow/reqflow/pkg/store"
	"github.com/reqflow/reqflow/pkg/store/storetest"
)

func newTestSession() *domain.Session {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.Session{
		ID:             uuid.NewString(),
		Mode:           domain.ModeStandard,
		Phase:          domain.PhaseClarifying,
		Project:        "acme-billing",
		CreatedAt:      now,
		UpdatedAt:      now,
		LastActivityAt: now,
	}
}

func TestSessionRepoInsertAndGet(t *testing.T) {
	pool := storetest.NewPool(t)
	repo := store.NewSessionRepo(pool)
	ctx := context.Background()

	s := newTestSession()
	require.NoError(t, repo.Insert(ctx, s))

	got, err := repo.Get(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, s.ID, got.ID)
	require.Equal(t, domain.PhaseClarifying, got.Phase)
	require.Nil(t, got.TerminalError)
}

func TestSessionRepoGetNotFound(t *testing.T) {
	pool := storetest.NewPool(t)
	repo := store.NewSessionRepo(pool)

	_, err := repo.Get(context.Background(), uuid.NewString())
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestSessionRepoUpdatePhaseToFailedRecordsError(t *testing.T) {
	pool := storetest.NewPool(t)
	repo := store.NewSessionRepo(pool)
	ctx := context.Background()

	s := newTestSession()
	require.NoError(t, repo.Insert(ctx, s))

	terr := &domain.TerminalError{Kind: domain.ErrKindLLMUnavailable, Message: "provider unreachable"}
	require.NoError(t, repo.UpdatePhase(ctx, s.ID, domain.PhaseFailed, terr, time.Now().UTC()))

	got, err := repo.Get(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PhaseFailed, got.Phase)
	require.NotNil(t, got.TerminalError)
	require.Equal(t, domain.ErrKindLLMUnavailable, got.TerminalError.Kind)
}

func TestSessionRepoClaimForPodIsIdempotent(t *testing.T) {
	pool := storetest.NewPool(t)
	repo := store.NewSessionRepo(pool)
	ctx := context.Background()

	s := newTestSession()
	require.NoError(t, repo.Insert(ctx, s))

	ok, err := repo.ClaimForPod(ctx, s.ID, "pod-a")
	require.NoError(t, err)
	require.True(t, ok)

	// Reclaiming by the same pod succeeds; a different pod cannot steal it.
	ok, err = repo.ClaimForPod(ctx, s.ID, "pod-a")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.ClaimForPod(ctx, s.ID, "pod-b")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSessionRepoListStaleExcludesTerminalSessions(t *testing.T) {
	pool := storetest.NewPool(t)
	repo := store.NewSessionRepo(pool)
	ctx := context.Background()

	old := time.Now().UTC().Add(-1 * time.Hour)

	stale := newTestSession()
	stale.LastActivityAt = old
	require.NoError(t, repo.Insert(ctx, stale))

	done := newTestSession()
	done.Phase = domain.PhaseDone
	done.LastActivityAt = old
	require.NoError(t, repo.Insert(ctx, done))

	fresh := newTestSession()
	require.NoError(t, repo.Insert(ctx, fresh))

	got, err := repo.ListStale(ctx, time.Now().UTC().Add(-30*time.Minute))
	require.NoError(t, err)

	ids := make(map[string]bool, len(got))
	for _, s := range got {
		ids[s.ID] = true
	}
	require.True(t, ids[stale.ID])
	require.False(t, ids[done.ID])
	require.False(t, ids[fresh.ID])
}
