package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/reqflow/reqflow/pkg/domain"
)

func TestSnapshotResponse(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	snap := domain.Snapshot{
		Session: domain.Session{
			ID:        "sess-1",
			Mode:      domain.ModeDeep,
			Phase:     domain.PhaseAnalyzing,
			Project:   "checkout-svc",
			CreatedAt: now,
			UpdatedAt: now,
		},
		Progress: 0.5,
		LatestArtifacts: []domain.Artifact{
			{ID: "art-1"},
		},
	}

	resp := snapshotResponse(snap)

	assert.Equal(t, "sess-1", resp.ID)
	assert.Equal(t, domain.ModeDeep, resp.Mode)
	assert.Equal(t, domain.PhaseAnalyzing, resp.Phase)
	assert.Equal(t, "checkout-svc", resp.Project)
	assert.Equal(t, 0.5, resp.Progress)
	assert.Nil(t, resp.TerminalError)
	assert.Len(t, resp.LatestArtifacts, 1)
}

func TestSnapshotResponseIncludesTerminalError(t *testing.T) {
	snap := domain.Snapshot{
		Session: domain.Session{
			ID:            "sess-2",
			Phase:         domain.PhaseFailed,
			TerminalError: &domain.TerminalError{Kind: domain.ErrKindIdleTimeout, Message: "no answer submitted"},
		},
	}

	resp := snapshotResponse(snap)

	assert.NotNil(t, resp.TerminalError)
	assert.Equal(t, domain.ErrKindIdleTimeout, resp.TerminalError.Kind)
}
