package api

import (
	"time"

	"github.com/reqflow/reqflow/pkg/domain"
)

// StartSessionResponse is returned by POST /api/v1/sessions.
type StartSessionResponse struct {
	SessionID string `json:"session_id"`
}

// CancelResponse is returned by POST /api/v1/sessions/:id/cancel.
type CancelResponse struct {
	SessionID string `json:"session_id"`
	Cancelled bool   `json:"cancelled"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// SnapshotResponse is returned by GET /api/v1/sessions/:id. It reshapes
// domain.Snapshot into the wire format so JSON field naming doesn't leak
// domain-package struct tags into the core.
type SnapshotResponse struct {
	ID              string                      `json:"id"`
	Mode            domain.Mode                 `json:"mode"`
	Phase           domain.Phase                `json:"phase"`
	Project         string                      `json:"project,omitempty"`
	CreatedAt       string                      `json:"created_at"`
	UpdatedAt       string                      `json:"updated_at"`
	Progress        float64                     `json:"progress"`
	TerminalError   *domain.TerminalError       `json:"terminal_error,omitempty"`
	LatestRound     *domain.ClarificationRound  `json:"latest_round,omitempty"`
	LatestArtifacts []domain.Artifact           `json:"latest_artifacts,omitempty"`
}

func snapshotResponse(snap domain.Snapshot) SnapshotResponse {
	return SnapshotResponse{
		ID:              snap.Session.ID,
		Mode:            snap.Session.Mode,
		Phase:           snap.Session.Phase,
		Project:         snap.Session.Project,
		CreatedAt:       snap.Session.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:       snap.Session.UpdatedAt.Format(time.RFC3339Nano),
		Progress:        snap.Progress,
		TerminalError:   snap.Session.TerminalError,
		LatestRound:     snap.LatestRound,
		LatestArtifacts: snap.LatestArtifacts,
	}
}
