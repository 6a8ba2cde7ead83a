package orchestrator

import (
	"context"
	"time"

	"github.com/reqflow/reqflow/pkg/collab"
	"github.com/reqflow/reqflow/pkg/domain"
)

// The interfaces below are the subset of pkg/store's repositories the
// Orchestrator depends on, accepted rather than the concrete *store.XRepo
// types so tests can substitute in-memory fakes without a database.

// SessionStore persists domain.Session rows.
type SessionStore interface {
	Insert(ctx context.Context, s *domain.Session) error
	Get(ctx context.Context, id string) (*domain.Session, error)
	UpdatePhase(ctx context.Context, id string, phase domain.Phase, terr *domain.TerminalError, now time.Time) error
	TouchActivity(ctx context.Context, id string, now time.Time) error
}

// TaskStore persists domain.Task rows.
type TaskStore interface {
	Upsert(ctx context.Context, t *domain.Task) error
	ListBySession(ctx context.Context, sessionID string) ([]*domain.Task, error)
}

// ClarificationStore persists domain.ClarificationRound rows.
type ClarificationStore interface {
	Insert(ctx context.Context, round *domain.ClarificationRound) error
	RecordAnswer(ctx context.Context, roundID string, answers map[string]string, quality domain.QualitySnapshot) error
	Latest(ctx context.Context, sessionID string) (*domain.ClarificationRound, error)
	ListBySession(ctx context.Context, sessionID string) ([]*domain.ClarificationRound, error)
}

// MessageStore persists domain.Message rows.
type MessageStore interface {
	Insert(ctx context.Context, m *domain.Message) error
}

// ArtifactStore persists domain.Artifact rows.
type ArtifactStore interface {
	Insert(ctx context.Context, a *domain.Artifact) error
	ListBySession(ctx context.Context, sessionID string) ([]*domain.Artifact, error)
}

// CollabStore persists CollaborationState snapshots for cross-pod
// rehydration; the in-memory collab.State is the source of truth while a
// session is active on this pod.
type CollabStore interface {
	Save(ctx context.Context, sessionID string, snap collab.Snapshot) error
	Load(ctx context.Context, sessionID string) (collab.Snapshot, error)
}

// Stores groups every repository the Orchestrator writes through.
type Stores struct {
	Sessions       SessionStore
	Tasks          TaskStore
	Clarifications ClarificationStore
	Messages       MessageStore
	Artifacts      ArtifactStore
	Collab         CollabStore
}
