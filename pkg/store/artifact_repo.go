package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/reqflow/reqflow/pkg/domain"
)

// ArtifactRepo persists domain.Artifact blobs.
type ArtifactRepo struct {
	pool *Pool
}

// NewArtifactRepo constructs an ArtifactRepo over a shared Pool.
func NewArtifactRepo(pool *Pool) *ArtifactRepo { return &ArtifactRepo{pool: pool} }

// Insert writes a new artifact.
func (r *ArtifactRepo) Insert(ctx context.Context, a *domain.Artifact) error {
	var producingTaskID *string
	if a.ProducingTaskID != "" {
		producingTaskID = &a.ProducingTaskID
	}
	_, err := r.pool.Raw().Exec(ctx, `
		INSERT INTO artifacts (id, session_id, name, content_type, content, producing_task_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		a.ID, a.SessionID, a.Name, a.ContentType, a.Content, producingTaskID, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: insert artifact %s: %w", a.ID, err)
	}
	return nil
}

// Get loads a single artifact by id.
func (r *ArtifactRepo) Get(ctx context.Context, id string) (*domain.Artifact, error) {
	row := r.pool.Raw().QueryRow(ctx, `
		SELECT id, session_id, name, content_type, content, producing_task_id, created_at
		FROM artifacts WHERE id = $1`, id)
	a, err := scanArtifact(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

// ListBySession returns every artifact produced in a session.
func (r *ArtifactRepo) ListBySession(ctx context.Context, sessionID string) ([]*domain.Artifact, error) {
	rows, err := r.pool.Raw().Query(ctx, `
		SELECT id, session_id, name, content_type, content, producing_task_id, created_at
		FROM artifacts WHERE session_id = $1 ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: list artifacts for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []*domain.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanArtifact(row rowScanner) (*domain.Artifact, error) {
	var a domain.Artifact
	var producingTaskID *string
	if err := row.Scan(&a.ID, &a.SessionID, &a.Name, &a.ContentType, &a.Content, &producingTaskID, &a.CreatedAt); err != nil {
		return nil, fmt.Errorf("store: scan artifact: %w", err)
	}
	if producingTaskID != nil {
		a.ProducingTaskID = *producingTaskID
	}
	return &a, nil
}
