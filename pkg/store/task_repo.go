package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/reqflow/reqflow/pkg/domain"
)

// TaskRepo persists domain.Task rows. Writes replace the whole record
// rather than patching individual columns, since the Agent Runtime and
// Flow Orchestrator always hold the full, current Task in memory before
// they write it back.
type TaskRepo struct {
	pool *Pool
}

// NewTaskRepo constructs a TaskRepo over a shared Pool.
func NewTaskRepo(pool *Pool) *TaskRepo { return &TaskRepo{pool: pool} }

// Upsert writes a task's complete current state.
func (r *TaskRepo) Upsert(ctx context.Context, t *domain.Task) error {
	participants, err := json.Marshal(t.Participants)
	if err != nil {
		return fmt.Errorf("store: marshal participants: %w", err)
	}
	deps, err := json.Marshal(t.Dependencies)
	if err != nil {
		return fmt.Errorf("store: marshal dependencies: %w", err)
	}

	var resultContent *string
	var resultQuality, resultArtifactIDs, resultMetadata []byte
	if t.Result != nil {
		resultContent = &t.Result.Content
		if resultQuality, err = json.Marshal(t.Result.Quality); err != nil {
			return fmt.Errorf("store: marshal result quality: %w", err)
		}
		ids := make([]string, len(t.Result.Artifacts))
		for i, a := range t.Result.Artifacts {
			ids[i] = a.ID
		}
		if resultArtifactIDs, err = json.Marshal(ids); err != nil {
			return fmt.Errorf("store: marshal result artifact ids: %w", err)
		}
		if resultMetadata, err = json.Marshal(t.Result.Metadata); err != nil {
			return fmt.Errorf("store: marshal result metadata: %w", err)
		}
	} else {
		resultArtifactIDs = []byte("[]")
		resultMetadata = []byte("{}")
	}

	var parentID *string
	if t.ParentID != "" {
		parentID = &t.ParentID
	}

	_, err = r.pool.Raw().Exec(ctx, `
		INSERT INTO tasks (id, session_id, parent_id, name, participants, status, progress,
		                    dependencies, result_content, result_quality, result_artifact_ids,
		                    result_metadata, weight, retry_count, created_at, started_at,
		                    finished_at, last_progress_event_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		ON CONFLICT (id) DO UPDATE SET
			parent_id = EXCLUDED.parent_id,
			name = EXCLUDED.name,
			participants = EXCLUDED.participants,
			status = EXCLUDED.status,
			progress = EXCLUDED.progress,
			dependencies = EXCLUDED.dependencies,
			result_content = EXCLUDED.result_content,
			result_quality = EXCLUDED.result_quality,
			result_artifact_ids = EXCLUDED.result_artifact_ids,
			result_metadata = EXCLUDED.result_metadata,
			weight = EXCLUDED.weight,
			retry_count = EXCLUDED.retry_count,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at,
			last_progress_event_at = EXCLUDED.last_progress_event_at`,
		t.ID, t.SessionID, parentID, t.Name, participants, t.Status, t.Progress,
		deps, resultContent, nullIfEmpty(resultQuality), resultArtifactIDs,
		resultMetadata, t.Weight, t.RetryCount, t.CreatedAt, t.StartedAt,
		t.FinishedAt, t.LastProgressEventAt)
	if err != nil {
		return fmt.Errorf("store: upsert task %s: %w", t.ID, err)
	}
	return nil
}

// ListBySession loads every task belonging to a session, in no particular
// order; callers reconstruct the task tree from ParentID/Dependencies.
func (r *TaskRepo) ListBySession(ctx context.Context, sessionID string) ([]*domain.Task, error) {
	rows, err := r.pool.Raw().Query(ctx, `
		SELECT id, session_id, parent_id, name, participants, status, progress, dependencies,
		       result_content, result_quality, result_artifact_ids, result_metadata,
		       weight, retry_count, created_at, started_at, finished_at, last_progress_event_at
		FROM tasks WHERE session_id = $1`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: list tasks for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []*domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Get loads a single task by id.
func (r *TaskRepo) Get(ctx context.Context, id string) (*domain.Task, error) {
	row := r.pool.Raw().QueryRow(ctx, `
		SELECT id, session_id, parent_id, name, participants, status, progress, dependencies,
		       result_content, result_quality, result_artifact_ids, result_metadata,
		       weight, retry_count, created_at, started_at, finished_at, last_progress_event_at
		FROM tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var t domain.Task
	var parentID *string
	var participants, deps, resultQuality, resultArtifactIDs, resultMetadata []byte
	var resultContent *string

	if err := row.Scan(&t.ID, &t.SessionID, &parentID, &t.Name, &participants, &t.Status,
		&t.Progress, &deps, &resultContent, &resultQuality, &resultArtifactIDs, &resultMetadata,
		&t.Weight, &t.RetryCount, &t.CreatedAt, &t.StartedAt, &t.FinishedAt,
		&t.LastProgressEventAt); err != nil {
		return nil, fmt.Errorf("store: scan task: %w", err)
	}
	if parentID != nil {
		t.ParentID = *parentID
	}
	if err := json.Unmarshal(participants, &t.Participants); err != nil {
		return nil, fmt.Errorf("store: unmarshal participants: %w", err)
	}
	if err := json.Unmarshal(deps, &t.Dependencies); err != nil {
		return nil, fmt.Errorf("store: unmarshal dependencies: %w", err)
	}
	if resultContent != nil {
		t.Result = &domain.TaskResult{Content: *resultContent}
		if len(resultQuality) > 0 {
			if err := json.Unmarshal(resultQuality, &t.Result.Quality); err != nil {
				return nil, fmt.Errorf("store: unmarshal result quality: %w", err)
			}
		}
		if err := json.Unmarshal(resultMetadata, &t.Result.Metadata); err != nil {
			return nil, fmt.Errorf("store: unmarshal result metadata: %w", err)
		}
		// Artifacts themselves are loaded separately by ArtifactRepo; only
		// the producing relationship is reconstructed here via the ids.
	}
	return &t, nil
}

func nullIfEmpty(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
