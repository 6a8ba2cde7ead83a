package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/reqflow/reqflow/pkg/collab"
	"github.com/reqflow/reqflow/pkg/domain"
)

// CollabRepo persists the CollaborationState snapshot for each session.
// The in-memory collab.State is the source of truth while a session is
// active; this repository exists so a pod restart can rehydrate state for
// sessions it picks up from another pod.
type CollabRepo struct {
	pool *Pool
}

// NewCollabRepo constructs a CollabRepo over a shared Pool.
func NewCollabRepo(pool *Pool) *CollabRepo { return &CollabRepo{pool: pool} }

// Save writes the current snapshot, replacing whatever was stored before.
func (r *CollabRepo) Save(ctx context.Context, sessionID string, snap collab.Snapshot) error {
	data, err := json.Marshal(snap.Data)
	if err != nil {
		return fmt.Errorf("store: marshal collab data: %w", err)
	}
	roles, err := json.Marshal(snap.Roles)
	if err != nil {
		return fmt.Errorf("store: marshal collab roles: %w", err)
	}

	_, err = r.pool.Raw().Exec(ctx, `
		INSERT INTO collaboration_state (session_id, revision, data, roles, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (session_id) DO UPDATE SET
			revision = EXCLUDED.revision,
			data = EXCLUDED.data,
			roles = EXCLUDED.roles,
			updated_at = now()
		WHERE collaboration_state.revision < EXCLUDED.revision`,
		sessionID, snap.Revision, data, roles)
	if err != nil {
		return fmt.Errorf("store: save collab state %s: %w", sessionID, err)
	}
	return nil
}

// Load reconstructs a collab.Snapshot for rehydration. Returns ErrNotFound
// if the session has no persisted state yet.
func (r *CollabRepo) Load(ctx context.Context, sessionID string) (collab.Snapshot, error) {
	row := r.pool.Raw().QueryRow(ctx,
		`SELECT revision, data, roles FROM collaboration_state WHERE session_id = $1`, sessionID)

	var snap collab.Snapshot
	var data, roles []byte
	if err := row.Scan(&snap.Revision, &data, &roles); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return collab.Snapshot{}, ErrNotFound
		}
		return collab.Snapshot{}, fmt.Errorf("store: load collab state %s: %w", sessionID, err)
	}
	if err := json.Unmarshal(data, &snap.Data); err != nil {
		return collab.Snapshot{}, fmt.Errorf("store: unmarshal collab data: %w", err)
	}
	var roleMap map[string]domain.AgentStatus
	if err := json.Unmarshal(roles, &roleMap); err != nil {
		return collab.Snapshot{}, fmt.Errorf("store: unmarshal collab roles: %w", err)
	}
	snap.Roles = roleMap
	return snap, nil
}
