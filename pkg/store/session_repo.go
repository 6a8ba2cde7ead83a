package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/reqflow/reqflow/pkg/domain"
)

// ErrNotFound is returned by a repository Get when no row matches.
var ErrNotFound = errors.New("store: not found")

// SessionRepo persists domain.Session rows.
type SessionRepo struct {
	pool *Pool
}

// NewSessionRepo constructs a SessionRepo over a shared Pool.
func NewSessionRepo(pool *Pool) *SessionRepo { return &SessionRepo{pool: pool} }

// Insert creates a new session row. Fails if the id already exists.
func (r *SessionRepo) Insert(ctx context.Context, s *domain.Session) error {
	_, err := r.pool.Raw().Exec(ctx, `
		INSERT INTO sessions (id, mode, phase, project, pod_id, created_at, updated_at, last_activity_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.ID, s.Mode, s.Phase, s.Project, s.PodID, s.CreatedAt, s.UpdatedAt, s.LastActivityAt)
	if err != nil {
		return fmt.Errorf("store: insert session %s: %w", s.ID, err)
	}
	return nil
}

// Get loads a session by id. Returns ErrNotFound if no row matches.
func (r *SessionRepo) Get(ctx context.Context, id string) (*domain.Session, error) {
	row := r.pool.Raw().QueryRow(ctx, `
		SELECT id, mode, phase, project, pod_id, error_kind, error_message,
		       created_at, updated_at, last_activity_at
		FROM sessions WHERE id = $1`, id)

	var s domain.Session
	var errKind, errMsg *string
	if err := row.Scan(&s.ID, &s.Mode, &s.Phase, &s.Project, &s.PodID, &errKind, &errMsg,
		&s.CreatedAt, &s.UpdatedAt, &s.LastActivityAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get session %s: %w", id, err)
	}
	if errKind != nil {
		s.TerminalError = &domain.TerminalError{Kind: domain.ErrorKind(*errKind), Message: derefStr(errMsg)}
	}
	return &s, nil
}

// UpdatePhase transitions a session's phase, bumping updated_at and
// last_activity_at, and records the terminal error when transitioning to
// PhaseFailed. Only the phase, error and timestamp columns are written.
func (r *SessionRepo) UpdatePhase(ctx context.Context, id string, phase domain.Phase, terr *domain.TerminalError, now time.Time) error {
	var kind, msg *string
	if terr != nil {
		k, m := string(terr.Kind), terr.Message
		kind, msg = &k, &m
	}
	tag, err := r.pool.Raw().Exec(ctx, `
		UPDATE sessions
		SET phase = $2, error_kind = $3, error_message = $4, updated_at = $5, last_activity_at = $5
		WHERE id = $1`, id, phase, kind, msg, now)
	if err != nil {
		return fmt.Errorf("store: update session phase %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchActivity bumps last_activity_at, used on every clarification
// submission and at the start of every task attempt (UpdatePhase bumps it
// on phase transitions) to feed the stale-session reaper.
func (r *SessionRepo) TouchActivity(ctx context.Context, id string, now time.Time) error {
	tag, err := r.pool.Raw().Exec(ctx,
		`UPDATE sessions SET last_activity_at = $2 WHERE id = $1`, id, now)
	if err != nil {
		return fmt.Errorf("store: touch session activity %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimForPod assigns a session to a pod id, used when a worker picks up an
// unowned or orphaned session. Only succeeds if the session is currently
// unowned or already owned by podID (idempotent reclaim).
func (r *SessionRepo) ClaimForPod(ctx context.Context, id, podID string) (bool, error) {
	tag, err := r.pool.Raw().Exec(ctx, `
		UPDATE sessions SET pod_id = $2
		WHERE id = $1 AND (pod_id = '' OR pod_id = $2)`, id, podID)
	if err != nil {
		return false, fmt.Errorf("store: claim session %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListStale returns non-terminal sessions whose last_activity_at is older
// than cutoff, used by the reaper to fail sessions abandoned by a crashed
// pod.
func (r *SessionRepo) ListStale(ctx context.Context, cutoff time.Time) ([]*domain.Session, error) {
	rows, err := r.pool.Raw().Query(ctx, `
		SELECT id, mode, phase, project, pod_id, created_at, updated_at, last_activity_at
		FROM sessions
		WHERE phase NOT IN ($1, $2) AND last_activity_at < $3`,
		domain.PhaseDone, domain.PhaseFailed, cutoff)
	if err != nil {
		return nil, fmt.Errorf("store: list stale sessions: %w", err)
	}
	defer rows.Close()

	var out []*domain.Session
	for rows.Next() {
		var s domain.Session
		if err := rows.Scan(&s.ID, &s.Mode, &s.Phase, &s.Project, &s.PodID,
			&s.CreatedAt, &s.UpdatedAt, &s.LastActivityAt); err != nil {
			return nil, fmt.Errorf("store: scan stale session: %w", err)
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

// PurgeOlderThan permanently deletes terminal sessions (and their
// cascading rows) whose updated_at predates cutoff, used by the retention
// sweep.
func (r *SessionRepo) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Raw().Exec(ctx, `
		DELETE FROM sessions
		WHERE phase IN ($1, $2) AND updated_at < $3`,
		domain.PhaseDone, domain.PhaseFailed, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: purge sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
