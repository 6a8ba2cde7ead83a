package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/reqflow/reqflow/pkg/domain"
)

// EventRepo durably appends every Event, independent of the in-process
// ring buffer's bounded retention. Subscribers reconnecting after the
// ring buffer has evicted an eviction-eligible event can still be served
// from here, at the cost of a database round trip.
type EventRepo struct {
	pool *Pool
}

// NewEventRepo constructs an EventRepo over a shared Pool.
func NewEventRepo(pool *Pool) *EventRepo { return &EventRepo{pool: pool} }

// Insert appends one event. (session_id, sequence) is the primary key, so a
// duplicate insert for an already-assigned sequence fails loudly rather
// than silently overwriting history.
func (r *EventRepo) Insert(ctx context.Context, e domain.Event) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("store: marshal event payload: %w", err)
	}
	_, err = r.pool.Raw().Exec(ctx, `
		INSERT INTO events (session_id, sequence, kind, payload, created_at)
		VALUES ($1,$2,$3,$4,$5)`,
		e.SessionID, e.Sequence, e.Kind, payload, e.Timestamp)
	if err != nil {
		return fmt.Errorf("store: insert event %s#%d: %w", e.SessionID, e.Sequence, err)
	}
	return nil
}

// ListFrom returns every event for a session with sequence > afterSequence,
// in sequence order, used to serve a replay request the ring buffer can no
// longer satisfy.
func (r *EventRepo) ListFrom(ctx context.Context, sessionID string, afterSequence int64) ([]domain.Event, error) {
	rows, err := r.pool.Raw().Query(ctx, `
		SELECT session_id, sequence, kind, payload, created_at
		FROM events WHERE session_id = $1 AND sequence > $2 ORDER BY sequence ASC`,
		sessionID, afterSequence)
	if err != nil {
		return nil, fmt.Errorf("store: list events for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		var e domain.Event
		var raw []byte
		if err := rows.Scan(&e.SessionID, &e.Sequence, &e.Kind, &raw, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		var payload any
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, fmt.Errorf("store: unmarshal event payload: %w", err)
		}
		e.Payload = payload
		out = append(out, e)
	}
	return out, rows.Err()
}

// MaxSequence returns the highest assigned sequence for a session, or 0 if
// none exist, used to resume sequence assignment after a pod restart.
func (r *EventRepo) MaxSequence(ctx context.Context, sessionID string) (int64, error) {
	var max int64
	err := r.pool.Raw().QueryRow(ctx,
		`SELECT COALESCE(MAX(sequence), 0) FROM events WHERE session_id = $1`, sessionID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("store: max sequence for session %s: %w", sessionID, err)
	}
	return max, nil
}
