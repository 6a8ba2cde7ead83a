package store

import (
	"context"
	"fmt"

	"github.com/reqflow/reqflow/pkg/domain"
)

// MessageRepo persists the append-only Message stream.
type MessageRepo struct {
	pool *Pool
}

// NewMessageRepo constructs a MessageRepo over a shared Pool.
func NewMessageRepo(pool *Pool) *MessageRepo { return &MessageRepo{pool: pool} }

// Insert appends one message.
func (r *MessageRepo) Insert(ctx context.Context, m *domain.Message) error {
	_, err := r.pool.Raw().Exec(ctx, `
		INSERT INTO messages (id, session_id, role, author, kind, payload, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		m.ID, m.SessionID, m.Role, m.Author, m.Kind, m.Payload, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: insert message %s: %w", m.ID, err)
	}
	return nil
}

// ListBySession returns every message for a session, oldest first.
func (r *MessageRepo) ListBySession(ctx context.Context, sessionID string) ([]*domain.Message, error) {
	rows, err := r.pool.Raw().Query(ctx, `
		SELECT id, session_id, role, author, kind, payload, created_at
		FROM messages WHERE session_id = $1 ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: list messages for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []*domain.Message
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Author, &m.Kind, &m.Payload, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}
