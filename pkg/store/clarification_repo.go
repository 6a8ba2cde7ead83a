package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/reqflow/reqflow/pkg/domain"
)

// ClarificationRepo persists domain.ClarificationRound rows. Rounds are
// append-only: once inserted, a round's questions never change, though its
// Answers and Quality are filled in as the dialogue progresses.
type ClarificationRepo struct {
	pool *Pool
}

// NewClarificationRepo constructs a ClarificationRepo over a shared Pool.
func NewClarificationRepo(pool *Pool) *ClarificationRepo { return &ClarificationRepo{pool: pool} }

// Insert appends a new round. Fails on a duplicate (session_id, sequence)
// pair, which should never happen if the caller holds the session's write
// lock while assigning sequence numbers.
func (r *ClarificationRepo) Insert(ctx context.Context, round *domain.ClarificationRound) error {
	questions, err := json.Marshal(round.Questions)
	if err != nil {
		return fmt.Errorf("store: marshal questions: %w", err)
	}
	answers, err := json.Marshal(round.Answers)
	if err != nil {
		return fmt.Errorf("store: marshal answers: %w", err)
	}
	quality, err := json.Marshal(round.Quality)
	if err != nil {
		return fmt.Errorf("store: marshal quality: %w", err)
	}

	_, err = r.pool.Raw().Exec(ctx, `
		INSERT INTO clarification_rounds (id, session_id, sequence, questions, answers, quality, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		round.ID, round.SessionID, round.Sequence, questions, answers, quality, round.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: insert clarification round %s: %w", round.ID, err)
	}
	return nil
}

// RecordAnswer updates a round's answers and recomputed quality. Idempotent:
// re-submitting the same (round, question, answer) triple is a no-op at the
// orchestrator layer, but storage always accepts the latest write.
func (r *ClarificationRepo) RecordAnswer(ctx context.Context, roundID string, answers map[string]string, quality domain.QualitySnapshot) error {
	answersJSON, err := json.Marshal(answers)
	if err != nil {
		return fmt.Errorf("store: marshal answers: %w", err)
	}
	qualityJSON, err := json.Marshal(quality)
	if err != nil {
		return fmt.Errorf("store: marshal quality: %w", err)
	}
	tag, err := r.pool.Raw().Exec(ctx,
		`UPDATE clarification_rounds SET answers = $2, quality = $3 WHERE id = $1`,
		roundID, answersJSON, qualityJSON)
	if err != nil {
		return fmt.Errorf("store: record answer for round %s: %w", roundID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Latest returns the highest-sequence round for a session, or ErrNotFound
// if no round has been created yet.
func (r *ClarificationRepo) Latest(ctx context.Context, sessionID string) (*domain.ClarificationRound, error) {
	row := r.pool.Raw().QueryRow(ctx, `
		SELECT id, session_id, sequence, questions, answers, quality, created_at
		FROM clarification_rounds WHERE session_id = $1 ORDER BY sequence DESC LIMIT 1`, sessionID)
	round, err := scanRound(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return round, err
}

// ListBySession returns every round for a session in sequence order.
func (r *ClarificationRepo) ListBySession(ctx context.Context, sessionID string) ([]*domain.ClarificationRound, error) {
	rows, err := r.pool.Raw().Query(ctx, `
		SELECT id, session_id, sequence, questions, answers, quality, created_at
		FROM clarification_rounds WHERE session_id = $1 ORDER BY sequence ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: list rounds for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []*domain.ClarificationRound
	for rows.Next() {
		round, err := scanRound(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, round)
	}
	return out, rows.Err()
}

func scanRound(row rowScanner) (*domain.ClarificationRound, error) {
	var round domain.ClarificationRound
	var questions, answers, quality []byte
	if err := row.Scan(&round.ID, &round.SessionID, &round.Sequence, &questions, &answers,
		&quality, &round.CreatedAt); err != nil {
		return nil, fmt.Errorf("store: scan round: %w", err)
	}
	if err := json.Unmarshal(questions, &round.Questions); err != nil {
		return nil, fmt.Errorf("store: unmarshal questions: %w", err)
	}
	if err := json.Unmarshal(answers, &round.Answers); err != nil {
		return nil, fmt.Errorf("store: unmarshal answers: %w", err)
	}
	if len(quality) > 0 {
		if err := json.Unmarshal(quality, &round.Quality); err != nil {
			return nil, fmt.Errorf("store: unmarshal quality: %w", err)
		}
	}
	return &round, nil
}
