// Package quality implements the Quality-Driven Clarification Engine: it
// scores a request against the eight fixed dimensions, decides whether the
// clarification gate passes, and generates the next round of questions
// when it doesn't.
package quality

import (
	"sort"
	"time"

	"github.com/reqflow/reqflow/pkg/domain"
)

// Config holds the thresholds and budgets governing one session's
// clarification dialogue.
type Config struct {
	// OverallThreshold is the minimum overall score for the gate to pass.
	OverallThreshold float64
	// CriticalThreshold is the minimum score every critical dimension must
	// reach, independent of OverallThreshold.
	CriticalThreshold float64
	// MaxRounds bounds how many clarification rounds run before the
	// max-rounds fallback applies.
	MaxRounds int
	// FloorOverall is the minimum overall score the max-rounds fallback
	// will accept; below it, the session fails with ClarificationExhausted
	// instead of proceeding.
	FloorOverall float64
	// MaxQuestions bounds how many questions one round asks.
	MaxQuestions int
	// MaxHighPriorityPerRound bounds how many "high" priority questions one
	// round asks, regardless of MaxQuestions.
	MaxHighPriorityPerRound int
}

// DefaultConfig returns the engine's default thresholds.
func DefaultConfig() Config {
	return Config{
		OverallThreshold:        0.8,
		CriticalThreshold:       0.7,
		MaxRounds:               8,
		FloorOverall:            0.6,
		MaxQuestions:            5,
		MaxHighPriorityPerRound: 3,
	}
}

// Score computes a QualitySnapshot from per-dimension scores, using equal
// weights across all eight dimensions unless a role overrides them via its
// own QualityWeights (left to the caller; this function always weighs
// equally, matching the engine's default).
func Score(dims []domain.DimensionScore, cfg Config, now time.Time) domain.QualitySnapshot {
	var sum float64
	for _, d := range dims {
		sum += d.Score
	}
	overall := 0.0
	if len(dims) > 0 {
		overall = sum / float64(len(dims))
	}

	snap := domain.QualitySnapshot{
		Dimensions: dims,
		Overall:    overall,
		ComputedAt: now,
	}
	snap.GatePassed = evaluateGate(snap, cfg)
	return snap
}

// evaluateGate applies the gate rule: overall must meet OverallThreshold
// AND every critical dimension must independently meet CriticalThreshold.
// Both comparisons are inclusive at the boundary.
func evaluateGate(snap domain.QualitySnapshot, cfg Config) bool {
	if snap.Overall < cfg.OverallThreshold {
		return false
	}
	for dim := range domain.CriticalDimensions {
		if snap.ByDimension(dim).Score < cfg.CriticalThreshold {
			return false
		}
	}
	return true
}

// RoundOutcome is the engine's decision after scoring one clarification
// round.
type RoundOutcome string

const (
	// OutcomeProceed means the gate passed, or the max-rounds fallback
	// accepted the current overall score: the session should move to
	// analyzing.
	OutcomeProceed RoundOutcome = "proceed"
	// OutcomeAskMore means the gate failed and rounds remain: generate
	// another round of questions.
	OutcomeAskMore RoundOutcome = "ask_more"
	// OutcomeExhausted means max rounds were reached and the overall score
	// is below the fallback floor: the session should fail with
	// domain.ErrKindClarificationExhausted.
	OutcomeExhausted RoundOutcome = "exhausted"
)

// Decide returns what the Orchestrator should do next given the latest
// snapshot and how many rounds have run so far (including the one that
// produced snap).
func Decide(snap domain.QualitySnapshot, roundsSoFar int, cfg Config) RoundOutcome {
	if snap.GatePassed {
		return OutcomeProceed
	}
	if roundsSoFar >= cfg.MaxRounds {
		if snap.Overall >= cfg.FloorOverall {
			return OutcomeProceed
		}
		return OutcomeExhausted
	}
	return OutcomeAskMore
}

// lowestFirst sorts a copy of dims ascending by score, so the weakest
// dimensions are addressed first by question generation.
func lowestFirst(dims []domain.DimensionScore) []domain.DimensionScore {
	out := make([]domain.DimensionScore, len(dims))
	copy(out, dims)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score < out[j].Score })
	return out
}
