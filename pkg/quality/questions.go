package quality

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/reqflow/reqflow/pkg/domain"
)

// GenerateQuestions builds the next round's question list from the latest
// scored dimensions: weakest dimensions first, capped at cfg.MaxQuestions
// overall and cfg.MaxHighPriorityPerRound "high" priority questions. A
// dimension contributes at most one question per round regardless of how
// many deficiencies it lists, keeping each round's ask small and concrete.
func GenerateQuestions(dims []domain.DimensionScore, cfg Config) []domain.Question {
	var out []domain.Question
	highCount := 0

	for _, d := range lowestFirst(dims) {
		if len(out) >= cfg.MaxQuestions {
			break
		}
		if len(d.Deficiencies) == 0 {
			continue
		}

		priority := priorityFor(d)
		if priority == domain.PriorityHigh {
			if highCount >= cfg.MaxHighPriorityPerRound {
				priority = domain.PriorityMedium
			} else {
				highCount++
			}
		}

		out = append(out, domain.Question{
			ID:       uuid.NewString(),
			Text:     questionText(d),
			Category: string(d.Dimension),
			Priority: priority,
		})
	}
	return out
}

// priorityFor ranks a dimension's urgency: a critical dimension below the
// critical threshold is always "high"; a badly-scoring dimension is
// "medium"; anything else asked about at all is "low".
func priorityFor(d domain.DimensionScore) domain.Priority {
	switch {
	case domain.CriticalDimensions[d.Dimension] && d.Score < 0.7:
		return domain.PriorityHigh
	case d.Score < 0.5:
		return domain.PriorityMedium
	default:
		return domain.PriorityLow
	}
}

// questionText renders a dimension's first deficiency into a question
// prompt. Every generated question uses this phrasing; there is no
// per-dimension override.
func questionText(d domain.DimensionScore) string {
	return fmt.Sprintf("Regarding %s: %s", d.Dimension, d.Deficiencies[0])
}
