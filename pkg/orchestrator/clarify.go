package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/reqflow/reqflow/pkg/domain"
	"github.com/reqflow/reqflow/pkg/llmgateway"
	"github.com/reqflow/reqflow/pkg/masking"
	"github.com/reqflow/reqflow/pkg/quality"
)

// dimensionScorePrompt asks the Clarifier to score the request against the
// eight fixed quality dimensions. This is a direct LLM Gateway call rather
// than a full agentruntime.Executor run: the Clarifier's output here is a
// QualitySnapshot over the request itself, a different thing from the
// six-axis rubric the Agent Runtime's Reflect step scores a role's own
// prose against.
func dimensionScorePrompt(requirementText string, rounds []domain.ClarificationRound) string {
	var b strings.Builder
	b.WriteString("Requirement request:\n")
	b.WriteString(requirementText)
	b.WriteString("\n\n")
	if len(rounds) > 0 {
		b.WriteString("Prior clarification rounds:\n")
		for _, r := range rounds {
			for _, q := range r.Questions {
				fmt.Fprintf(&b, "Q: %s\nA: %s\n", q.Text, r.Answers[q.ID])
			}
		}
		b.WriteString("\n")
	}
	b.WriteString(`Score the request against each of these eight dimensions in [0,1]:
functional, non_functional, user_roles, business_rules, constraints,
acceptance_criteria, integration, data.
For any dimension scoring below 0.7, list concrete missing facets.

Respond with exactly one JSON object, no surrounding prose:
{"functional": {"score": 0.0, "deficiencies": ["..."]}, "non_functional": {...},
 "user_roles": {...}, "business_rules": {...}, "constraints": {...},
 "acceptance_criteria": {...}, "integration": {...}, "data": {...}}`)
	return b.String()
}

type dimensionScoreReply struct {
	Score        float64  `json:"score"`
	Deficiencies []string `json:"deficiencies"`
}

var dimensionJSONRe = regexp.MustCompile(`(?s)\{.*\}`)

func parseDimensionScores(text string) ([]domain.DimensionScore, error) {
	match := dimensionJSONRe.FindString(text)
	if match == "" {
		return nil, errors.New("orchestrator: no JSON object found in clarifier reply")
	}
	var raw map[string]dimensionScoreReply
	if err := json.Unmarshal([]byte(match), &raw); err != nil {
		return nil, fmt.Errorf("orchestrator: parsing clarifier score reply: %w", err)
	}

	out := make([]domain.DimensionScore, 0, len(domain.AllDimensions))
	for _, dim := range domain.AllDimensions {
		r, ok := raw[string(dim)]
		if !ok {
			out = append(out, domain.DimensionScore{Dimension: dim, Deficiencies: []string{"not scored by model"}})
			continue
		}
		out = append(out, domain.DimensionScore{Dimension: dim, Score: r.Score, Deficiencies: r.Deficiencies})
	}
	return out, nil
}

// ClarificationTurn is the result of scoring one clarification round:
// either the gate passes or a new round of questions must be asked, mirrored
// by Outcome.
type ClarificationTurn struct {
	Quality   domain.QualitySnapshot
	Outcome   quality.RoundOutcome
	Questions []domain.Question
}

// RunClarificationTurn scores requirementText (plus prior rounds) against
// the eight dimensions, decides the next RoundOutcome, and — if another
// round is needed — generates its questions.
func RunClarificationTurn(ctx context.Context, gw *llmgateway.Gateway, mask *masking.Service, requirementText string, rounds []domain.ClarificationRound, cfg quality.Config, now time.Time) (ClarificationTurn, error) {
	prompt := mask.Mask(dimensionScorePrompt(requirementText, rounds))

	text, err := gw.Generate(ctx, llmgateway.ModeQuick, prompt)
	if err != nil {
		return ClarificationTurn{}, fmt.Errorf("orchestrator: clarifier score call: %w", err)
	}

	dims, err := parseDimensionScores(text)
	if err != nil {
		return ClarificationTurn{}, err
	}

	snap := quality.Score(dims, cfg, now)
	outcome := quality.Decide(snap, len(rounds)+1, cfg)

	turn := ClarificationTurn{Quality: snap, Outcome: outcome}
	if outcome == quality.OutcomeAskMore {
		turn.Questions = quality.GenerateQuestions(dims, cfg)
	}
	return turn, nil
}
