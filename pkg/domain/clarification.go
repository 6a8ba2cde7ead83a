package domain

import "time"

// Priority is a clarification question's urgency, used for the
// per-round priority budget (no more than 3 "high" per round).
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "med"
	PriorityLow    Priority = "low"
)

// Question is one entry of a ClarificationRound.
type Question struct {
	ID       string
	Text     string
	Category string // one of the 8 quality dimensions
	Priority Priority
}

// Dimension is one of the 8 fixed quality dimensions scored each
// clarification turn.
type Dimension string

const (
	DimFunctional          Dimension = "functional"
	DimNonFunctional       Dimension = "non_functional"
	DimUserRoles           Dimension = "user_roles"
	DimBusinessRules       Dimension = "business_rules"
	DimConstraints         Dimension = "constraints"
	DimAcceptanceCriteria  Dimension = "acceptance_criteria"
	DimIntegration         Dimension = "integration"
	DimData                Dimension = "data"
)

// AllDimensions lists the 8 dimensions in a stable order, used when
// iterating for question generation and weighted scoring.
var AllDimensions = []Dimension{
	DimFunctional, DimNonFunctional, DimUserRoles, DimBusinessRules,
	DimConstraints, DimAcceptanceCriteria, DimIntegration, DimData,
}

// CriticalDimensions gate overall passage independent of the overall score:
// functional, acceptance_criteria, and user_roles must each score >= 0.7.
var CriticalDimensions = map[Dimension]bool{
	DimFunctional:         true,
	DimAcceptanceCriteria: true,
	DimUserRoles:          true,
}

// DimensionScore is one dimension's contribution to a QualitySnapshot.
type DimensionScore struct {
	Dimension    Dimension
	Score        float64 // in [0,1]
	Deficiencies []string
}

// QualitySnapshot is computed on each clarification turn; immutable once
// created.
type QualitySnapshot struct {
	Dimensions  []DimensionScore
	Overall     float64
	GatePassed  bool
	ComputedAt  time.Time
}

// ByDimension looks up a dimension's score, returning zero value if absent.
func (q QualitySnapshot) ByDimension(d Dimension) DimensionScore {
	for _, ds := range q.Dimensions {
		if ds.Dimension == d {
			return ds
		}
	}
	return DimensionScore{Dimension: d}
}

// ClarificationRound is appended as the dialogue progresses, never mutated
// retroactively.
type ClarificationRound struct {
	ID        string
	SessionID string
	Sequence  int
	Questions []Question
	Answers   map[string]string // question id -> answer text
	Quality   QualitySnapshot
	CreatedAt time.Time
}
