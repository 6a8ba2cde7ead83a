package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/reqflow/reqflow/pkg/domain"
)

func TestNextPhaseQuickSkipsReview(t *testing.T) {
	assert.Equal(t, domain.PhaseAnalyzing, nextPhase(domain.ModeQuick, domain.PhaseClarifying, false))
	assert.Equal(t, domain.PhaseDocumenting, nextPhase(domain.ModeQuick, domain.PhaseAnalyzing, false))
	assert.Equal(t, domain.PhaseDone, nextPhase(domain.ModeQuick, domain.PhaseDocumenting, false))
}

func TestNextPhaseStandardReviews(t *testing.T) {
	assert.Equal(t, domain.PhaseReviewing, nextPhase(domain.ModeStandard, domain.PhaseDocumenting, false))
	assert.Equal(t, domain.PhaseDone, nextPhase(domain.ModeStandard, domain.PhaseReviewing, false))
	assert.Equal(t, domain.PhaseFailed, nextPhase(domain.ModeStandard, domain.PhaseReviewing, true))
}

func TestNextPhaseDeepReviewFailureLoopsBackOnce(t *testing.T) {
	assert.Equal(t, domain.PhaseReviewing, nextPhase(domain.ModeDeep, domain.PhaseDocumenting, false))
	assert.Equal(t, domain.PhaseAnalyzing, nextPhase(domain.ModeDeep, domain.PhaseReviewing, true))
	assert.Equal(t, domain.PhaseDone, nextPhase(domain.ModeDeep, domain.PhaseReviewing, false))
}

func TestNextPhaseTerminalIsFixedPoint(t *testing.T) {
	assert.Equal(t, domain.PhaseDone, nextPhase(domain.ModeStandard, domain.PhaseDone, false))
	assert.Equal(t, domain.PhaseFailed, nextPhase(domain.ModeStandard, domain.PhaseFailed, false))
}

func TestPhaseTaskNameAndRoleMapping(t *testing.T) {
	cases := []struct {
		phase domain.Phase
		task  string
		role  string
	}{
		{domain.PhaseClarifying, "clarify", "clarifier"},
		{domain.PhaseAnalyzing, "analyze", "analyst"},
		{domain.PhaseDocumenting, "document", "writer"},
		{domain.PhaseReviewing, "review", "reviewer"},
	}
	for _, c := range cases {
		assert.Equal(t, c.task, phaseTaskName(c.phase))
		assert.Equal(t, c.role, roleForPhase(c.phase))
	}
}
