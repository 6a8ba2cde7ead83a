// Package orchestrator drives a Session through its phases end-to-end: it
// owns the task tree, runs the Quality-Driven Clarification Engine, and
// dispatches ready tasks to Agent Runtime instances, one goroutine per task
// bounded by a per-session semaphore.
package orchestrator

import "github.com/reqflow/reqflow/pkg/domain"

// nextPhase computes the phase a session moves to once the current phase's
// work completes successfully. reviewFailed is only consulted when phase is
// reviewing.
func nextPhase(mode domain.Mode, phase domain.Phase, reviewFailed bool) domain.Phase {
	switch phase {
	case domain.PhaseClarifying:
		return domain.PhaseAnalyzing
	case domain.PhaseAnalyzing:
		return domain.PhaseDocumenting
	case domain.PhaseDocumenting:
		if mode == domain.ModeQuick {
			return domain.PhaseDone
		}
		return domain.PhaseReviewing
	case domain.PhaseReviewing:
		if !reviewFailed {
			return domain.PhaseDone
		}
		if mode == domain.ModeDeep {
			// One re-document iteration; a second review failure is fatal,
			// enforced by the caller tracking whether this session has
			// already iterated once (see reviewIterated in runSession).
			return domain.PhaseAnalyzing
		}
		return domain.PhaseFailed
	default:
		return phase
	}
}

// phaseTaskName maps a phase to the root task name seeded for it.
func phaseTaskName(phase domain.Phase) string {
	switch phase {
	case domain.PhaseClarifying:
		return "clarify"
	case domain.PhaseAnalyzing:
		return "analyze"
	case domain.PhaseDocumenting:
		return "document"
	case domain.PhaseReviewing:
		return "review"
	default:
		return string(phase)
	}
}

// roleForPhase maps a phase to the builtin role that drives it.
func roleForPhase(phase domain.Phase) string {
	switch phase {
	case domain.PhaseClarifying:
		return "clarifier"
	case domain.PhaseAnalyzing:
		return "analyst"
	case domain.PhaseDocumenting:
		return "writer"
	case domain.PhaseReviewing:
		return "reviewer"
	default:
		return ""
	}
}
