package domain

import "time"

// EventKind enumerates the Event.kind values.
type EventKind string

const (
	EventKindStateDelta EventKind = "state-delta"
	EventKindMessage    EventKind = "message"
	EventKindTaskUpdate EventKind = "task-update"
	EventKindQuality    EventKind = "quality"
	EventKindPhase      EventKind = "phase"
	EventKindHeartbeat  EventKind = "heartbeat"
	EventKindTerminal   EventKind = "terminal"
)

// replayCritical reports whether a kind must never be evicted from the Event
// Bus's bounded buffer under backpressure: state-delta, task-update, phase,
// message, and terminal are always kept; heartbeat and quality events are
// evicted first.
func (k EventKind) replayCritical() bool {
	switch k {
	case EventKindStateDelta, EventKindMessage, EventKindTaskUpdate, EventKindPhase, EventKindTerminal:
		return true
	default:
		return false
	}
}

// ReplayCritical is the exported form of replayCritical, used by the Event
// Bus's eviction policy.
func (k EventKind) ReplayCritical() bool { return k.replayCritical() }

// Event is the unit published by the Orchestrator and Agent Runtime and
// consumed by subscribers over the Event Bus.
type Event struct {
	SessionID string
	Sequence  int64 // monotonic within session, assigned before publication
	Kind      EventKind
	Payload   any
	Timestamp time.Time
}

// StateDeltaPayload accompanies EventKindStateDelta.
type StateDeltaPayload struct {
	Revision int64             `json:"revision"`
	Changed  map[string]string `json:"changed"`
}

// TaskUpdatePayload accompanies EventKindTaskUpdate.
type TaskUpdatePayload struct {
	TaskID   string      `json:"task_id"`
	Status   AgentStatus `json:"status"`
	Progress float64     `json:"progress"`
}

// QualityPayload accompanies EventKindQuality.
type QualityPayload struct {
	RoundID string          `json:"round_id"`
	Quality QualitySnapshot `json:"quality"`
}

// PhasePayload accompanies EventKindPhase.
type PhasePayload struct {
	Phase Phase          `json:"phase"`
	Error *TerminalError `json:"error,omitempty"`
}

// MessagePayload accompanies EventKindMessage.
type MessagePayload struct {
	Message Message `json:"message"`
}
