// Package events implements the Event Bus: a per-session, sequence-numbered
// stream of domain.Event values delivered to WebSocket and SSE subscribers,
// with a bounded in-process replay buffer and a PostgreSQL LISTEN/NOTIFY
// layer for fan-out across pods.
package events

// SessionChannel returns the LISTEN/NOTIFY channel name for a session.
func SessionChannel(sessionID string) string {
	return "session:" + sessionID
}

// ClientMessage is the JSON structure for client to server WebSocket
// control messages.
type ClientMessage struct {
	Action      string `json:"action"`                  // "subscribe", "unsubscribe", "catchup", "ping"
	LastEventID *int64 `json:"last_event_id,omitempty"` // for catchup
}
