package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reqflow/reqflow/pkg/domain"
)

// notifyPayloadLimit is PostgreSQL's NOTIFY payload ceiling (8000 bytes).
// Payloads over this are truncated to a pointer event; the full event is
// still in the durable store and the ring buffer of the publishing pod. A
// receiving pod delivers the truncated event as is.
const notifyPayloadLimit = 8000

// Notifier publishes events to other pods via PostgreSQL NOTIFY and listens
// for events published by them, forwarding each into a local Bus.
type Notifier struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// NewNotifier constructs a Notifier over a dedicated pgxpool.Pool. The pool
// should be separate from the one used for regular queries, since
// WaitForNotification holds its connection open indefinitely per listened
// channel.
func NewNotifier(pool *pgxpool.Pool, log *slog.Logger) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{pool: pool, log: log}
}

// Publish sends e on sessionID's NOTIFY channel.
func (n *Notifier) Publish(ctx context.Context, sessionID string, e domain.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("events: marshal notify payload: %w", err)
	}
	if len(payload) > notifyPayloadLimit {
		payload, err = json.Marshal(truncatedEvent(e))
		if err != nil {
			return fmt.Errorf("events: marshal truncated notify payload: %w", err)
		}
	}
	_, err = n.pool.Exec(ctx, "SELECT pg_notify($1, $2)", SessionChannel(sessionID), string(payload))
	if err != nil {
		return fmt.Errorf("events: pg_notify session %s: %w", sessionID, err)
	}
	return nil
}

func truncatedEvent(e domain.Event) domain.Event {
	return domain.Event{
		SessionID: e.SessionID,
		Sequence:  e.Sequence,
		Kind:      e.Kind,
		Timestamp: e.Timestamp,
		Payload:   map[string]bool{"truncated": true},
	}
}

// Listen subscribes to a session's NOTIFY channel on a dedicated connection
// and forwards every decoded event to bus.DeliverRemote until ctx is
// cancelled. Reconnects with a fixed backoff on connection loss, mirroring
// the reconnect loop a long-lived LISTEN client needs in front of a pooled
// connection that can be closed out from under it.
func (n *Notifier) Listen(ctx context.Context, bus *Bus, sessionID string) {
	channel := SessionChannel(sessionID)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := n.listenOnce(ctx, bus, channel); err != nil {
			n.log.Warn("events: notify listen error, reconnecting", "channel", channel, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}
}

func (n *Notifier) listenOnce(ctx context.Context, bus *Bus, channel string) error {
	conn, err := n.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgxQuoteIdent(channel)); err != nil {
		return fmt.Errorf("LISTEN %s: %w", channel, err)
	}

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		var e domain.Event
		if err := json.Unmarshal([]byte(notification.Payload), &e); err != nil {
			n.log.Warn("events: failed to decode notify payload", "channel", channel, "error", err)
			continue
		}
		bus.DeliverRemote(e)
	}
}

// pgxQuoteIdent quotes a NOTIFY/LISTEN channel identifier. Channel names
// here are always "session:<uuid>", but quoting keeps this safe if that
// ever changes.
func pgxQuoteIdent(ident string) string {
	return `"` + ident + `"`
}
