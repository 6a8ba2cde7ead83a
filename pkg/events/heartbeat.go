package events

import (
	"context"
	"time"

	"github.com/reqflow/reqflow/pkg/clock"
	"github.com/reqflow/reqflow/pkg/domain"
)

// HeartbeatInterval is how often a RunHeartbeat loop publishes a heartbeat
// event for a session with at least one live subscriber.
const HeartbeatInterval = 10 * time.Second

// RunHeartbeat publishes a heartbeat event every HeartbeatInterval, skipping
// ticks while the session has no subscriber, until ctx is cancelled or
// Publish returns an error. A terminal event for the session does not stop
// the loop; the caller's ctx bounds it. Nothing in this module starts it.
func (b *Bus) RunHeartbeat(ctx context.Context, clk clock.Clock, sessionID string) {
	ticks, stop := clk.Ticker(HeartbeatInterval)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticks:
			b.subMu.RLock()
			n := len(b.subs[sessionID])
			b.subMu.RUnlock()
			if n == 0 {
				continue
			}
			if _, err := b.Publish(ctx, sessionID, domain.EventKindHeartbeat, nil); err != nil {
				return
			}
		}
	}
}
