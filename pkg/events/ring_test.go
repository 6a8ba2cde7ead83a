package events

import (
	"testing"

	"github.com/reqflow/reqflow/pkg/domain"
)

func TestRingEvictsHeartbeatBeforeCritical(t *testing.T) {
	r := newRing(3)
	r.push(domain.Event{Sequence: 1, Kind: domain.EventKindStateDelta})
	r.push(domain.Event{Sequence: 2, Kind: domain.EventKindHeartbeat})
	r.push(domain.Event{Sequence: 3, Kind: domain.EventKindStateDelta})

	// Buffer full; pushing a fourth event must evict the heartbeat, not
	// either state-delta.
	r.push(domain.Event{Sequence: 4, Kind: domain.EventKindTaskUpdate})

	kinds := make(map[int64]domain.EventKind)
	for _, e := range r.buf {
		kinds[e.Sequence] = e.Kind
	}
	if _, ok := kinds[2]; ok {
		t.Fatalf("expected heartbeat (seq 2) to be evicted, buffer = %+v", r.buf)
	}
	for _, seq := range []int64{1, 3, 4} {
		if _, ok := kinds[seq]; !ok {
			t.Fatalf("expected seq %d to remain, buffer = %+v", seq, r.buf)
		}
	}
}

func TestRingEvictsOldestWhenAllCritical(t *testing.T) {
	r := newRing(2)
	r.push(domain.Event{Sequence: 1, Kind: domain.EventKindStateDelta})
	r.push(domain.Event{Sequence: 2, Kind: domain.EventKindTaskUpdate})
	r.push(domain.Event{Sequence: 3, Kind: domain.EventKindPhase})

	if len(r.buf) != 2 {
		t.Fatalf("buffer len = %d, want 2", len(r.buf))
	}
	if r.buf[0].Sequence != 2 {
		t.Fatalf("oldest retained = %d, want 2 (seq 1 evicted)", r.buf[0].Sequence)
	}
}

func TestRingFromDetectsGap(t *testing.T) {
	r := newRing(2)
	r.push(domain.Event{Sequence: 5, Kind: domain.EventKindStateDelta})
	r.push(domain.Event{Sequence: 6, Kind: domain.EventKindStateDelta})

	_, gap := r.from(1)
	if !gap {
		t.Fatalf("from(1): want gap=true, got false")
	}

	events, gap := r.from(5)
	if gap {
		t.Fatalf("from(5): want gap=false, got true")
	}
	if len(events) != 1 || events[0].Sequence != 6 {
		t.Fatalf("from(5) = %+v, want [seq 6]", events)
	}
}
