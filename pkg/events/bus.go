package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/reqflow/reqflow/pkg/domain"
)

// Store is the durable append-only sink a Bus writes every event to before
// fan-out, and reads from when a subscriber's catchup request outruns the
// ring buffer. Satisfied by *store.EventRepo.
type Store interface {
	Insert(ctx context.Context, e domain.Event) error
	ListFrom(ctx context.Context, sessionID string, afterSequence int64) ([]domain.Event, error)
	MaxSequence(ctx context.Context, sessionID string) (int64, error)
}

// Notifier fans an event out to other pods via PostgreSQL NOTIFY. Satisfied
// by *Notifier (notify.go); a nil Notifier disables cross-pod fan-out for
// single-pod deployments and tests.
type Notifier interface {
	Publish(ctx context.Context, sessionID string, e domain.Event) error
}

// Bus is the Event Bus: it assigns monotonic per-session sequence numbers,
// persists every event, fans it out to local subscribers and (optionally)
// other pods, and serves bounded replay from its in-process ring buffer.
type Bus struct {
	store    Store
	notifier Notifier

	seqMu  sync.Mutex
	seqs   map[string]*int64 // session id -> last assigned sequence

	subMu sync.RWMutex
	subs  map[string]map[*Subscription]struct{}

	rings *ringSet
}

// New constructs a Bus. notifier may be nil.
func New(store Store, notifier Notifier) *Bus {
	return &Bus{
		store:    store,
		notifier: notifier,
		seqs:     make(map[string]*int64),
		subs:     make(map[string]map[*Subscription]struct{}),
		rings:    newRingSet(),
	}
}

// Hydrate primes a session's sequence counter from durable storage, used
// when a pod picks up an existing session so newly assigned sequences
// continue from where another pod left off.
func (b *Bus) Hydrate(ctx context.Context, sessionID string) error {
	max, err := b.store.MaxSequence(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("events: hydrate sequence for session %s: %w", sessionID, err)
	}
	b.seqMu.Lock()
	v := max
	b.seqs[sessionID] = &v
	b.seqMu.Unlock()
	return nil
}

func (b *Bus) nextSequence(sessionID string) int64 {
	b.seqMu.Lock()
	defer b.seqMu.Unlock()
	ptr, ok := b.seqs[sessionID]
	if !ok {
		var zero int64
		ptr = &zero
		b.seqs[sessionID] = ptr
	}
	return atomic.AddInt64(ptr, 1)
}

// Publish assigns the next sequence number for sessionID, persists the
// event, and delivers it to local subscribers and (if configured) other
// pods. A terminal-kind event closes every local subscription for the
// session after delivery.
func (b *Bus) Publish(ctx context.Context, sessionID string, kind domain.EventKind, payload any) (domain.Event, error) {
	e := domain.Event{
		SessionID: sessionID,
		Sequence:  b.nextSequence(sessionID),
		Kind:      kind,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}

	if err := b.store.Insert(ctx, e); err != nil {
		return domain.Event{}, err
	}
	b.rings.push(e)
	b.deliverLocal(e)

	if b.notifier != nil {
		if err := b.notifier.Publish(ctx, sessionID, e); err != nil {
			return e, fmt.Errorf("events: notify session %s: %w", sessionID, err)
		}
	}

	if kind == domain.EventKindTerminal {
		b.closeSession(sessionID)
	}
	return e, nil
}

// DeliverRemote is called by the Notifier's listen loop for events that
// originated on another pod, so they still reach this pod's local
// subscribers. It does not re-persist or re-notify.
func (b *Bus) DeliverRemote(e domain.Event) {
	b.rings.push(e)
	b.deliverLocal(e)
	if e.Kind == domain.EventKindTerminal {
		b.closeSession(e.SessionID)
	}
}

func (b *Bus) deliverLocal(e domain.Event) {
	b.subMu.RLock()
	defer b.subMu.RUnlock()
	for sub := range b.subs[e.SessionID] {
		sub.deliver(e)
	}
}

func (b *Bus) closeSession(sessionID string) {
	b.subMu.Lock()
	subs := b.subs[sessionID]
	delete(b.subs, sessionID)
	b.subMu.Unlock()

	for sub := range subs {
		sub.closeTerminal()
	}
	b.rings.drop(sessionID)
}

// Subscription is a live handle a transport adapter (WebSocket or SSE)
// reads events from.
type Subscription struct {
	bus       *Bus
	sessionID string
	events    chan domain.Event
	closeOnce sync.Once
	done      chan struct{}
}

// Events returns the channel new events arrive on. Closed when the
// subscription ends, whether by Close or by a terminal event.
func (s *Subscription) Events() <-chan domain.Event { return s.events }

// Close unsubscribes without waiting for a terminal event.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.bus.subMu.Lock()
		if set, ok := s.bus.subs[s.sessionID]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(s.bus.subs, s.sessionID)
			}
		}
		s.bus.subMu.Unlock()
		close(s.done)
		close(s.events)
	})
}

func (s *Subscription) closeTerminal() { s.Close() }

func (s *Subscription) deliver(e domain.Event) {
	select {
	case s.events <- e:
	case <-s.done:
	}
}

// Subscribe opens a live subscription for sessionID. If afterSequence is
// non-nil, buffered events with a higher sequence are replayed onto the
// channel before live delivery begins; if the ring buffer can't satisfy
// the replay (the subscriber fell behind further than the buffer retains),
// Subscribe falls back to the durable store.
func (b *Bus) Subscribe(ctx context.Context, sessionID string, afterSequence *int64) (*Subscription, error) {
	sub := &Subscription{
		bus:       b,
		sessionID: sessionID,
		events:    make(chan domain.Event, 64),
		done:      make(chan struct{}),
	}

	b.subMu.Lock()
	if b.subs[sessionID] == nil {
		b.subs[sessionID] = make(map[*Subscription]struct{})
	}
	b.subs[sessionID][sub] = struct{}{}
	b.subMu.Unlock()

	if afterSequence != nil {
		replay, gap := b.rings.from(sessionID, *afterSequence)
		if gap {
			durable, err := b.store.ListFrom(ctx, sessionID, *afterSequence)
			if err != nil {
				sub.Close()
				return nil, fmt.Errorf("events: catchup session %s: %w", sessionID, err)
			}
			replay = durable
		}
		for _, e := range replay {
			sub.deliver(e)
		}
	}

	return sub, nil
}
