package llmgateway

import (
	"sync"
	"time"
)

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// breaker is a per-provider circuit breaker. It opens after
// consecutiveFailureThreshold failures in a row, stays open for openDuration,
// then allows exactly one trial call through in the half-open state: that
// call's outcome either closes the breaker (success) or reopens it
// (failure).
type breaker struct {
	mu sync.Mutex

	consecutiveFailureThreshold int
	openDuration                time.Duration

	state       breakerState
	failures    int
	openedAt    time.Time
	halfOpenUse bool // a trial call is already in flight
}

func newBreaker(failureThreshold int, openDuration time.Duration) *breaker {
	return &breaker{
		consecutiveFailureThreshold: failureThreshold,
		openDuration:                openDuration,
		state:                       breakerClosed,
	}
}

// allow reports whether a call may proceed right now, transitioning
// open->half-open once openDuration has elapsed.
func (b *breaker) allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		return true
	case breakerOpen:
		if now.Sub(b.openedAt) >= b.openDuration {
			b.state = breakerHalfOpen
			b.halfOpenUse = true
			return true
		}
		return false
	case breakerHalfOpen:
		if b.halfOpenUse {
			return false // a trial call is already outstanding
		}
		b.halfOpenUse = true
		return true
	default:
		return false
	}
}

// recordSuccess closes the breaker and resets its failure count.
func (b *breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = breakerClosed
	b.failures = 0
	b.halfOpenUse = false
}

// recordFailure increments the failure count, opening the breaker once the
// threshold is reached (or immediately, if the failing call was the
// half-open trial).
func (b *breaker) recordFailure(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == breakerHalfOpen {
		b.open(now)
		return
	}

	b.failures++
	if b.failures >= b.consecutiveFailureThreshold {
		b.open(now)
	}
}

func (b *breaker) open(now time.Time) {
	b.state = breakerOpen
	b.openedAt = now
	b.failures = 0
	b.halfOpenUse = false
}

// breakerSet holds one breaker per provider name, created lazily.
type breakerSet struct {
	mu       sync.Mutex
	breakers map[string]*breaker

	failureThreshold int
	openDuration     time.Duration
}

func newBreakerSet(failureThreshold int, openDuration time.Duration) *breakerSet {
	return &breakerSet{
		breakers:         make(map[string]*breaker),
		failureThreshold: failureThreshold,
		openDuration:     openDuration,
	}
}

func (s *breakerSet) get(provider string) *breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[provider]
	if !ok {
		b = newBreaker(s.failureThreshold, s.openDuration)
		s.breakers[provider] = b
	}
	return b
}
