package llmgateway

import (
	"testing"
	"time"
)

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := newBreaker(3, time.Minute)
	now := time.Now()

	for i := 0; i < 2; i++ {
		if !b.allow(now) {
			t.Fatalf("call %d: want allowed before threshold", i)
		}
		b.recordFailure(now)
	}
	if !b.allow(now) {
		t.Fatalf("3rd call: want allowed")
	}
	b.recordFailure(now)

	if b.allow(now) {
		t.Fatalf("want breaker open after 3 consecutive failures")
	}
}

func TestBreakerHalfOpensAfterDuration(t *testing.T) {
	b := newBreaker(1, 10*time.Second)
	now := time.Now()

	b.allow(now)
	b.recordFailure(now)
	if b.allow(now) {
		t.Fatalf("want breaker open immediately after trip")
	}

	later := now.Add(11 * time.Second)
	if !b.allow(later) {
		t.Fatalf("want half-open trial allowed after openDuration")
	}
	if b.allow(later) {
		t.Fatalf("want only one trial call allowed while half-open")
	}
}

func TestBreakerClosesOnHalfOpenSuccess(t *testing.T) {
	b := newBreaker(1, 10*time.Second)
	now := time.Now()

	b.allow(now)
	b.recordFailure(now)

	later := now.Add(11 * time.Second)
	b.allow(later)
	b.recordSuccess()

	if !b.allow(later) {
		t.Fatalf("want breaker closed and allowing calls after half-open success")
	}
}

func TestBreakerReopensOnHalfOpenFailure(t *testing.T) {
	b := newBreaker(1, 10*time.Second)
	now := time.Now()

	b.allow(now)
	b.recordFailure(now)

	later := now.Add(11 * time.Second)
	b.allow(later)
	b.recordFailure(later)

	if b.allow(later) {
		t.Fatalf("want breaker reopened after half-open trial failed")
	}
}

func TestBreakerSetIsolatesProviders(t *testing.T) {
	set := newBreakerSet(1, time.Minute)
	now := time.Now()

	a := set.get("provider-a")
	a.allow(now)
	a.recordFailure(now)

	if a.allow(now) {
		t.Fatalf("provider-a: want open")
	}
	if !set.get("provider-b").allow(now) {
		t.Fatalf("provider-b: want unaffected by provider-a's failures")
	}
}
