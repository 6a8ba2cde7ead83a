package llmgateway

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/reqflow/reqflow/pkg/metrics"
)

type fakeProvider struct {
	name string
	fn   func(ctx context.Context, req Request) (string, error)
}

func (p *fakeProvider) Name() string { return p.name }
func (p *fakeProvider) Generate(ctx context.Context, req Request) (string, error) {
	return p.fn(ctx, req)
}

func TestGatewayGenerateSucceeds(t *testing.T) {
	p := &fakeProvider{name: "fake", fn: func(ctx context.Context, req Request) (string, error) {
		return "ok: " + req.Prompt, nil
	}}
	gw := New(p, nil)

	out, err := gw.Generate(context.Background(), ModeStandard, "hello")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if out != "ok: hello" {
		t.Fatalf("Generate() = %q", out)
	}
}

func TestGatewayRetriesTransientFailure(t *testing.T) {
	var calls int32
	p := &fakeProvider{name: "fake", fn: func(ctx context.Context, req Request) (string, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return "", &TransientError{Err: errors.New("temporary blip")}
		}
		return "recovered", nil
	}}
	gw := New(p, nil)

	out, err := gw.Generate(context.Background(), ModeQuick, "hello")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if out != "recovered" {
		t.Fatalf("Generate() = %q, want recovered after one retry", out)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestGatewayDoesNotRetryFatalError(t *testing.T) {
	var calls int32
	wantErr := errors.New("bad request")
	p := &fakeProvider{name: "fake", fn: func(ctx context.Context, req Request) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "", wantErr
	}}
	gw := New(p, nil)

	_, err := gw.Generate(context.Background(), ModeQuick, "hello")
	if err == nil {
		t.Fatalf("Generate() want error")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (no retry on fatal error)", calls)
	}
}

func TestGatewayOpensBreakerAfterRepeatedFailures(t *testing.T) {
	wantErr := errors.New("down")
	p := &fakeProvider{name: "flaky", fn: func(ctx context.Context, req Request) (string, error) {
		return "", &TransientError{Err: wantErr}
	}}
	gw := New(p, nil)
	gw.breakers = newBreakerSet(1, time.Hour)

	// First call: its first attempt fails and trips the breaker; its retry
	// is then rejected by the open breaker.
	_, err := gw.Generate(context.Background(), ModeQuick, "hello")
	if err == nil {
		t.Fatalf("want error from exhausted retries")
	}

	// Second call: breaker should now reject without calling the provider.
	_, err = gw.Generate(context.Background(), ModeQuick, "hello")
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Generate() error = %v, want ErrCircuitOpen", err)
	}
}

func TestGatewayRecordsMetricsOnSuccess(t *testing.T) {
	p := &fakeProvider{name: "fake", fn: func(ctx context.Context, req Request) (string, error) {
		return "ok", nil
	}}
	m := metrics.New("gw_test")
	gw := New(p, nil).WithMetrics(m)

	if _, err := gw.Generate(context.Background(), ModeStandard, "hello"); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got := testutil.ToFloat64(m.LLMCallsInFlight); got != 0 {
		t.Fatalf("LLMCallsInFlight = %v, want 0 after call completes", got)
	}
	if got := testutil.CollectAndCount(m.LLMCallDuration); got == 0 {
		t.Fatalf("LLMCallDuration has no observations")
	}
}

func TestGatewayRecordsCircuitOpenError(t *testing.T) {
	wantErr := errors.New("down")
	p := &fakeProvider{name: "flaky", fn: func(ctx context.Context, req Request) (string, error) {
		return "", &TransientError{Err: wantErr}
	}}
	m := metrics.New("gw_test2")
	gw := New(p, nil).WithMetrics(m)
	gw.breakers = newBreakerSet(1, time.Hour)

	if _, err := gw.Generate(context.Background(), ModeQuick, "hello"); err == nil {
		t.Fatalf("want error from exhausted retries")
	}
	if _, err := gw.Generate(context.Background(), ModeQuick, "hello"); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Generate() error = %v, want ErrCircuitOpen", err)
	}
	if got := testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("flaky")); got != 1 {
		t.Fatalf("CircuitBreakerState = %v, want 1 (open)", got)
	}
	// One rejection for the first call's retry, one for the second call.
	if got := testutil.ToFloat64(m.LLMCallErrors.WithLabelValues("circuit_open")); got != 2 {
		t.Fatalf("LLMCallErrors{circuit_open} = %v, want 2", got)
	}
}
