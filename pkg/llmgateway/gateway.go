package llmgateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/reqflow/reqflow/pkg/metrics"
)

// Concurrency, retry and breaker tuning. These are package-level defaults
// rather than Config fields because every deployment of this gateway has
// used the same values; promote to Config if that stops being true.
const (
	maxConcurrentCalls  = 3
	retryMaxAttempts    = 2
	retryInitialBackoff = 250 * time.Millisecond
	retryMaxBackoff     = 1 * time.Second
	retryJitterFactor   = 0.25

	breakerFailureThreshold = 5
	breakerOpenDuration     = 60 * time.Second
)

// ErrCircuitOpen is returned when a provider's circuit breaker is open and
// the call is rejected without ever reaching the provider.
var ErrCircuitOpen = errors.New("llmgateway: circuit open")

// Gateway is the single point of contact with an LLM Provider. It bounds
// concurrent in-flight calls with a buffered-channel semaphore, trips a
// circuit breaker per provider after repeated failures, and retries
// transient failures with jittered exponential backoff.
type Gateway struct {
	provider Provider
	log      *slog.Logger
	metrics  *metrics.Metrics

	sem      chan struct{}
	breakers *breakerSet
}

// New builds a Gateway around provider.
func New(provider Provider, log *slog.Logger) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{
		provider: provider,
		log:      log,
		sem:      make(chan struct{}, maxConcurrentCalls),
		breakers: newBreakerSet(breakerFailureThreshold, breakerOpenDuration),
	}
}

// WithMetrics attaches a Metrics recorder, returning g for chaining. A
// Gateway with no attached recorder records nothing; every metrics call
// below is a nil-receiver no-op in that case.
func (g *Gateway) WithMetrics(m *metrics.Metrics) *Gateway {
	g.metrics = m
	return g
}

// Generate resolves mode to its {timeout, max_tokens, temperature} triple,
// then runs the call through the concurrency gate, circuit breaker and
// retry policy before returning the provider's text.
func (g *Gateway) Generate(ctx context.Context, mode Mode, prompt string) (string, error) {
	cfg := configFor(mode)

	select {
	case g.sem <- struct{}{}:
		defer func() { <-g.sem }()
	case <-ctx.Done():
		return "", ctx.Err()
	}

	br := g.breakers.get(g.provider.Name())

	callCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	req := Request{Prompt: prompt, MaxTokens: cfg.MaxTokens, Temperature: cfg.Temperature}

	stop := g.metrics.LLMCallStarted(string(mode))
	defer stop()

	var result string
	err := backoff.Retry(func() error {
		if !br.allow(time.Now()) {
			g.metrics.CircuitState(g.provider.Name(), true)
			g.metrics.LLMCallError("circuit_open")
			return backoff.Permanent(ErrCircuitOpen)
		}
		g.metrics.CircuitState(g.provider.Name(), false)

		out, callErr := g.provider.Generate(callCtx, req)
		if callErr != nil {
			if !isRetryable(callErr) {
				br.recordFailure(time.Now())
				g.metrics.LLMCallError("permanent")
				return backoff.Permanent(callErr)
			}
			br.recordFailure(time.Now())
			g.metrics.LLMCallError("transient")
			g.log.Warn("llmgateway: transient call failure, retrying",
				"provider", g.provider.Name(), "error", callErr)
			return callErr
		}

		br.recordSuccess()
		result = out
		return nil
	}, g.retryPolicy(callCtx))

	if err != nil {
		return "", fmt.Errorf("llmgateway: %s: %w", g.provider.Name(), err)
	}
	return result, nil
}

// retryPolicy bounds retries to retryMaxAttempts additional attempts beyond
// the first, with jittered exponential backoff, cancelled alongside ctx.
func (g *Gateway) retryPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialBackoff
	b.MaxInterval = retryMaxBackoff
	b.RandomizationFactor = retryJitterFactor
	b.Multiplier = 2.0
	b.MaxElapsedTime = 0 // bounded by MaxRetries below, not elapsed time
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, retryMaxAttempts), ctx)
}

// isRetryable reports whether err is a *TransientError or a context
// deadline exceeded on the call's own timeout (distinct from the caller's
// ctx being cancelled, which backoff.WithContext already stops retrying on).
func isRetryable(err error) bool {
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
