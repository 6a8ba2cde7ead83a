// Package llmgateway is the single point of contact with the LLM provider:
// it enforces per-call timeouts, a concurrency cap, a circuit breaker per
// provider endpoint, and bounded retries, then exposes one call shape
// (Generate) to the rest of the system.
package llmgateway

import (
	"context"
	"time"
)

// Mode selects a call's latency/quality tradeoff. Every caller picks one of
// the three; there is no per-field override of timeout/max tokens/
// temperature outside of it.
type Mode string

const (
	ModeQuick    Mode = "quick"
	ModeStandard Mode = "standard"
	ModeDeep     Mode = "deep"
)

// ModeConfig is the {timeout, max_tokens, temperature} triple a Mode maps
// to.
type ModeConfig struct {
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
}

var modeDefaults = map[Mode]ModeConfig{
	ModeQuick:    {Timeout: 20 * time.Second, MaxTokens: 1024, Temperature: 0.0},
	ModeStandard: {Timeout: 60 * time.Second, MaxTokens: 4096, Temperature: 0.0},
	ModeDeep:     {Timeout: 120 * time.Second, MaxTokens: 8192, Temperature: 0.2},
}

// configFor returns a Mode's defaults, falling back to ModeStandard for an
// unrecognized value rather than panicking on bad config input.
func configFor(m Mode) ModeConfig {
	if cfg, ok := modeDefaults[m]; ok {
		return cfg
	}
	return modeDefaults[ModeStandard]
}

// Request is one call's prompt and resolved mode parameters.
type Request struct {
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Provider is the external LLM collaborator the Gateway wraps. A call must
// honor ctx cancellation: when the Gateway's own timeout fires it cancels
// ctx, and the Provider is expected to stop promptly rather than run to
// completion in the background.
type Provider interface {
	// Name identifies the provider for circuit-breaker and metric labeling.
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
}

// TransientError marks a provider failure the retry policy should retry:
// network errors and 5xx responses. Anything else (4xx, malformed request)
// is not retried.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

