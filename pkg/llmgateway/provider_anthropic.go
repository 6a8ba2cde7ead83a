package llmgateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// DefaultAnthropicModel is used when AnthropicConfig.Model is left empty.
const DefaultAnthropicModel = "claude-sonnet-4-5"

// AnthropicConfig configures the default Provider.
type AnthropicConfig struct {
	APIKey string
	Model  string
	// BaseURL overrides the API endpoint; empty uses the SDK default.
	BaseURL string
}

// AnthropicProvider is the default Provider, talking to the Anthropic API
// directly with an API key rather than through a cloud provider's managed
// gateway.
type AnthropicProvider struct {
	client anthropic.Client
	model  string
}

// NewAnthropicProvider builds an AnthropicProvider from cfg.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llmgateway: anthropic API key is required")
	}
	model := cfg.Model
	if model == "" {
		model = DefaultAnthropicModel
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		client: anthropic.NewClient(opts...),
		model:  model,
	}, nil
}

// Name identifies this provider for circuit-breaker and metric labeling.
func (p *AnthropicProvider) Name() string { return "anthropic:" + p.model }

// Generate sends req as a single user turn and returns the concatenated
// text content of the reply.
func (p *AnthropicProvider) Generate(ctx context.Context, req Request) (string, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(p.model),
		MaxTokens:   int64(req.MaxTokens),
		Temperature: anthropic.Float(req.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}

	message, err := p.client.Messages.New(ctx, params)
	if err != nil {
		if isRetryableAnthropicError(err) {
			return "", &TransientError{Err: err}
		}
		return "", fmt.Errorf("anthropic: %w", err)
	}

	var out string
	for _, block := range message.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	return out, nil
}

// isRetryableAnthropicError reports whether err represents a transport
// failure or a 5xx response, both of which the Gateway's retry policy
// retries; 4xx errors (bad request, auth, invalid model, and 429 rate
// limiting) are not retried.
func isRetryableAnthropicError(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= http.StatusInternalServerError
	}
	// No structured API error: treat as a transport-level failure.
	return true
}
