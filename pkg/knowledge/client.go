// Package knowledge is the external collaborator an Agent Runtime role can
// call mid-task to ground its output in prior art: a semantic search over a
// requirements knowledge base backed by Weaviate.
package knowledge

import (
	"context"
	"fmt"
	"net/url"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/auth"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
)

// DefaultClassName is the Weaviate class holding indexed requirement
// snippets.
const DefaultClassName = "RequirementSnippet"

// Snippet is one search result: a passage of prior-art requirements text
// plus where it came from.
type Snippet struct {
	Text   string
	Source string
	Score  float64
}

// Config configures a Client.
type Config struct {
	// Scheme and Host address the Weaviate instance, e.g. "http", "weaviate:8080".
	Scheme string
	Host   string
	// APIKey authenticates to a managed Weaviate instance. Empty disables auth,
	// appropriate for a local/self-hosted instance.
	APIKey string
	// ClassName overrides DefaultClassName.
	ClassName string
	// Limit bounds how many snippets Search returns.
	Limit int
}

// Client searches a Weaviate-backed requirements knowledge base.
type Client struct {
	raw       *weaviate.Client
	className string
	limit     int
}

// New builds a Client from cfg.
func New(cfg Config) (*Client, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("knowledge: host is required")
	}
	if _, err := url.Parse(cfg.Scheme + "://" + cfg.Host); err != nil {
		return nil, fmt.Errorf("knowledge: invalid scheme/host: %w", err)
	}

	wcfg := weaviate.Config{
		Scheme: cfg.Scheme,
		Host:   cfg.Host,
	}
	if cfg.APIKey != "" {
		wcfg.AuthConfig = auth.ApiKey{Value: cfg.APIKey}
	}

	raw, err := weaviate.NewClient(wcfg)
	if err != nil {
		return nil, fmt.Errorf("knowledge: creating weaviate client: %w", err)
	}

	className := cfg.ClassName
	if className == "" {
		className = DefaultClassName
	}
	limit := cfg.Limit
	if limit <= 0 {
		limit = 5
	}

	return &Client{raw: raw, className: className, limit: limit}, nil
}

// Search runs a near-text semantic search for query and returns the closest
// snippets, most relevant first. A connectivity failure against the
// knowledge base is not fatal to the caller's task: the Agent Runtime
// treats an empty result plus a logged error as "no prior art found"
// rather than aborting the task.
func (c *Client) Search(ctx context.Context, query string) ([]Snippet, error) {
	fields := []graphql.Field{
		{Name: "text"},
		{Name: "source"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
	}
	nearText := c.raw.GraphQL().NearTextArgBuilder().WithConcepts([]string{query})

	resp, err := c.raw.GraphQL().Get().
		WithClassName(c.className).
		WithFields(fields...).
		WithNearText(nearText).
		WithLimit(c.limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("knowledge: search query failed: %w", err)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("knowledge: search returned %d GraphQL errors: %s", len(resp.Errors), resp.Errors[0].Message)
	}

	return parseSnippets(resp, c.className)
}
