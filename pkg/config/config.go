// Package config loads and validates reqflow's YAML configuration: system
// limits, LLM provider credentials, role overlays, the clarification
// engine's thresholds, the reaper's sweep schedule, and the optional Slack
// notifier. Every deployment-specific value lives here; nothing below this
// package reads the environment or a file directly.
package config

import (
	"time"

	"github.com/reqflow/reqflow/pkg/llmgateway"
	"github.com/reqflow/reqflow/pkg/masking"
	"github.com/reqflow/reqflow/pkg/orchestrator"
	"github.com/reqflow/reqflow/pkg/roles"
)

// Config is the fully resolved, validated configuration object returned by
// Initialize and threaded through cmd/reqflowd's wiring.
type Config struct {
	configDir string

	// Orch holds the process-wide session/agent concurrency limits and the
	// Quality-Driven Clarification Engine's thresholds (Orch.Quality),
	// passed straight to orchestrator.New.
	Orch orchestrator.Config

	API      APIConfig
	Reaper   ReaperConfig
	Notify   NotifyConfig
	Masking  []masking.CustomPatternConfig
	Provider ProviderConfig

	RoleRegistry *roles.Registry
}

// ConfigDir returns the directory Initialize loaded this configuration
// from.
func (c *Config) ConfigDir() string { return c.configDir }

// APIConfig configures the HTTP/WebSocket surface.
type APIConfig struct {
	ListenAddr       string   `yaml:"listen_addr"`
	AllowedWSOrigins []string `yaml:"allowed_ws_origins"`
}

// ReaperConfig configures the background stale-session reaper.
type ReaperConfig struct {
	// StaleThreshold is how long a session may run with no activity before
	// the reaper fails it with ErrKindStaleSession.
	StaleThreshold time.Duration `yaml:"stale_threshold"`
	// SweepInterval is how often the reaper's cron schedule runs.
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// PurgeAfter is how long a terminal session is kept before
	// PurgeOlderThan deletes it.
	PurgeAfter time.Duration `yaml:"purge_after"`
}

// NotifyConfig configures the optional Slack sink.
type NotifyConfig struct {
	Slack SlackConfig `yaml:"slack"`
}

// SlackConfig configures the optional done/failed notification sink.
type SlackConfig struct {
	Enabled  bool   `yaml:"enabled"`
	TokenEnv string `yaml:"token_env"`
	Channel  string `yaml:"channel"`
}

// ProviderConfig selects and configures the active LLM Provider.
type ProviderConfig struct {
	Type      string `yaml:"type"` // currently only "anthropic"
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`
	BaseURL   string `yaml:"base_url,omitempty"`
}

// BuildAnthropicConfig resolves the Anthropic provider config with apiKey,
// which the caller reads from the environment variable
// ProviderConfig.APIKeyEnv names.
func (p ProviderConfig) BuildAnthropicConfig(apiKey string) llmgateway.AnthropicConfig {
	return llmgateway.AnthropicConfig{
		APIKey:  apiKey,
		Model:   p.Model,
		BaseURL: p.BaseURL,
	}
}
