package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/reqflow/reqflow/pkg/masking"
	"github.com/reqflow/reqflow/pkg/orchestrator"
	"github.com/reqflow/reqflow/pkg/quality"
	"github.com/reqflow/reqflow/pkg/roles"
)

// fileName is the single YAML file Initialize reads from configDir.
const fileName = "reqflow.yaml"

// yamlConfig is the on-disk shape of reqflow.yaml. Every section is
// optional; a bare file (or a missing one) yields the built-in defaults.
type yamlConfig struct {
	System   systemYAML                 `yaml:"system"`
	API      apiYAML                    `yaml:"api"`
	Reaper   reaperYAML                 `yaml:"reaper"`
	Notify   notifyYAML                 `yaml:"notify"`
	Masking  []maskingPatternYAML       `yaml:"masking_patterns"`
	Quality  qualityYAML                `yaml:"quality"`
	Provider providerYAML               `yaml:"llm_provider"`
	Roles    map[string]roleOverlayYAML `yaml:"roles"`
}

type systemYAML struct {
	MaxSessionsPerProcess int    `yaml:"max_sessions_per_process"`
	MaxAgentsPerSession   int    `yaml:"max_agents_per_session"`
	IdleTimeout           string `yaml:"idle_timeout"`
}

type apiYAML struct {
	ListenAddr       string   `yaml:"listen_addr"`
	AllowedWSOrigins []string `yaml:"allowed_ws_origins"`
}

type reaperYAML struct {
	StaleThreshold string `yaml:"stale_threshold"`
	SweepInterval  string `yaml:"sweep_interval"`
	PurgeAfter     string `yaml:"purge_after"`
}

type notifyYAML struct {
	Slack slackYAML `yaml:"slack"`
}

type slackYAML struct {
	Enabled  *bool  `yaml:"enabled,omitempty"`
	TokenEnv string `yaml:"token_env,omitempty"`
	Channel  string `yaml:"channel,omitempty"`
}

type maskingPatternYAML struct {
	Name        string `yaml:"name"`
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
	Description string `yaml:"description,omitempty"`
}

// qualityYAML mirrors quality.Config field-for-field under snake_case
// tags; the identical field sequence lets it convert directly to
// quality.Config for the mergo step below.
type qualityYAML struct {
	OverallThreshold        float64 `yaml:"overall_threshold,omitempty"`
	CriticalThreshold       float64 `yaml:"critical_threshold,omitempty"`
	MaxRounds               int     `yaml:"max_rounds,omitempty"`
	FloorOverall            float64 `yaml:"floor_overall,omitempty"`
	MaxQuestions            int     `yaml:"max_questions,omitempty"`
	MaxHighPriorityPerRound int     `yaml:"max_high_priority_per_round,omitempty"`
}

type providerYAML struct {
	Type      string `yaml:"type"`
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`
	BaseURL   string `yaml:"base_url,omitempty"`
}

// Initialize loads reqflow.yaml from configDir, expands ${VAR}/$VAR
// environment references in its raw bytes, merges it over the built-in
// defaults, validates the result, and returns a ready-to-use Config. A
// missing file is not an error: Initialize proceeds with defaults only,
// since every section has one.
func Initialize(configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)

	raw, err := load(configDir)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		configDir: configDir,
		Orch:      orchestrator.DefaultConfig(),
		API:       APIConfig{ListenAddr: ":8080"},
		Reaper: ReaperConfig{
			StaleThreshold: 15 * time.Minute,
			SweepInterval:  5 * time.Minute,
			PurgeAfter:     7 * 24 * time.Hour,
		},
		Notify:   NotifyConfig{Slack: SlackConfig{TokenEnv: "SLACK_BOT_TOKEN"}},
		Provider: ProviderConfig{Type: "anthropic", APIKeyEnv: "ANTHROPIC_API_KEY"},
	}

	if err := applySystem(cfg, raw.System); err != nil {
		return nil, err
	}
	if err := applyReaper(cfg, raw.Reaper); err != nil {
		return nil, err
	}
	applyAPI(cfg, raw.API)
	applyNotify(cfg, raw.Notify)
	applyProvider(cfg, raw.Provider)
	cfg.Masking = toCustomPatterns(raw.Masking)

	// Quality is a flat {float64, int} struct: zero fields in raw.Quality
	// mean "not set in YAML", so WithOverride only replaces the defaults
	// that the file actually specified.
	if err := mergo.Merge(&cfg.Orch.Quality, quality.Config(raw.Quality), mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("config: merging quality thresholds: %w", err)
	}

	roleSet, err := mergeRoleOverlays(roles.Builtins(), raw.Roles)
	if err != nil {
		return nil, err
	}
	registry, err := roles.NewRegistry(roleSet...)
	if err != nil {
		return nil, fmt.Errorf("config: building role registry: %w", err)
	}
	cfg.RoleRegistry = registry

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("configuration initialized", "roles", registry.Len())
	return cfg, nil
}

func load(configDir string) (*yamlConfig, error) {
	path := filepath.Join(configDir, fileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &yamlConfig{}, nil
		}
		return nil, &LoadError{File: fileName, Err: err}
	}

	data = expandEnv(data)

	var cfg yamlConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &LoadError{File: fileName, Err: fmt.Errorf("%w: %v", ErrInvalidYAML, err)}
	}
	return &cfg, nil
}

// expandEnv expands ${VAR}/$VAR references in raw YAML bytes using the
// process environment, so a committed config file can reference secrets
// without embedding them.
func expandEnv(data []byte) []byte {
	return []byte(os.ExpandEnv(string(data)))
}

func applySystem(cfg *Config, raw systemYAML) error {
	if raw.MaxSessionsPerProcess > 0 {
		cfg.Orch.MaxSessionsPerProcess = raw.MaxSessionsPerProcess
	}
	if raw.MaxAgentsPerSession > 0 {
		cfg.Orch.MaxAgentsPerSession = raw.MaxAgentsPerSession
	}
	if raw.IdleTimeout != "" {
		d, err := time.ParseDuration(raw.IdleTimeout)
		if err != nil {
			return &ValidationError{Section: "system", Field: "idle_timeout", Err: err}
		}
		cfg.Orch.IdleTimeout = d
	}
	return nil
}

func applyAPI(cfg *Config, raw apiYAML) {
	if raw.ListenAddr != "" {
		cfg.API.ListenAddr = raw.ListenAddr
	}
	if len(raw.AllowedWSOrigins) > 0 {
		cfg.API.AllowedWSOrigins = raw.AllowedWSOrigins
	}
}

func applyReaper(cfg *Config, raw reaperYAML) error {
	durations := []struct {
		name string
		in   string
		out  *time.Duration
	}{
		{"stale_threshold", raw.StaleThreshold, &cfg.Reaper.StaleThreshold},
		{"sweep_interval", raw.SweepInterval, &cfg.Reaper.SweepInterval},
		{"purge_after", raw.PurgeAfter, &cfg.Reaper.PurgeAfter},
	}
	for _, d := range durations {
		if d.in == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.in)
		if err != nil {
			return &ValidationError{Section: "reaper", Field: d.name, Err: err}
		}
		*d.out = parsed
	}
	return nil
}

func applyNotify(cfg *Config, raw notifyYAML) {
	if raw.Slack.Enabled != nil {
		cfg.Notify.Slack.Enabled = *raw.Slack.Enabled
	}
	if raw.Slack.TokenEnv != "" {
		cfg.Notify.Slack.TokenEnv = raw.Slack.TokenEnv
	}
	if raw.Slack.Channel != "" {
		cfg.Notify.Slack.Channel = raw.Slack.Channel
	}
}

func applyProvider(cfg *Config, raw providerYAML) {
	if raw.Type != "" {
		cfg.Provider.Type = raw.Type
	}
	if raw.Model != "" {
		cfg.Provider.Model = raw.Model
	}
	if raw.APIKeyEnv != "" {
		cfg.Provider.APIKeyEnv = raw.APIKeyEnv
	}
	if raw.BaseURL != "" {
		cfg.Provider.BaseURL = raw.BaseURL
	}
}

func toCustomPatterns(raw []maskingPatternYAML) []masking.CustomPatternConfig {
	out := make([]masking.CustomPatternConfig, 0, len(raw))
	for _, p := range raw {
		out = append(out, masking.CustomPatternConfig{
			Name:        p.Name,
			Pattern:     p.Pattern,
			Replacement: p.Replacement,
			Description: p.Description,
		})
	}
	return out
}
