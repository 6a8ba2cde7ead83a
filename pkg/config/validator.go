package config

import "fmt"

// validate performs fail-fast validation over a resolved Config, in this
// order: orchestrator limits, API, reaper, quality, provider, Slack notify,
// roles.
func validate(cfg *Config) error {
	if cfg.Orch.MaxSessionsPerProcess < 1 {
		return &ValidationError{Section: "system", Field: "max_sessions_per_process",
			Err: fmt.Errorf("must be at least 1, got %d", cfg.Orch.MaxSessionsPerProcess)}
	}
	if cfg.Orch.MaxAgentsPerSession < 1 {
		return &ValidationError{Section: "system", Field: "max_agents_per_session",
			Err: fmt.Errorf("must be at least 1, got %d", cfg.Orch.MaxAgentsPerSession)}
	}
	if cfg.Orch.IdleTimeout <= 0 {
		return &ValidationError{Section: "system", Field: "idle_timeout",
			Err: fmt.Errorf("must be positive, got %v", cfg.Orch.IdleTimeout)}
	}

	if cfg.API.ListenAddr == "" {
		return &ValidationError{Section: "api", Field: "listen_addr", Err: fmt.Errorf("must not be empty")}
	}

	if cfg.Reaper.StaleThreshold <= 0 {
		return &ValidationError{Section: "reaper", Field: "stale_threshold", Err: fmt.Errorf("must be positive")}
	}
	if cfg.Reaper.SweepInterval <= 0 {
		return &ValidationError{Section: "reaper", Field: "sweep_interval", Err: fmt.Errorf("must be positive")}
	}
	if cfg.Reaper.PurgeAfter <= 0 {
		return &ValidationError{Section: "reaper", Field: "purge_after", Err: fmt.Errorf("must be positive")}
	}

	q := cfg.Orch.Quality
	if q.OverallThreshold <= 0 || q.OverallThreshold > 1 {
		return &ValidationError{Section: "quality", Field: "overall_threshold", Err: fmt.Errorf("must be in (0, 1], got %v", q.OverallThreshold)}
	}
	if q.CriticalThreshold <= 0 || q.CriticalThreshold > 1 {
		return &ValidationError{Section: "quality", Field: "critical_threshold", Err: fmt.Errorf("must be in (0, 1], got %v", q.CriticalThreshold)}
	}
	if q.MaxRounds < 1 {
		return &ValidationError{Section: "quality", Field: "max_rounds", Err: fmt.Errorf("must be at least 1")}
	}
	if q.FloorOverall <= 0 || q.FloorOverall > q.OverallThreshold {
		return &ValidationError{Section: "quality", Field: "floor_overall", Err: fmt.Errorf("must be in (0, overall_threshold]")}
	}
	if q.MaxQuestions < 1 {
		return &ValidationError{Section: "quality", Field: "max_questions", Err: fmt.Errorf("must be at least 1")}
	}

	if cfg.Provider.Type != "anthropic" {
		return &ValidationError{Section: "llm_provider", Field: "type", Err: fmt.Errorf("unsupported provider type %q", cfg.Provider.Type)}
	}
	if cfg.Provider.APIKeyEnv == "" {
		return &ValidationError{Section: "llm_provider", Field: "api_key_env", Err: fmt.Errorf("must not be empty")}
	}

	if cfg.Notify.Slack.Enabled && cfg.Notify.Slack.Channel == "" {
		return &ValidationError{Section: "notify.slack", Field: "channel", Err: fmt.Errorf("required when slack is enabled")}
	}

	if cfg.RoleRegistry == nil || cfg.RoleRegistry.Len() == 0 {
		return &ValidationError{Section: "roles", Err: fmt.Errorf("at least one role must be registered")}
	}

	return nil
}
