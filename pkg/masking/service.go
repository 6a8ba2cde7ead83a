package masking

import "log/slog"

// Service applies masking to prompt text on its way into the LLM Gateway;
// replies are not masked. Created once at startup and shared across all sessions; it is
// stateless aside from the compiled pattern table, so it is safe for
// concurrent use from every Agent Runtime instance.
type Service struct {
	patterns []*Pattern
}

// NewService builds a Service from the builtin pattern table plus any
// operator-supplied custom patterns. Patterns that failed to compile are
// logged and skipped rather than failing startup.
func NewService(custom []CustomPatternConfig) *Service {
	builtin := compileBuiltins()
	patterns := make([]*Pattern, 0, len(builtin)+len(custom))
	for _, p := range builtin {
		patterns = append(patterns, p)
	}
	for _, c := range custom {
		p, err := CompileCustom(c.Name, c.Pattern, c.Replacement, c.Description)
		if err != nil {
			slog.Error("skipping invalid custom masking pattern", "name", c.Name, "error", err)
			continue
		}
		patterns = append(patterns, p)
	}

	slog.Info("masking service initialized", "patterns", len(patterns))
	return &Service{patterns: patterns}
}

// CustomPatternConfig describes one operator-supplied masking rule, loaded
// from config.
type CustomPatternConfig struct {
	Name        string
	Pattern     string
	Replacement string
	Description string
}

// Mask applies every pattern in sequence and returns the redacted text.
// Never fails: a text with no matches is returned unchanged.
func (s *Service) Mask(text string) string {
	if text == "" {
		return text
	}
	masked := text
	for _, p := range s.patterns {
		masked = p.Regex.ReplaceAllString(masked, p.Replacement)
	}
	return masked
}

// MaskMap masks every string value of a shared-data snapshot in place on a
// copy, leaving the original map untouched. Nothing in this module calls
// it; the Agent Runtime masks the rendered prompt with Mask instead.
func (s *Service) MaskMap(values map[string]string) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k] = s.Mask(v)
	}
	return out
}
