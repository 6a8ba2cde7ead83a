// Package masking redacts secrets and tokens from prompt text before it is
// sent to the LLM Gateway. Messages, CollaborationState values and
// Artifacts are persisted unmasked.
package masking

import "regexp"

// Pattern is a single named regex replacement rule.
type Pattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
	Description string
}

// builtinSpecs are compiled once at package init. They cover the common
// secret shapes a user might paste into a requirement description:
// cloud credentials, bearer tokens, private keys, and connection strings.
var builtinSpecs = []struct {
	name        string
	pattern     string
	replacement string
	description string
}{
	{
		name:        "aws_access_key",
		pattern:     `AKIA[0-9A-Z]{16}`,
		replacement: "[REDACTED_AWS_ACCESS_KEY]",
		description: "AWS access key ID",
	},
	{
		name:        "bearer_token",
		pattern:     `(?i)bearer\s+[a-z0-9._\-]{16,}`,
		replacement: "[REDACTED_BEARER_TOKEN]",
		description: "HTTP bearer token",
	},
	{
		name:        "generic_api_key",
		pattern:     `(?i)(api[_-]?key|secret|token)\s*[:=]\s*['"]?[a-z0-9._\-]{12,}['"]?`,
		replacement: "$1=[REDACTED]",
		description: "key=value style secret assignment",
	},
	{
		name:        "private_key_block",
		pattern:     `-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`,
		replacement: "[REDACTED_PRIVATE_KEY]",
		description: "PEM private key block",
	},
	{
		name:        "db_connection_string",
		pattern:     `(?i)(postgres|postgresql|mysql|mongodb)://[^:\s]+:[^@\s]+@[^\s'"]+`,
		replacement: "$1://[REDACTED]@[REDACTED]",
		description: "database connection string with embedded credentials",
	},
}

// compileBuiltins compiles the builtin pattern table. Invalid patterns never
// reach this table (they are fixed at compile time) but the compile step
// returns the same shape as CompileCustom so both paths can be loaded
// uniformly at startup.
func compileBuiltins() map[string]*Pattern {
	out := make(map[string]*Pattern, len(builtinSpecs))
	for _, spec := range builtinSpecs {
		out[spec.name] = &Pattern{
			Name:        spec.name,
			Regex:       regexp.MustCompile(spec.pattern),
			Replacement: spec.replacement,
			Description: spec.description,
		}
	}
	return out
}

// CompileCustom compiles a caller-supplied pattern. Returns an error instead
// of panicking since custom patterns come from YAML config and may be
// malformed.
func CompileCustom(name, pattern, replacement, description string) (*Pattern, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return &Pattern{Name: name, Regex: re, Replacement: replacement, Description: description}, nil
}
