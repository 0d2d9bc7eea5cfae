// Package logging provides the slog handler chain used by moltbot,
// including secret redaction so tokens from config never reach log
// output.
package logging

import (
	"regexp"
	"strings"
)

// redactPlaceholder replaces secret values in log output.
const redactPlaceholder = "***REDACTED***"

// keyPatterns match well-known credential formats regardless of where
// they appear in a message.
var keyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-[a-zA-Z0-9_-]{20,}`),         // OpenAI-style API keys
	regexp.MustCompile(`sk-ant-[a-zA-Z0-9_-]{20,}`),     // Anthropic API keys
	regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9._~+/-]+=*`), // Authorization headers
}

// Redactor replaces secret values in strings with a placeholder. Safe
// for concurrent use once built; literals are fixed at construction.
type Redactor struct {
	literals []string
}

// NewRedactor creates a redactor for the given literal secrets. Empty
// strings are ignored.
func NewRedactor(literals ...string) *Redactor {
	r := &Redactor{}
	for _, lit := range literals {
		if lit != "" {
			r.literals = append(r.literals, lit)
		}
	}
	return r
}

// Redact replaces known key formats and literal secrets in s.
func (r *Redactor) Redact(s string) string {
	if s == "" {
		return s
	}
	for _, p := range keyPatterns {
		s = p.ReplaceAllString(s, redactPlaceholder)
	}
	for _, lit := range r.literals {
		if strings.Contains(s, lit) {
			s = strings.ReplaceAll(s, lit, redactPlaceholder)
		}
	}
	return s
}
