package logging

import (
	"regexp"
)

// Sanitizer redacts secrets that collector command lines and tool
// environments may carry into log records.
type Sanitizer struct {
	patterns []*regexp.Regexp
	redacted string
}

// NewSanitizer creates a sanitizer with default patterns.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{
		patterns: defaultPatterns(),
		redacted: "[REDACTED]",
	}
}

func defaultPatterns() []*regexp.Regexp {
	patterns := []string{
		// AWS Access Key (symbol servers, artifact upload)
		`AKIA[0-9A-Z]{16}`,
		// GitHub tokens
		`gh[pousr]_[A-Za-z0-9]{36}`,
		// Generic Bearer tokens
		`(?i)bearer\s+[a-zA-Z0-9._-]{20,}`,
		// Environment assignments of secrets: FOO_TOKEN=..., sudo password=...
		`(?i)[a-z0-9_]*(token|secret|password|passwd|api[_-]?key)[a-z0-9_]*["'\s]*[:=]\s*[^\s"']{6,}`,
	}

	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		compiled = append(compiled, regexp.MustCompile(p))
	}
	return compiled
}

// Sanitize redacts sensitive information from a string.
func (s *Sanitizer) Sanitize(input string) string {
	result := input
	for _, pattern := range s.patterns {
		result = pattern.ReplaceAllString(result, s.redacted)
	}
	return result
}

// SanitizeEnv redacts the values of KEY=VALUE environment entries.
func (s *Sanitizer) SanitizeEnv(env []string) []string {
	out := make([]string, len(env))
	for i, e := range env {
		out[i] = s.Sanitize(e)
	}
	return out
}

// AddPattern adds a custom pattern.
func (s *Sanitizer) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	s.patterns = append(s.patterns, re)
	return nil
}
