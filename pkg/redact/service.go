// Package redact strips PII and secrets from text leaving the pipeline:
// LLM prompt inputs, alert excerpts and notification text. Redaction is
// applied at the boundary, never to fingerprint inputs or stored bodies.
package redact

import (
	"log/slog"
	"regexp"

	"github.com/recoverloop/redrive/pkg/config"
)

// Service applies the compiled redaction patterns. Created once at startup.
// Thread-safe and stateless aside from compiled patterns.
type Service struct {
	patterns []*CompiledPattern
}

// NewService creates a redaction service with built-in patterns plus any
// user-defined patterns. Patterns are compiled eagerly; invalid patterns
// are logged and skipped.
func NewService(custom []config.RedactionPatternConfig) *Service {
	s := &Service{}

	for _, p := range builtinPatterns() {
		compiled, err := regexp.Compile(p.pattern)
		if err != nil {
			slog.Error("Failed to compile built-in redaction pattern, skipping",
				"pattern", p.name, "error", err)
			continue
		}
		s.patterns = append(s.patterns, &CompiledPattern{
			Name:        p.name,
			Regex:       compiled,
			Replacement: p.replacement,
		})
	}

	for _, p := range custom {
		compiled, err := regexp.Compile(p.Pattern)
		if err != nil {
			slog.Error("Failed to compile custom redaction pattern, skipping",
				"pattern", p.Name, "error", err)
			continue
		}
		s.patterns = append(s.patterns, &CompiledPattern{
			Name:        p.Name,
			Regex:       compiled,
			Replacement: p.Replacement,
		})
	}

	slog.Info("Redaction service initialized",
		"builtin_patterns", len(builtinPatterns()),
		"compiled_patterns", len(s.patterns))

	return s
}

// Redact applies every pattern to the text in order.
func (s *Service) Redact(text string) string {
	if text == "" {
		return text
	}
	for _, p := range s.patterns {
		text = p.Regex.ReplaceAllString(text, p.Replacement)
	}
	return text
}

// RedactAll redacts a slice of lines, returning a new slice.
func (s *Service) RedactAll(lines []string) []string {
	if len(lines) == 0 {
		return nil
	}
	out := make([]string, len(lines))
	for i, line := range lines {
		out[i] = s.Redact(line)
	}
	return out
}

// Truncate hard-truncates text to max runes and appends an ellipsis marker
// when anything was cut.
func Truncate(text string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "..."
}
