package redact

import "regexp"

// CompiledPattern holds a pre-compiled redaction regex with its replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
}

// builtinPattern is a built-in redaction pattern definition.
type builtinPattern struct {
	name        string
	pattern     string
	replacement string
}

// builtinPatterns returns the built-in redaction set, in application order.
// Assignment-style secrets go first so the value disappears before the
// generic token patterns see it.
func builtinPatterns() []builtinPattern {
	return []builtinPattern{
		{
			name:        "api_key_assignment",
			pattern:     `(?i)(api[_-]?key|apikey|secret|token|authorization|password)["']?\s*[:=]\s*["']?[A-Za-z0-9_\-\.]{8,}["']?`,
			replacement: `${1}=__REDACTED_KEY__`,
		},
		{
			name:        "prefixed_token",
			pattern:     `\b(?:sk|pk|rk|xox[bpas])[-_][A-Za-z0-9\-_]{16,}\b`,
			replacement: `__REDACTED_KEY__`,
		},
		{
			name:        "email",
			pattern:     `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`,
			replacement: `__REDACTED_EMAIL__`,
		},
		{
			name:        "card_number",
			pattern:     `\b(?:\d[ -]?){12,15}\d\b`,
			replacement: `__REDACTED_CARD__`,
		},
		{
			name:        "ssn",
			pattern:     `\b\d{3}-\d{2}-\d{4}\b`,
			replacement: `__REDACTED_SSN__`,
		},
	}
}
