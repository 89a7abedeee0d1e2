// Package fingerprint derives the stable semantic hash used to cache
// classification results across similar failures. Every component that
// touches the semantic cache must agree on this derivation; the record
// store is the only coordination point.
package fingerprint

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/recoverloop/redrive/pkg/models"
)

// Normalization rules, applied in order. Ordering matters: the unit rule
// consumes "5000ms" before the bare-number rule can see it, and the
// bare-number rule requires four digits so short codes like HTTP 429/503
// survive as part of the error identity.
var (
	uuidRe      = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)
	timestampRe = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:?\d{2})?`)
	unitRe      = regexp.MustCompile(`(?i)\b\d+(ms|ns|us|s|m|h|kb|mb|gb|tb|b)\b`)
	numberRe    = regexp.MustCompile(`\b\d{4,}\b`)
	hexRe       = regexp.MustCompile(`\b[0-9a-fA-F]{8,}\b`)
	xRunRe      = regexp.MustCompile(`\bX(?:\s+X\b)+`)
)

// Normalize replaces volatile values in one line of error text with the
// placeholder X so that messages differing only in identifiers, timestamps
// or magnitudes share an identity. Normalize is idempotent.
func Normalize(s string) string {
	s = uuidRe.ReplaceAllString(s, "X")
	s = timestampRe.ReplaceAllString(s, "X")
	s = unitRe.ReplaceAllString(s, "X$1")
	s = numberRe.ReplaceAllString(s, "X")
	s = hexRe.ReplaceAllString(s, "X")
	s = xRunRe.ReplaceAllString(s, "X")
	return s
}

// Key returns the canonical fingerprint input for an error pattern:
// lowercased type, uppercased code, the normalized first line of the
// message, and the lowercased affected service. Stack traces, bodies and
// identifiers are never inputs.
func Key(p models.ErrorPattern) string {
	return strings.Join([]string{
		strings.ToLower(p.Type),
		strings.ToUpper(p.Code),
		Normalize(firstLine(p.Message)),
		strings.ToLower(p.AffectedService),
	}, "|")
}

// Hash returns the 16-hex-char semantic fingerprint for an error pattern.
func Hash(p models.ErrorPattern) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(Key(p)))
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimRight(s[:i], "\r")
	}
	return s
}
