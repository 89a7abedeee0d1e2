// Package rules holds the ordered error-pattern table used by the
// Analyzer's heuristic fast-path. The table is a static rule set: built-in
// rules, optionally extended or overridden from rules.yaml. There is no
// learning or tuning beyond this table.
package rules

import (
	"log/slog"
	"regexp"

	"github.com/recoverloop/redrive/pkg/config"
	"github.com/recoverloop/redrive/pkg/models"
)

// Rule is one compiled entry of the error-pattern table.
type Rule struct {
	Name       string
	Regex      *regexp.Regexp
	Category   models.Category
	Confidence float64
	Reasoning  string
}

// Table matches extracted error messages against the ordered rule set.
// Thread-safe and stateless aside from compiled rules.
type Table struct {
	rules []*Rule
}

type builtinRule struct {
	name       string
	pattern    string
	category   models.Category
	confidence float64
	reasoning  string
}

// builtinRules returns the built-in table in match order. Transient
// network-shaped failures come first; content defects after. Confidences
// span 0.86 to 0.98.
func builtinRules() []builtinRule {
	return []builtinRule{
		{
			name:       "network",
			pattern:    `(?i)(ETIMEDOUT|ECONNRESET|ECONNREFUSED|EPIPE|EAI_AGAIN|socket hang up|network\s+error|connection\s+(reset|refused|closed))`,
			category:   models.CategoryTransient,
			confidence: 0.96,
			reasoning:  "network error, typically recovers on replay",
		},
		{
			name:       "rate_limit",
			pattern:    `(?i)(rate.?limit(ed)?|too many requests|\b429\b)`,
			category:   models.CategoryTransient,
			confidence: 0.95,
			reasoning:  "rate limited by upstream, backoff and replay",
		},
		{
			name:       "throttle",
			pattern:    `(?i)(throttl(ed|ing)?|slow down|quota exceeded)`,
			category:   models.CategoryTransient,
			confidence: 0.94,
			reasoning:  "throttled by dependency, backoff and replay",
		},
		{
			name:       "timeout",
			pattern:    `(?i)(timed?\s?out|timeout|deadline exceeded)`,
			category:   models.CategoryTransient,
			confidence: 0.90,
			reasoning:  "timeout waiting on dependency, likely transient",
		},
		{
			name:       "upstream_unavailable",
			pattern:    `(?i)(service unavailable|bad gateway|gateway timeout|\b50[234]\b)`,
			category:   models.CategoryTransient,
			confidence: 0.88,
			reasoning:  "upstream unavailable, likely transient",
		},
		{
			name:       "null_dereference",
			pattern:    `(?i)(cannot read propert(y|ies).{0,40}of (null|undefined)|null pointer|nil pointer dereference|undefined is not a function|NullReferenceException)`,
			category:   models.CategoryPoisonPill,
			confidence: 0.94,
			reasoning:  "dereference of missing value, message content defect",
		},
		{
			name:       "parse_failure",
			pattern:    `(?i)(unexpected token|parse error|malformed|invalid json|json parse|syntax error)`,
			category:   models.CategoryPoisonPill,
			confidence: 0.92,
			reasoning:  "unparseable payload, retries cannot succeed",
		},
		{
			name:       "schema_violation",
			pattern:    `(?i)(schema (validation|mismatch)|missing required (field|property)|validation failed)`,
			category:   models.CategoryPoisonPill,
			confidence: 0.90,
			reasoning:  "payload violates schema, retries cannot succeed",
		},
		{
			name:       "type_error",
			pattern:    `(?i)(type\s?error|cannot convert|invalid type|type mismatch)`,
			category:   models.CategoryPoisonPill,
			confidence: 0.89,
			reasoning:  "type defect in payload, retries cannot succeed",
		},
		{
			name:       "zero_division",
			pattern:    `(?i)(division by zero|divide by zero|zero.?division)`,
			category:   models.CategoryPoisonPill,
			confidence: 0.98,
			reasoning:  "arithmetic defect in payload, retries cannot succeed",
		},
		{
			name:       "invalid_argument",
			pattern:    `(?i)(invalid (argument|parameter|input)|illegal argument)`,
			category:   models.CategoryPoisonPill,
			confidence: 0.86,
			reasoning:  "invalid input in payload, retries cannot succeed",
		},
	}
}

// NewTable builds the rule table: built-in rules first, then user rules
// from rules.yaml. A user rule sharing a built-in rule's name replaces it
// in place; the rest are appended after the built-in table. Invalid
// patterns are logged and skipped.
func NewTable(custom []config.RulePatternConfig) *Table {
	t := &Table{}
	index := make(map[string]int)

	for _, b := range builtinRules() {
		re, err := regexp.Compile(b.pattern)
		if err != nil {
			slog.Error("Failed to compile built-in rule, skipping",
				"rule", b.name, "error", err)
			continue
		}
		index[b.name] = len(t.rules)
		t.rules = append(t.rules, &Rule{
			Name:       b.name,
			Regex:      re,
			Category:   b.category,
			Confidence: b.confidence,
			Reasoning:  b.reasoning,
		})
	}

	for _, c := range custom {
		re, err := regexp.Compile(c.Match)
		if err != nil {
			slog.Error("Failed to compile custom rule, skipping",
				"rule", c.Name, "error", err)
			continue
		}
		rule := &Rule{
			Name:       c.Name,
			Regex:      re,
			Category:   models.Category(c.Category),
			Confidence: c.Confidence,
			Reasoning:  c.Reasoning,
		}
		if rule.Reasoning == "" {
			rule.Reasoning = "matched rule " + c.Name
		}
		if i, ok := index[c.Name]; ok {
			t.rules[i] = rule
			continue
		}
		t.rules = append(t.rules, rule)
	}

	slog.Info("Classification rule table initialized", "rules", len(t.rules))
	return t
}

// Match tests the error message against the table in order and returns the
// first matching rule whose confidence meets the threshold. Matches below
// the threshold do not stop the scan.
func (t *Table) Match(message string, threshold float64) (*Rule, bool) {
	for _, r := range t.rules {
		if r.Confidence < threshold {
			continue
		}
		if r.Regex.MatchString(message) {
			return r, true
		}
	}
	return nil, false
}

// Len returns the number of compiled rules.
func (t *Table) Len() int {
	return len(t.rules)
}
