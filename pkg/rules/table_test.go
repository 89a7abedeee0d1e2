package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recoverloop/redrive/pkg/config"
	"github.com/recoverloop/redrive/pkg/models"
)

func TestBuiltinTableMatches(t *testing.T) {
	table := NewTable(nil)

	tests := []struct {
		name         string
		message      string
		wantRule     string
		wantCategory models.Category
	}{
		{"etimedout", "ETIMEDOUT: socket hang up", "network", models.CategoryTransient},
		{"connection reset", "read tcp: connection reset by peer", "network", models.CategoryTransient},
		{"rate limited", "429 Too Many Requests from api.stripe.com", "rate_limit", models.CategoryTransient},
		{"throttled", "Request throttled, quota exceeded for shard-7", "throttle", models.CategoryTransient},
		{"timeout", "operation timed out after 5000ms", "timeout", models.CategoryTransient},
		{"bad gateway", "upstream returned 502 Bad Gateway", "upstream_unavailable", models.CategoryTransient},
		{"null property", "Cannot read property 'length' of null", "null_dereference", models.CategoryPoisonPill},
		{"undefined function", "TypeError: undefined is not a function", "null_dereference", models.CategoryPoisonPill},
		{"bad json", "Unexpected token < in JSON at position 0", "parse_failure", models.CategoryPoisonPill},
		{"schema", "schema validation failed for field amount", "schema_violation", models.CategoryPoisonPill},
		{"zero division", "division by zero in pricing calculation", "zero_division", models.CategoryPoisonPill},
		{"invalid argument", "invalid argument: quantity must be positive", "invalid_argument", models.CategoryPoisonPill},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule, ok := table.Match(tt.message, 0.85)
			require.True(t, ok)
			assert.Equal(t, tt.wantRule, rule.Name)
			assert.Equal(t, tt.wantCategory, rule.Category)
		})
	}
}

func TestTableNoMatch(t *testing.T) {
	table := NewTable(nil)
	_, ok := table.Match("entirely novel business failure nobody has seen", 0.85)
	assert.False(t, ok)
}

func TestTableConfidenceRange(t *testing.T) {
	table := NewTable(nil)
	for _, r := range table.rules {
		assert.GreaterOrEqual(t, r.Confidence, 0.86, "rule %s", r.Name)
		assert.LessOrEqual(t, r.Confidence, 0.98, "rule %s", r.Name)
	}
}

func TestTableNetworkBeatsTimeout(t *testing.T) {
	// ETIMEDOUT also matches the timeout rule; table order decides.
	table := NewTable(nil)
	rule, ok := table.Match("ETIMEDOUT connecting to redis", 0.85)
	require.True(t, ok)
	assert.Equal(t, "network", rule.Name)
	assert.Equal(t, 0.96, rule.Confidence)
}

func TestTableThresholdSkipsLowConfidence(t *testing.T) {
	table := NewTable(nil)

	// invalid_argument sits at 0.86; a higher threshold must skip it.
	_, ok := table.Match("invalid argument: bad quantity", 0.90)
	assert.False(t, ok)
}

func TestTableCustomRuleAppended(t *testing.T) {
	table := NewTable([]config.RulePatternConfig{
		{
			Name:       "ledger-drift",
			Match:      `(?i)ledger drift detected`,
			Category:   "SYSTEMIC",
			Confidence: 0.91,
			Reasoning:  "ledger drift requires reconciliation",
		},
	})

	rule, ok := table.Match("Ledger drift detected on shard 4", 0.85)
	require.True(t, ok)
	assert.Equal(t, "ledger-drift", rule.Name)
	assert.Equal(t, models.CategorySystemic, rule.Category)
	assert.Equal(t, "ledger drift requires reconciliation", rule.Reasoning)
}

func TestTableCustomRuleOverridesBuiltin(t *testing.T) {
	table := NewTable([]config.RulePatternConfig{
		{
			Name:       "timeout",
			Match:      `(?i)timed out`,
			Category:   "SYSTEMIC",
			Confidence: 0.87,
		},
	})

	assert.Equal(t, len(builtinRules()), table.Len())

	rule, ok := table.Match("operation timed out waiting for lock", 0.85)
	require.True(t, ok)
	assert.Equal(t, "timeout", rule.Name)
	assert.Equal(t, models.CategorySystemic, rule.Category)
}

func TestTableInvalidCustomRuleSkipped(t *testing.T) {
	table := NewTable([]config.RulePatternConfig{
		{Name: "broken", Match: `([`, Category: "TRANSIENT", Confidence: 0.9},
	})
	assert.Equal(t, len(builtinRules()), table.Len())
}
