package config

// RulePatternConfig is one user-defined heuristic classification rule.
// Rules are matched against the extracted error message in table order.
type RulePatternConfig struct {
	Name       string  `yaml:"name"`
	Match      string  `yaml:"match"`
	Category   string  `yaml:"category"`
	Confidence float64 `yaml:"confidence"`
	Reasoning  string  `yaml:"reasoning,omitempty"`
}

// RedactionPatternConfig is one user-defined PII redaction pattern applied
// to LLM prompt inputs and notification excerpts.
type RedactionPatternConfig struct {
	Name        string `yaml:"name"`
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
}

// RulesConfig holds user-defined classification rules and redaction
// patterns loaded from rules.yaml. User rules override built-in rules with
// the same name; the rest are appended after the built-in table.
type RulesConfig struct {
	Patterns  []RulePatternConfig      `yaml:"patterns"`
	Redaction []RedactionPatternConfig `yaml:"redaction"`
}
