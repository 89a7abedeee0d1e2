package config

import "time"

// AnalyzerConfig controls the classification decision pipeline.
type AnalyzerConfig struct {
	// ConfidenceThreshold is the minimum confidence a heuristic rule match
	// needs to short-circuit LLM classification.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`

	// SystemicMinSimilar is the similar-failures-per-hour count at which a
	// failure spike is correlated against recent deployments.
	SystemicMinSimilar int `yaml:"systemic_min_similar"`

	// SystemicWindowMS bounds how recent a deployment must be to count as
	// correlated with a failure spike.
	SystemicWindowMS int `yaml:"systemic_window_ms"`

	// LLMClassification gates the LLM call. Disabled forces the
	// conservative fallback for anything the heuristics cannot settle.
	LLMClassification *bool `yaml:"llm_classification_enabled,omitempty"`

	// Consumers is the number of concurrent enriched-event consumers.
	Consumers int `yaml:"consumers"`

	// Prefetch is the per-consumer unacknowledged message budget.
	Prefetch int `yaml:"prefetch"`
}

// DefaultAnalyzerConfig returns the built-in analyzer defaults.
func DefaultAnalyzerConfig() *AnalyzerConfig {
	return &AnalyzerConfig{
		ConfidenceThreshold: 0.85,
		SystemicMinSimilar:  10,
		SystemicWindowMS:    900_000,
		Consumers:           4,
		Prefetch:            8,
	}
}

// LLMEnabled reports whether LLM classification is enabled (default true).
func (c *AnalyzerConfig) LLMEnabled() bool {
	return c.LLMClassification == nil || *c.LLMClassification
}

// SystemicWindow returns the deployment correlation window as a duration.
func (c *AnalyzerConfig) SystemicWindow() time.Duration {
	return time.Duration(c.SystemicWindowMS) * time.Millisecond
}
