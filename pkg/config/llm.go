package config

import "time"

// LLMConfig holds Anthropic API settings for LLM classification.
type LLMConfig struct {
	// Model is the model identifier sent with every request and recorded
	// as the classification's model_tag on the LLM path.
	Model string `yaml:"model"`

	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`

	// TimeoutMS is the hard deadline for one classification call; on
	// expiry the conservative fallback is taken.
	TimeoutMS int `yaml:"timeout_ms"`

	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env"`

	// BaseURL overrides the API endpoint. Used for gateways and tests.
	BaseURL string `yaml:"base_url,omitempty"`
}

// DefaultLLMConfig returns the built-in LLM defaults.
func DefaultLLMConfig() *LLMConfig {
	return &LLMConfig{
		Model:       "claude-3-5-haiku-latest",
		MaxTokens:   1024,
		Temperature: 0.2,
		TimeoutMS:   10_000,
		APIKeyEnv:   "ANTHROPIC_API_KEY",
	}
}

// Timeout returns the per-call deadline as a duration.
func (c *LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}
