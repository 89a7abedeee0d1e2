package config

import "time"

// ExecutorConfig controls action dispatch and the retry handler.
type ExecutorConfig struct {
	// MaxRetries is the retry handler's hard cap on re-enqueues. It guards
	// a different surface than the Monitor's ledger cap: runaway re-enqueues
	// rather than runaway re-deliveries.
	MaxRetries int `yaml:"max_retries"`

	// BackoffBaseS is the first replay delay; it doubles per retry.
	BackoffBaseS int `yaml:"backoff_base_s"`

	// BackoffMaxS caps the replay delay (queue service maximum).
	BackoffMaxS int `yaml:"backoff_max_s"`

	// AutoReplay gates the retry handler. Disabled records FAILED instead
	// of re-enqueueing.
	AutoReplay *bool `yaml:"auto_replay_enabled,omitempty"`

	// Consumers is the number of concurrent classified-event consumers.
	Consumers int `yaml:"consumers"`

	// Prefetch is the per-consumer unacknowledged message budget.
	Prefetch int `yaml:"prefetch"`
}

// DefaultExecutorConfig returns the built-in executor defaults.
func DefaultExecutorConfig() *ExecutorConfig {
	return &ExecutorConfig{
		MaxRetries:   5,
		BackoffBaseS: 30,
		BackoffMaxS:  900,
		Consumers:    4,
		Prefetch:     8,
	}
}

// AutoReplayEnabled reports whether transient replays are enabled (default true).
func (c *ExecutorConfig) AutoReplayEnabled() bool {
	return c.AutoReplay == nil || *c.AutoReplay
}

// BackoffBase returns the base replay delay as a duration.
func (c *ExecutorConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseS) * time.Second
}

// BackoffMax returns the replay delay cap as a duration.
func (c *ExecutorConfig) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxS) * time.Second
}
