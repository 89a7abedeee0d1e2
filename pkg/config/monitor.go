package config

import "time"

// MonitorConfig controls DLQ discovery, polling and deduplication.
type MonitorConfig struct {
	// DLQNamePattern is the substring identifying dead-letter queues
	// during discovery.
	DLQNamePattern string `yaml:"dlq_name_pattern"`

	// MaxMessagesPerPoll is the receive batch size per queue per invocation.
	MaxMessagesPerPoll int `yaml:"max_messages_per_poll"`

	// VisibilityTimeoutS is how long a received message stays invisible to
	// other consumers before it may be redelivered.
	VisibilityTimeoutS int `yaml:"visibility_timeout_s"`

	// LongPollWaitS is the per-queue receive wait.
	LongPollWaitS int `yaml:"long_poll_wait_s"`

	// ScheduleIntervalS is the interval between scheduled Monitor invocations.
	ScheduleIntervalS int `yaml:"schedule_interval_s"`

	// MaxRetries is the ledger hard cap. A message observed more than this
	// many times is dropped as a runaway loop. This cap is the effective
	// ceiling for re-deliveries in any non-misconfigured deployment; the
	// Executor carries its own, higher cap for re-enqueues.
	MaxRetries int `yaml:"max_retries"`

	// DeploymentWindowS is the lookback window for recent deployment context.
	DeploymentWindowS int `yaml:"deployment_window_s"`

	// RunOnStart triggers one Monitor invocation immediately at startup.
	RunOnStart bool `yaml:"run_on_start"`
}

// DefaultMonitorConfig returns the built-in monitor defaults.
func DefaultMonitorConfig() *MonitorConfig {
	return &MonitorConfig{
		DLQNamePattern:     "-dlq",
		MaxMessagesPerPoll: 10,
		VisibilityTimeoutS: 300,
		LongPollWaitS:      5,
		ScheduleIntervalS:  300,
		MaxRetries:         3,
		DeploymentWindowS:  900,
	}
}

// VisibilityTimeout returns the visibility window as a duration.
func (c *MonitorConfig) VisibilityTimeout() time.Duration {
	return time.Duration(c.VisibilityTimeoutS) * time.Second
}

// LongPollWait returns the receive wait as a duration.
func (c *MonitorConfig) LongPollWait() time.Duration {
	return time.Duration(c.LongPollWaitS) * time.Second
}

// ScheduleInterval returns the scheduling interval as a duration.
func (c *MonitorConfig) ScheduleInterval() time.Duration {
	return time.Duration(c.ScheduleIntervalS) * time.Second
}

// DeploymentWindow returns the deployment lookback as a duration.
func (c *MonitorConfig) DeploymentWindow() time.Duration {
	return time.Duration(c.DeploymentWindowS) * time.Second
}
