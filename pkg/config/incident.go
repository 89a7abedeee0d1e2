package config

import "time"

// IncidentConfig holds settings for the incident API used by systemic
// escalations.
type IncidentConfig struct {
	// URL is the incident events endpoint.
	URL string `yaml:"url"`

	// RoutingKeyEnv names the environment variable holding the integration
	// routing key.
	RoutingKeyEnv string `yaml:"routing_key_env"`

	// Integration gates incident creation. Disabled escalations are logged
	// and recorded without an external call.
	Integration *bool `yaml:"incident_integration_enabled,omitempty"`

	// TimeoutS bounds one incident POST.
	TimeoutS int `yaml:"timeout_s"`

	// MaxAttempts bounds POST retries within a single escalation before the
	// outcome is recorded FAILED and the event is left to the bus.
	MaxAttempts int `yaml:"max_attempts"`
}

// DefaultIncidentConfig returns the built-in incident defaults.
func DefaultIncidentConfig() *IncidentConfig {
	return &IncidentConfig{
		URL:           "https://events.pagerduty.com/v2/enqueue",
		RoutingKeyEnv: "INCIDENT_ROUTING_KEY",
		TimeoutS:      10,
		MaxAttempts:   3,
	}
}

// IntegrationEnabled reports whether incident creation is enabled (default true).
func (c *IncidentConfig) IntegrationEnabled() bool {
	return c.Integration == nil || *c.Integration
}

// Timeout returns the per-POST deadline as a duration.
func (c *IncidentConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutS) * time.Second
}
