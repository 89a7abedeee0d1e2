package config

// ServiceConfig holds service-wide identity settings.
type ServiceConfig struct {
	// Project is the deployment identifier used in incident source strings
	// and dedup keys ("<project>-systemic-<queue>-<error_type>").
	Project string `yaml:"project"`

	// Environment is a free-form label attached to logs ("dev", "staging", "prod").
	Environment string `yaml:"environment"`
}

// DefaultServiceConfig returns the built-in service defaults.
func DefaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		Project:     "redrive",
		Environment: "dev",
	}
}
