package config

import "time"

// RetentionConfig controls data retention and cleanup behavior.
type RetentionConfig struct {
	// RecordTTLDays is how long classification records are kept before the
	// cleanup loop deletes them.
	RecordTTLDays int `yaml:"record_ttl_days"`

	// LedgerTTLDays is the deduplication ledger TTL, enforced natively by
	// the key-value store.
	LedgerTTLDays int `yaml:"ledger_ttl_days"`

	// CacheTTLHours is the semantic cache entry lifetime.
	CacheTTLHours int `yaml:"cache_ttl_hours"`

	// DeploymentTTLDays is how long deployment markers are kept.
	DeploymentTTLDays int `yaml:"deployment_ttl_days"`

	// CleanupIntervalS is how often the cleanup loop runs.
	CleanupIntervalS int `yaml:"cleanup_interval_s"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		RecordTTLDays:     30,
		LedgerTTLDays:     7,
		CacheTTLHours:     1,
		DeploymentTTLDays: 14,
		CleanupIntervalS:  3600,
	}
}

// RecordTTL returns the record lifetime as a duration.
func (c *RetentionConfig) RecordTTL() time.Duration {
	return time.Duration(c.RecordTTLDays) * 24 * time.Hour
}

// LedgerTTL returns the ledger entry lifetime as a duration.
func (c *RetentionConfig) LedgerTTL() time.Duration {
	return time.Duration(c.LedgerTTLDays) * 24 * time.Hour
}

// CacheTTL returns the semantic cache entry lifetime as a duration.
func (c *RetentionConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLHours) * time.Hour
}

// DeploymentTTL returns the deployment marker lifetime as a duration.
func (c *RetentionConfig) DeploymentTTL() time.Duration {
	return time.Duration(c.DeploymentTTLDays) * 24 * time.Hour
}

// CleanupInterval returns the cleanup loop interval as a duration.
func (c *RetentionConfig) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalS) * time.Second
}
