package config

// NotificationsConfig holds Slack notification settings. Notifications are
// best-effort context for operators; they never gate pipeline outcomes.
type NotificationsConfig struct {
	Enabled *bool `yaml:"enabled,omitempty"`

	// TokenEnv names the environment variable holding the bot token.
	TokenEnv string `yaml:"token_env"`

	// Channel is the channel ID or name receiving notifications.
	Channel string `yaml:"channel,omitempty"`
}

// DefaultNotificationsConfig returns the built-in notification defaults.
func DefaultNotificationsConfig() *NotificationsConfig {
	return &NotificationsConfig{
		TokenEnv: "SLACK_BOT_TOKEN",
	}
}

// NotificationsEnabled reports whether Slack notifications are enabled
// (default false).
func (c *NotificationsConfig) NotificationsEnabled() bool {
	return c.Enabled != nil && *c.Enabled
}
