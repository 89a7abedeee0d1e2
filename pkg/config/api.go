package config

// APIConfig holds ops API settings.
type APIConfig struct {
	// ListenAddr is the host:port the HTTP server binds.
	ListenAddr string `yaml:"listen_addr"`

	// AuthTokenEnv names the environment variable holding the bearer token
	// required for mutating endpoints. Empty disables auth.
	AuthTokenEnv string `yaml:"auth_token_env,omitempty"`
}

// DefaultAPIConfig returns the built-in API defaults.
func DefaultAPIConfig() *APIConfig {
	return &APIConfig{
		ListenAddr: ":8080",
	}
}
