package config

// Config is the umbrella configuration object for the whole pipeline.
// This is the primary object returned by Initialize() and handed to every
// component at startup.
type Config struct {
	configDir string

	Service       *ServiceConfig
	Monitor       *MonitorConfig
	Analyzer      *AnalyzerConfig
	Executor      *ExecutorConfig
	LLM           *LLMConfig
	Redis         *RedisConfig
	Bus           *BusConfig
	Archive       *ArchiveConfig
	Incident      *IncidentConfig
	Notifications *NotificationsConfig
	Retention     *RetentionConfig
	API           *APIConfig
	Rules         *RulesConfig
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// fileConfig mirrors the redrive.yaml file structure. Sections are pointers
// so an absent section falls back to built-in defaults untouched.
type fileConfig struct {
	Service       *ServiceConfig       `yaml:"service"`
	Monitor       *MonitorConfig       `yaml:"monitor"`
	Analyzer      *AnalyzerConfig      `yaml:"analyzer"`
	Executor      *ExecutorConfig      `yaml:"executor"`
	LLM           *LLMConfig           `yaml:"llm"`
	Redis         *RedisConfig         `yaml:"redis"`
	Bus           *BusConfig           `yaml:"bus"`
	Archive       *ArchiveConfig       `yaml:"archive"`
	Incident      *IncidentConfig      `yaml:"incident"`
	Notifications *NotificationsConfig `yaml:"notifications"`
	Retention     *RetentionConfig     `yaml:"retention"`
	API           *APIConfig           `yaml:"api"`
}
