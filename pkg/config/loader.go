package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load redrive.yaml from configDir (optional; defaults apply when absent)
//  2. Expand environment variables
//  3. Merge user-defined sections over built-in defaults
//  4. Load rules.yaml (optional classification/redaction extensions)
//  5. Validate all configuration
//  6. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	log.Info("Configuration initialized successfully",
		"project", cfg.Service.Project,
		"dlq_pattern", cfg.Monitor.DLQNamePattern,
		"llm_enabled", cfg.Analyzer.LLMEnabled(),
		"custom_rules", len(cfg.Rules.Patterns))

	return cfg, nil
}

func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{configDir: configDir}

	// 1. Load redrive.yaml (all pipeline sections)
	fileCfg, err := loader.loadMainYAML()
	if err != nil {
		return nil, NewLoadError("redrive.yaml", err)
	}

	// 2. Start from built-in defaults for every section
	cfg := &Config{
		configDir:     configDir,
		Service:       DefaultServiceConfig(),
		Monitor:       DefaultMonitorConfig(),
		Analyzer:      DefaultAnalyzerConfig(),
		Executor:      DefaultExecutorConfig(),
		LLM:           DefaultLLMConfig(),
		Redis:         DefaultRedisConfig(),
		Bus:           DefaultBusConfig(),
		Archive:       DefaultArchiveConfig(),
		Incident:      DefaultIncidentConfig(),
		Notifications: DefaultNotificationsConfig(),
		Retention:     DefaultRetentionConfig(),
		API:           DefaultAPIConfig(),
		Rules:         &RulesConfig{},
	}

	// 3. Merge user sections over defaults (non-zero values override)
	if fileCfg != nil {
		if err := mergeSections(cfg, fileCfg); err != nil {
			return nil, fmt.Errorf("failed to merge configuration: %w", err)
		}
	}

	// 4. Load rules.yaml (optional)
	rules, err := loader.loadRulesYAML()
	if err != nil {
		return nil, NewLoadError("rules.yaml", err)
	}
	if rules != nil {
		cfg.Rules = rules
	}

	return cfg, nil
}

// mergeSection merges a user-provided section into its defaults.
// Non-zero user values override; unset fields keep their defaults.
func mergeSection[T any](name string, dst *T, src *T) error {
	if src == nil {
		return nil
	}
	if err := mergo.Merge(dst, src, mergo.WithOverride); err != nil {
		return fmt.Errorf("section %s: %w", name, err)
	}
	return nil
}

func mergeSections(cfg *Config, fileCfg *fileConfig) error {
	if err := mergeSection("service", cfg.Service, fileCfg.Service); err != nil {
		return err
	}
	if err := mergeSection("monitor", cfg.Monitor, fileCfg.Monitor); err != nil {
		return err
	}
	if err := mergeSection("analyzer", cfg.Analyzer, fileCfg.Analyzer); err != nil {
		return err
	}
	if err := mergeSection("executor", cfg.Executor, fileCfg.Executor); err != nil {
		return err
	}
	if err := mergeSection("llm", cfg.LLM, fileCfg.LLM); err != nil {
		return err
	}
	if err := mergeSection("redis", cfg.Redis, fileCfg.Redis); err != nil {
		return err
	}
	if err := mergeSection("bus", cfg.Bus, fileCfg.Bus); err != nil {
		return err
	}
	if err := mergeSection("archive", cfg.Archive, fileCfg.Archive); err != nil {
		return err
	}
	if err := mergeSection("incident", cfg.Incident, fileCfg.Incident); err != nil {
		return err
	}
	if err := mergeSection("notifications", cfg.Notifications, fileCfg.Notifications); err != nil {
		return err
	}
	if err := mergeSection("retention", cfg.Retention, fileCfg.Retention); err != nil {
		return err
	}
	return mergeSection("api", cfg.API, fileCfg.API)
}

// validate performs comprehensive validation on loaded configuration
func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) (bool, error) {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}

	// Expand environment variables using {{.VAR}} template syntax.
	// ExpandEnv passes through original data on parse/execution errors,
	// letting the YAML parser produce a clearer error message.
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return true, nil
}

func (l *configLoader) loadMainYAML() (*fileConfig, error) {
	var cfg fileConfig
	found, err := l.loadYAML("redrive.yaml", &cfg)
	if err != nil {
		return nil, err
	}
	if !found {
		slog.Warn("redrive.yaml not found, using built-in defaults",
			"config_dir", l.configDir)
		return nil, nil
	}
	return &cfg, nil
}

func (l *configLoader) loadRulesYAML() (*RulesConfig, error) {
	var cfg RulesConfig
	found, err := l.loadYAML("rules.yaml", &cfg)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &cfg, nil
}
