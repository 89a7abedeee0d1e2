package config

import (
	"fmt"
	"regexp"
)

// ConfigValidator validates configuration comprehensively with clear error messages
type ConfigValidator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *ConfigValidator {
	return &ConfigValidator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast, stops at first error)
func (v *ConfigValidator) ValidateAll() error {
	if err := v.validateMonitor(); err != nil {
		return fmt.Errorf("monitor validation failed: %w", err)
	}
	if err := v.validateAnalyzer(); err != nil {
		return fmt.Errorf("analyzer validation failed: %w", err)
	}
	if err := v.validateExecutor(); err != nil {
		return fmt.Errorf("executor validation failed: %w", err)
	}
	if err := v.validateLLM(); err != nil {
		return fmt.Errorf("llm validation failed: %w", err)
	}
	if err := v.validateInfra(); err != nil {
		return fmt.Errorf("infrastructure validation failed: %w", err)
	}
	if err := v.validateRules(); err != nil {
		return fmt.Errorf("rules validation failed: %w", err)
	}
	return nil
}

func (v *ConfigValidator) validateMonitor() error {
	m := v.cfg.Monitor
	if m.DLQNamePattern == "" {
		return NewValidationError("monitor", "dlq_name_pattern", ErrMissingRequiredField)
	}
	if m.MaxMessagesPerPoll < 1 {
		return NewValidationError("monitor", "max_messages_per_poll", fmt.Errorf("must be at least 1"))
	}
	if m.VisibilityTimeoutS < 1 {
		return NewValidationError("monitor", "visibility_timeout_s", fmt.Errorf("must be positive"))
	}
	if m.LongPollWaitS < 1 || m.LongPollWaitS > m.VisibilityTimeoutS {
		return NewValidationError("monitor", "long_poll_wait_s",
			fmt.Errorf("must be between 1 and visibility_timeout_s (%d)", m.VisibilityTimeoutS))
	}
	if m.MaxRetries < 1 {
		return NewValidationError("monitor", "max_retries", fmt.Errorf("must be at least 1"))
	}
	return nil
}

func (v *ConfigValidator) validateAnalyzer() error {
	a := v.cfg.Analyzer
	if a.ConfidenceThreshold < 0 || a.ConfidenceThreshold > 1 {
		return NewValidationError("analyzer", "confidence_threshold",
			fmt.Errorf("%w: must be in [0,1], got %v", ErrInvalidValue, a.ConfidenceThreshold))
	}
	if a.SystemicMinSimilar < 1 {
		return NewValidationError("analyzer", "systemic_min_similar", fmt.Errorf("must be at least 1"))
	}
	if a.Consumers < 1 {
		return NewValidationError("analyzer", "consumers", fmt.Errorf("must be at least 1"))
	}
	return nil
}

func (v *ConfigValidator) validateExecutor() error {
	e := v.cfg.Executor
	if e.MaxRetries < 1 {
		return NewValidationError("executor", "max_retries", fmt.Errorf("must be at least 1"))
	}
	if e.BackoffBaseS < 1 {
		return NewValidationError("executor", "backoff_base_s", fmt.Errorf("must be positive"))
	}
	if e.BackoffMaxS < e.BackoffBaseS {
		return NewValidationError("executor", "backoff_max_s",
			fmt.Errorf("must be at least backoff_base_s (%d)", e.BackoffBaseS))
	}
	if e.Consumers < 1 {
		return NewValidationError("executor", "consumers", fmt.Errorf("must be at least 1"))
	}
	return nil
}

func (v *ConfigValidator) validateLLM() error {
	l := v.cfg.LLM
	if l.Model == "" {
		return NewValidationError("llm", "model", ErrMissingRequiredField)
	}
	if l.MaxTokens < 1 {
		return NewValidationError("llm", "max_tokens", fmt.Errorf("must be at least 1"))
	}
	if l.Temperature < 0 || l.Temperature > 1 {
		return NewValidationError("llm", "temperature",
			fmt.Errorf("%w: must be in [0,1], got %v", ErrInvalidValue, l.Temperature))
	}
	if l.TimeoutMS < 1 {
		return NewValidationError("llm", "timeout_ms", fmt.Errorf("must be positive"))
	}
	return nil
}

func (v *ConfigValidator) validateInfra() error {
	if v.cfg.Redis.Addr == "" {
		return NewValidationError("redis", "addr", ErrMissingRequiredField)
	}
	if v.cfg.Bus.URL == "" {
		return NewValidationError("bus", "url", ErrMissingRequiredField)
	}
	if v.cfg.Bus.Exchange == "" {
		return NewValidationError("bus", "exchange", ErrMissingRequiredField)
	}
	if v.cfg.Archive.Bucket == "" {
		return NewValidationError("archive", "bucket", ErrMissingRequiredField)
	}
	if v.cfg.Service.Project == "" {
		return NewValidationError("service", "project", ErrMissingRequiredField)
	}
	return nil
}

func (v *ConfigValidator) validateRules() error {
	for _, rule := range v.cfg.Rules.Patterns {
		if rule.Name == "" {
			return NewValidationError("rules", "name", ErrMissingRequiredField)
		}
		if _, err := regexp.Compile(rule.Match); err != nil {
			return NewValidationError("rules", rule.Name, fmt.Errorf("invalid pattern: %w", err))
		}
		switch rule.Category {
		case "TRANSIENT", "POISON_PILL", "SYSTEMIC":
		default:
			return NewValidationError("rules", rule.Name,
				fmt.Errorf("%w: category %q", ErrInvalidValue, rule.Category))
		}
		if rule.Confidence <= 0 || rule.Confidence > 1 {
			return NewValidationError("rules", rule.Name,
				fmt.Errorf("%w: confidence must be in (0,1], got %v", ErrInvalidValue, rule.Confidence))
		}
	}
	for _, p := range v.cfg.Rules.Redaction {
		if _, err := regexp.Compile(p.Pattern); err != nil {
			return NewValidationError("rules", p.Name, fmt.Errorf("invalid redaction pattern: %w", err))
		}
	}
	return nil
}
