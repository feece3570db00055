package config

import (
	"fmt"
	"strings"

	"github.com/chive/pluginrt/pkg/governor"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateLimits validates default resource limits
func (v *Validator) ValidateLimits(limits governor.Limits) error {
	if err := limits.Validate(); err != nil {
		return fmt.Errorf("resources: %w", err)
	}
	return nil
}

// ValidatePlugins validates the plugin loading section
func (v *Validator) ValidatePlugins(cfg PluginsConfig) []error {
	var errs []error

	if strings.TrimSpace(cfg.Interpreter) == "" {
		errs = append(errs, fmt.Errorf("plugins.interpreter cannot be empty"))
	}
	if cfg.HandshakeTimeout < 0 {
		errs = append(errs, fmt.Errorf("plugins.handshake_timeout must be >= 0"))
	}
	if cfg.Watch && strings.TrimSpace(cfg.Dir) == "" {
		errs = append(errs, fmt.Errorf("plugins.dir is required when plugins.watch is enabled"))
	}

	return errs
}

// ValidateCache validates the cache section
func (v *Validator) ValidateCache(cfg CacheConfig) []error {
	var errs []error

	if cfg.Size <= 0 {
		errs = append(errs, fmt.Errorf("cache.size must be > 0, got %d", cfg.Size))
	}
	if cfg.TTL < 0 {
		errs = append(errs, fmt.Errorf("cache.ttl must be >= 0"))
	}

	return errs
}

// ValidateHooks validates operator hook entries
func (v *Validator) ValidateHooks(cfg HooksConfig) []error {
	if !cfg.Enabled {
		return nil
	}

	var errs []error
	for i, hook := range cfg.Entries {
		if !hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.Event) == "" {
			errs = append(errs, fmt.Errorf("hook %d: event is required", i))
		}
		if strings.TrimSpace(hook.Script) == "" {
			errs = append(errs, fmt.Errorf("hook %d: script is required", i))
		}
		if hook.Timeout < 0 {
			errs = append(errs, fmt.Errorf("hook %d: timeout must be >= 0", i))
		}
	}
	return errs
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	errors = append(errors, v.ValidatePlugins(cfg.Plugins)...)

	if err := v.ValidateLimits(cfg.Resources); err != nil {
		errors = append(errors, err)
	}

	errors = append(errors, v.ValidateCache(cfg.Cache)...)
	errors = append(errors, v.ValidateHooks(cfg.Hooks)...)

	if cfg.Metrics.Enabled && strings.TrimSpace(cfg.Metrics.Addr) == "" {
		errors = append(errors, fmt.Errorf("metrics.addr is required when metrics are enabled"))
	}

	if cfg.Tracing.Enabled && strings.TrimSpace(cfg.Tracing.ServiceName) == "" {
		errors = append(errors, fmt.Errorf("tracing.service_name is required when tracing is enabled"))
	}

	return errors
}
