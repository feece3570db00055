package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	// EnvPrefix prefixes environment overrides, e.g. CHIVE_LOGGING_LEVEL
	EnvPrefix = "CHIVE"

	// keyDelimiter replaces viper's default "." so dotted plugin ids stay
	// single keys under plugins.configs.
	keyDelimiter = "::"
)

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load loads the configuration from file, falling back to defaults when the
// file does not exist. Environment variables override both.
func (l *Loader) Load() (*Config, error) {
	configPath, err := l.path()
	if err != nil {
		return nil, err
	}

	v := newViper()
	v.SetConfigFile(configPath)

	if _, err := os.Stat(configPath); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	home := filepath.Dir(configPath)

	if cfg.Plugins.Dir == "" {
		cfg.Plugins.Dir = filepath.Join(home, "plugins")
	}

	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(home, "chived.log")
	}

	if cfg.Audit.File == "" {
		cfg.Audit.File = filepath.Join(home, "audit.log")
	}

	if cfg.Plugins.Configs == nil {
		cfg.Plugins.Configs = map[string]map[string]any{}
	}

	return cfg, nil
}

// Save saves the configuration to file
func (l *Loader) Save(cfg *Config) error {
	configPath, err := l.path()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := newViper()
	v.SetConfigFile(configPath)

	v.Set("logging", cfg.Logging)
	v.Set("plugins", cfg.Plugins)
	v.Set("resources", cfg.Resources)
	v.Set("cache", cfg.Cache)
	v.Set("hooks", cfg.Hooks)
	v.Set("metrics", cfg.Metrics)
	v.Set("tracing", cfg.Tracing)
	v.Set("audit", cfg.Audit)

	if err := v.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	path, err := l.path()
	if err != nil {
		return ""
	}
	return path
}

func (l *Loader) path() (string, error) {
	if l.configPath != "" {
		return l.configPath, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".chive", "plugins.json"), nil
}

func newViper() *viper.Viper {
	v := viper.NewWithOptions(viper.KeyDelimiter(keyDelimiter))
	v.SetConfigType("json")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(keyDelimiter, "_"))
	v.AutomaticEnv()
	bindEnv(v)
	return v
}

// bindEnv registers the scalar keys that may be overridden from the
// environment. Unmarshal only consults env vars for keys viper knows.
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"logging::level",
		"logging::file",
		"logging::console",
		"logging::pretty",
		"plugins::dir",
		"plugins::interpreter",
		"plugins::watch",
		"plugins::handshake_timeout",
		"resources::max_memory_mb",
		"resources::max_cpu_percent",
		"resources::max_execution_time_ms",
		"resources::max_storage_bytes",
		"cache::size",
		"cache::ttl",
		"metrics::enabled",
		"metrics::addr",
		"tracing::enabled",
		"tracing::service_name",
		"audit::enabled",
		"audit::file",
	} {
		_ = v.BindEnv(key)
	}
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	loader := NewLoader(configPath)
	return loader.Load()
}
