package config

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/chive/pluginrt/pkg/governor"
)

// Config represents the plugin host configuration
type Config struct {
	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Plugin discovery and loading
	Plugins PluginsConfig `json:"plugins" mapstructure:"plugins"`

	// Default resource limits applied to every plugin
	Resources governor.Limits `json:"resources" mapstructure:"resources"`

	// Shared plugin cache
	Cache CacheConfig `json:"cache" mapstructure:"cache"`

	// Operator shell hooks
	Hooks HooksConfig `json:"hooks" mapstructure:"hooks"`

	// Metrics endpoint
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`

	// Tracing
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`

	// Lifecycle audit trail
	Audit AuditConfig `json:"audit" mapstructure:"audit"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// PluginsConfig controls where plugins come from and how they are started.
type PluginsConfig struct {
	// Dir holds one subdirectory per plugin, each with a plugin.json
	Dir string `json:"dir" mapstructure:"dir"`

	// Interpreter runs third-party entrypoints
	Interpreter string `json:"interpreter" mapstructure:"interpreter"`

	// Watch enables hot load, reload and unload on directory changes
	Watch bool `json:"watch" mapstructure:"watch"`

	// HandshakeTimeout bounds plugin process startup
	HandshakeTimeout time.Duration `json:"handshake_timeout" mapstructure:"handshake_timeout"`

	// Configs holds per-plugin configuration keyed by plugin id
	Configs map[string]map[string]any `json:"configs" mapstructure:"configs"`
}

// CacheConfig sizes the shared plugin cache
type CacheConfig struct {
	Size int           `json:"size" mapstructure:"size"`
	TTL  time.Duration `json:"ttl" mapstructure:"ttl"`
}

// HooksConfig holds operator hook configuration
type HooksConfig struct {
	Enabled bool        `json:"enabled" mapstructure:"enabled"`
	Entries []HookEntry `json:"entries" mapstructure:"entries"`
}

// HookEntry attaches a shell script to an event pattern
type HookEntry struct {
	ID      string        `json:"id" mapstructure:"id"`
	Event   string        `json:"event" mapstructure:"event"`
	Script  string        `json:"script" mapstructure:"script"`
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
	Enabled bool          `json:"enabled" mapstructure:"enabled"`
}

// MetricsConfig holds the metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr"`
}

// TracingConfig holds OpenTelemetry configuration
type TracingConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled"`
	ServiceName string `json:"service_name" mapstructure:"service_name"`
}

// AuditConfig holds the lifecycle audit log configuration
type AuditConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	File    string `json:"file" mapstructure:"file"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    true,
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Plugins: PluginsConfig{
			Interpreter:      "node",
			HandshakeTimeout: 10 * time.Second,
			Configs:          map[string]map[string]any{},
		},
		Resources: governor.DefaultLimits(),
		Cache: CacheConfig{
			Size: 4096,
			TTL:  time.Hour,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    "127.0.0.1:9464",
		},
		Tracing: TracingConfig{
			ServiceName: "chived",
		},
	}
}

// PluginConfig returns the operator configuration for pluginID, or nil.
func (c *Config) PluginConfig(pluginID string) map[string]any {
	if c == nil || c.Plugins.Configs == nil {
		return nil
	}
	return c.Plugins.Configs[pluginID]
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	return errors.Join(NewValidator().ValidateConfig(c)...)
}
