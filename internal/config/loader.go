package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. HONEYPOT_SERVER_API_KEY
const EnvPrefix = "HONEYPOT"

// DefaultConfigFile is used when no path is given
const DefaultConfigFile = "honeypot.json"

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

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}
	return DefaultConfigFile
}

// Load reads the config file, if present, over the defaults and then applies
// environment overrides. The format follows the file extension (json, yaml, yml, toml).
func (l *Loader) Load() (*Config, error) {
	configPath := l.GetConfigPath()

	v := newViper()

	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		v.SetConfigType(configType(configPath))
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

	return cfg, nil
}

// Save writes cfg to the config path
func (l *Loader) Save(cfg *Config) error {
	configPath := l.GetConfigPath()

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType(configType(configPath))

	// Round-trip through JSON so every format is written with the json tag names.
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	var settings map[string]interface{}
	if err := json.Unmarshal(data, &settings); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	for key, value := range settings {
		v.Set(key, value)
	}

	if err := v.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// newViper returns a viper instance seeded with every default key so that
// environment variables can override keys the file does not mention.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := DefaultConfig()
	defaults := map[string]interface{}{
		"server.host":                  d.Server.Host,
		"server.port":                  d.Server.Port,
		"server.api_key":               d.Server.APIKey,
		"server.request_timeout_ms":    d.Server.RequestTimeoutMs,
		"server.max_body_bytes":        d.Server.MaxBodyBytes,
		"server.rate_limit_per_minute": d.Server.RateLimitPerMinute,
		"server.shutdown_timeout_ms":   d.Server.ShutdownTimeoutMs,
		"callback.enabled":             d.Callback.Enabled,
		"callback.url":                 d.Callback.URL,
		"callback.secret":              d.Callback.Secret,
		"callback.timeout_ms":          d.Callback.TimeoutMs,
		"callback.max_retries":         d.Callback.MaxRetries,
		"callback.backoff_ms":          d.Callback.BackoffMs,
		"callback.workers":             d.Callback.Workers,
		"callback.queue_size":          d.Callback.QueueSize,
		"logging.level":                d.Logging.Level,
		"logging.file":                 d.Logging.File,
		"logging.console":              d.Logging.Console,
		"logging.pretty":               d.Logging.Pretty,
		"logging.redaction":            d.Logging.Redaction,
		"logging.max_size_mb":          d.Logging.MaxSizeMB,
		"logging.max_age_days":         d.Logging.MaxAgeDays,
		"logging.compress":             d.Logging.Compress,
		"tracing.enabled":              d.Tracing.Enabled,
		"tracing.service_name":         d.Tracing.ServiceName,
		"tracing.service_version":      d.Tracing.ServiceVersion,
		"tracing.environment":          d.Tracing.Environment,
		"tracing.sample_ratio":         d.Tracing.SampleRatio,
		"tracing.exporter":             d.Tracing.Exporter,
		"stats.schedule":               d.Stats.Schedule,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	return v
}

func configType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".toml":
		return "toml"
	default:
		return "json"
	}
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}
