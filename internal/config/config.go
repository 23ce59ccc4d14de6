// Package config loads, validates and watches the honeypot configuration.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Config represents the main honeypot configuration
type Config struct {
	Server   ServerConfig   `json:"server" mapstructure:"server"`
	Callback CallbackConfig `json:"callback" mapstructure:"callback"`
	Logging  LoggingConfig  `json:"logging" mapstructure:"logging"`
	Tracing  TracingConfig  `json:"tracing" mapstructure:"tracing"`
	Stats    StatsConfig    `json:"stats" mapstructure:"stats"`
}

// ServerConfig holds HTTP API configuration
type ServerConfig struct {
	Host               string `json:"host" mapstructure:"host"`
	Port               int    `json:"port" mapstructure:"port"`
	APIKey             string `json:"api_key" mapstructure:"api_key"`
	RequestTimeoutMs   int    `json:"request_timeout_ms" mapstructure:"request_timeout_ms"`
	MaxBodyBytes       int64  `json:"max_body_bytes" mapstructure:"max_body_bytes"`
	RateLimitPerMinute int    `json:"rate_limit_per_minute" mapstructure:"rate_limit_per_minute"`
	ShutdownTimeoutMs  int    `json:"shutdown_timeout_ms" mapstructure:"shutdown_timeout_ms"`
}

// RequestTimeout is the per-turn processing deadline
func (s ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutMs) * time.Millisecond
}

// ShutdownTimeout bounds the wait for in-flight requests on shutdown
func (s ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeoutMs) * time.Millisecond
}

// CallbackConfig holds the intelligence reporting endpoint configuration
type CallbackConfig struct {
	Enabled    bool   `json:"enabled" mapstructure:"enabled"`
	URL        string `json:"url" mapstructure:"url"`
	Secret     string `json:"secret" mapstructure:"secret"`
	TimeoutMs  int    `json:"timeout_ms" mapstructure:"timeout_ms"`
	MaxRetries int    `json:"max_retries" mapstructure:"max_retries"`
	BackoffMs  int    `json:"backoff_ms" mapstructure:"backoff_ms"`
	Workers    int    `json:"workers" mapstructure:"workers"`
	QueueSize  int    `json:"queue_size" mapstructure:"queue_size"`
}

// Timeout is the per-attempt HTTP timeout
func (c CallbackConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// Backoff is the base Fibonacci backoff between attempts
func (c CallbackConfig) Backoff() time.Duration {
	return time.Duration(c.BackoffMs) * time.Millisecond
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `json:"level" mapstructure:"level"`
	File       string `json:"file" mapstructure:"file"`
	Console    bool   `json:"console" mapstructure:"console"`
	Pretty     bool   `json:"pretty" mapstructure:"pretty"`
	Redaction  bool   `json:"redaction" mapstructure:"redaction"`
	MaxSizeMB  int    `json:"max_size_mb" mapstructure:"max_size_mb"`
	MaxAgeDays int    `json:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `json:"compress" mapstructure:"compress"`
}

// TracingConfig controls the OpenTelemetry tracer provider
type TracingConfig struct {
	Enabled        bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName    string  `json:"service_name" mapstructure:"service_name"`
	ServiceVersion string  `json:"service_version" mapstructure:"service_version"` // empty uses the binary version
	Environment    string  `json:"environment" mapstructure:"environment"`
	SampleRatio    float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
	Exporter       string  `json:"exporter" mapstructure:"exporter"` // none or log
}

// StatsConfig controls the periodic session snapshot
type StatsConfig struct {
	Schedule string `json:"schedule" mapstructure:"schedule"` // cron spec, empty disables
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               8000,
			RequestTimeoutMs:   10000,
			MaxBodyBytes:       64 << 10,
			RateLimitPerMinute: 120,
			ShutdownTimeoutMs:  30000,
		},
		Callback: CallbackConfig{
			Enabled:    false,
			TimeoutMs:  5000,
			MaxRetries: 3,
			BackoffMs:  500,
			Workers:    2,
			QueueSize:  256,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Console:    true,
			Redaction:  true,
			MaxSizeMB:  100,
			MaxAgeDays: 7,
			Compress:   true,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "honeypot",
			SampleRatio: 1,
			Exporter:    "none",
		},
		Stats: StatsConfig{
			Schedule: "@every 1m",
		},
	}
}

// String returns a JSON representation of the config with secrets masked
func (c *Config) String() string {
	masked := *c
	if masked.Server.APIKey != "" {
		masked.Server.APIKey = "[REDACTED]"
	}
	if masked.Callback.Secret != "" {
		masked.Callback.Secret = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// Validate reports every invalid setting at once
func (c *Config) Validate() error {
	v := NewValidator()
	var errs []error

	if err := v.ValidatePort(c.Server.Port); err != nil {
		errs = append(errs, fmt.Errorf("server.port: %w", err))
	}
	if c.Server.RequestTimeoutMs <= 0 {
		errs = append(errs, fmt.Errorf("server.request_timeout_ms must be positive, got %d", c.Server.RequestTimeoutMs))
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("server.max_body_bytes must be positive, got %d", c.Server.MaxBodyBytes))
	}
	if c.Server.RateLimitPerMinute < 0 {
		errs = append(errs, fmt.Errorf("server.rate_limit_per_minute cannot be negative, got %d", c.Server.RateLimitPerMinute))
	}

	if c.Callback.Enabled {
		if err := v.ValidateURL(c.Callback.URL); err != nil {
			errs = append(errs, fmt.Errorf("callback.url: %w", err))
		}
		if c.Callback.Workers <= 0 {
			errs = append(errs, fmt.Errorf("callback.workers must be positive, got %d", c.Callback.Workers))
		}
		if c.Callback.QueueSize <= 0 {
			errs = append(errs, fmt.Errorf("callback.queue_size must be positive, got %d", c.Callback.QueueSize))
		}
		if c.Callback.MaxRetries < 0 {
			errs = append(errs, fmt.Errorf("callback.max_retries cannot be negative, got %d", c.Callback.MaxRetries))
		}
	}

	if err := v.ValidateLogLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}

	if c.Tracing.Enabled {
		if c.Tracing.SampleRatio <= 0 || c.Tracing.SampleRatio > 1 {
			errs = append(errs, fmt.Errorf("tracing.sample_ratio must be in (0, 1], got %v", c.Tracing.SampleRatio))
		}
		if err := v.ValidateExporter(c.Tracing.Exporter); err != nil {
			errs = append(errs, fmt.Errorf("tracing.exporter: %w", err))
		}
	}

	if c.Stats.Schedule != "" {
		if err := v.ValidateSchedule(c.Stats.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("stats.schedule: %w", err))
		}
	}

	return errors.Join(errs...)
}
