package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Empty(t, cfg.Server.APIKey)
	assert.Equal(t, int64(64<<10), cfg.Server.MaxBodyBytes)
	assert.Equal(t, 120, cfg.Server.RateLimitPerMinute)
	assert.False(t, cfg.Callback.Enabled)
	assert.Equal(t, 3, cfg.Callback.MaxRetries)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Redaction)
	assert.Equal(t, "@every 1m", cfg.Stats.Schedule)
	assert.Equal(t, 1.0, cfg.Tracing.SampleRatio)
	assert.Equal(t, "none", cfg.Tracing.Exporter)
	assert.NoError(t, cfg.Validate())
}

func TestDurations(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "10s", cfg.Server.RequestTimeout().String())
	assert.Equal(t, "30s", cfg.Server.ShutdownTimeout().String())
	assert.Equal(t, "5s", cfg.Callback.Timeout().String())
	assert.Equal(t, "500ms", cfg.Callback.Backoff().String())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"port zero", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"request timeout", func(c *Config) { c.Server.RequestTimeoutMs = 0 }, "server.request_timeout_ms"},
		{"body limit", func(c *Config) { c.Server.MaxBodyBytes = -1 }, "server.max_body_bytes"},
		{"negative rate limit", func(c *Config) { c.Server.RateLimitPerMinute = -5 }, "server.rate_limit_per_minute"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"bad schedule", func(c *Config) { c.Stats.Schedule = "every minute" }, "stats.schedule"},
		{"empty schedule disables", func(c *Config) { c.Stats.Schedule = "" }, ""},
		{"tracing disabled ignores exporter", func(c *Config) { c.Tracing.Exporter = "zipkin" }, ""},
		{"tracing bad exporter", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "zipkin"
		}, "tracing.exporter"},
		{"tracing zero ratio", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.SampleRatio = 0
		}, "tracing.sample_ratio"},
		{"tracing log exporter", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "log"
			c.Tracing.SampleRatio = 0.25
		}, ""},
		{"callback disabled ignores url", func(c *Config) { c.Callback.URL = "::" }, ""},
		{"callback enabled without url", func(c *Config) { c.Callback.Enabled = true }, "callback.url"},
		{"callback enabled bad scheme", func(c *Config) {
			c.Callback.Enabled = true
			c.Callback.URL = "ftp://example.com/hook"
		}, "callback.url"},
		{"callback enabled valid", func(c *Config) {
			c.Callback.Enabled = true
			c.Callback.URL = "https://example.com/hook"
		}, ""},
		{"callback workers", func(c *Config) {
			c.Callback.Enabled = true
			c.Callback.URL = "https://example.com/hook"
			c.Callback.Workers = 0
		}, "callback.workers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigValidate_ReportsAllProblems(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Port = 0
	cfg.Logging.Level = "loud"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "logging.level")
}

func TestConfigString_MasksSecrets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.APIKey = "super-secret-key"
	cfg.Callback.Secret = "hmac-secret"

	out := cfg.String()

	assert.NotContains(t, out, "super-secret-key")
	assert.NotContains(t, out, "hmac-secret")
	assert.Equal(t, 2, strings.Count(out, "[REDACTED]"))
	// original untouched
	assert.Equal(t, "super-secret-key", cfg.Server.APIKey)
}
