package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("console output", func(t *testing.T) {
		logger, err := New(Config{Level: "info", Console: true})
		require.NoError(t, err)
		defer logger.Close()

		assert.Equal(t, zerolog.InfoLevel, logger.Level())
	})

	t.Run("file output", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "logs", "honeypot.log")

		logger, err := New(Config{Level: "debug", File: logFile})
		require.NoError(t, err)

		log.Info().Str("session_key", "conv-1").Msg("turn processed")
		require.NoError(t, logger.Close())

		content, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(content), `"session_key":"conv-1"`)
		assert.Contains(t, string(content), `"service":"honeypot"`)
	})

	t.Run("rotating file output", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "honeypot.log")

		logger, err := New(Config{Level: "info", File: logFile, MaxSizeMB: 1})
		require.NoError(t, err)
		defer logger.Close()

		_, ok := logger.file.(*RotatingWriter)
		assert.True(t, ok)
	})

	t.Run("redaction", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "honeypot.log")

		logger, err := New(Config{Level: "info", File: logFile, Redaction: true})
		require.NoError(t, err)
		require.NotNil(t, logger.redactor)

		log.Info().Str("x-api-key", "super-secret-value").Msg("request")
		require.NoError(t, logger.Close())

		content, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.NotContains(t, string(content), "super-secret-value")
		assert.Contains(t, string(content), "[REDACTED]")
	})

	t.Run("invalid level falls back to info", func(t *testing.T) {
		logger, err := New(Config{Level: "loud"})
		require.NoError(t, err)
		defer logger.Close()

		assert.Equal(t, zerolog.InfoLevel, logger.Level())
	})
}

func TestSetLevel(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "honeypot.log")
	logger, err := New(Config{Level: "info", File: logFile})
	require.NoError(t, err)

	child := log.Logger.With().Str("component", "test").Logger()
	child.Debug().Msg("hidden")

	require.NoError(t, logger.SetLevel("debug"))
	assert.Equal(t, zerolog.DebugLevel, logger.Level())
	child.Debug().Msg("visible")

	assert.Error(t, logger.SetLevel("loud"))
	require.NoError(t, logger.SetLevel("info"))
	require.NoError(t, logger.Close())

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(content), "hidden"))
	assert.True(t, strings.Contains(string(content), "visible"))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Level)
	assert.True(t, cfg.Console)
	assert.True(t, cfg.Redaction)
	assert.Equal(t, 100, cfg.MaxSizeMB)
	assert.Equal(t, 7, cfg.MaxAgeDays)
	assert.True(t, cfg.Compress)
}
