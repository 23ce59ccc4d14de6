// Package logger configures the process-wide zerolog logger.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger owns the configured writers and the global zerolog logger built on them
type Logger struct {
	logger   zerolog.Logger
	file     io.WriteCloser
	redactor *Redactor
	mu       sync.Mutex
}

// Config holds logger configuration
type Config struct {
	Level      string // trace, debug, info, warn, error
	File       string // log file path, empty for none
	Console    bool   // write to stderr
	Pretty     bool   // human readable console output
	Redaction  bool   // scrub API keys and secrets
	MaxSizeMB  int    // rotate the file past this size; 0 disables rotation
	MaxAgeDays int    // delete rotated files older than this
	Compress   bool   // gzip rotated files
}

// New builds the logger, installs it as log.Logger and sets the global level.
// Console output goes to stderr so command output on stdout stays clean.
func New(cfg Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var writers []io.Writer

	if cfg.Console {
		var consoleWriter io.Writer = os.Stderr
		if cfg.Pretty {
			consoleWriter = zerolog.ConsoleWriter{
				Out:        os.Stderr,
				TimeFormat: time.RFC3339,
			}
		}
		writers = append(writers, consoleWriter)
	}

	var file io.WriteCloser
	if cfg.File != "" {
		file, err = openLogFile(cfg)
		if err != nil {
			return nil, err
		}
		writers = append(writers, file)
	}

	var writer io.Writer
	switch len(writers) {
	case 0:
		writer = io.Discard
	case 1:
		writer = writers[0]
	default:
		writer = io.MultiWriter(writers...)
	}

	var redactor *Redactor
	if cfg.Redaction {
		redactor = NewRedactor()
		writer = redactor.Wrap(writer)
	}

	zerolog.SetGlobalLevel(level)
	logger := zerolog.New(writer).
		With().
		Timestamp().
		Str("service", "honeypot").
		Logger()

	log.Logger = logger

	return &Logger{
		logger:   logger,
		file:     file,
		redactor: redactor,
	}, nil
}

func openLogFile(cfg Config) (io.WriteCloser, error) {
	if cfg.MaxSizeMB > 0 {
		return NewRotatingWriter(cfg.File, cfg.MaxSizeMB, cfg.MaxAgeDays, cfg.Compress)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return file, nil
}

// SetLevel changes the global level. Loggers derived earlier follow it.
func (l *Logger) SetLevel(level string) error {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if zerolog.GlobalLevel() != parsed {
		zerolog.SetGlobalLevel(parsed)
		l.logger.Info().Str("level", parsed.String()).Msg("Log level changed")
	}
	return nil
}

// Level returns the effective global level
func (l *Logger) Level() zerolog.Level {
	return zerolog.GlobalLevel()
}

// Close closes the log file, if any
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// GetZerolog returns the underlying zerolog.Logger
func (l *Logger) GetZerolog() zerolog.Logger {
	return l.logger
}

// DefaultConfig returns default logger configuration
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Console:    true,
		Pretty:     false,
		Redaction:  true,
		MaxSizeMB:  100,
		MaxAgeDays: 7,
		Compress:   true,
	}
}
