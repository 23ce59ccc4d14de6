package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/harun/honeypot/internal/config"
	"github.com/harun/honeypot/internal/daemon"
	"github.com/harun/honeypot/internal/logger"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the honeypot API server",
	Long: `Run the honeypot HTTP API in the foreground until SIGINT or SIGTERM.
The config file, when present, is watched and log level, API key and rate limit
changes are applied without a restart.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Tracing.ServiceVersion == "" {
		cfg.Tracing.ServiceVersion = version
	}

	log, err := logger.New(loggerConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Close()

	// Only watch a file that exists; defaults and env alone have nothing to reload.
	watchPath := config.NewLoader(cfgFile).GetConfigPath()
	if _, err := os.Stat(watchPath); err != nil {
		watchPath = ""
	}

	d, err := daemon.New(cfg, watchPath, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return d.Run(ctx)
}

func loggerConfig(cfg *config.Config) logger.Config {
	return logger.Config{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		Console:    cfg.Logging.Console,
		Pretty:     cfg.Logging.Pretty,
		Redaction:  cfg.Logging.Redaction,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	}
}
