// Package daemon composes the honeypot process: session store, dispatcher,
// callback reporter, conversation engine and HTTP API, plus the config
// watcher and periodic snapshot job that run beside them.
package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/harun/honeypot/internal/config"
	"github.com/harun/honeypot/internal/logger"
	"github.com/harun/honeypot/internal/observability"
	"github.com/harun/honeypot/internal/tracing"
	"github.com/harun/honeypot/pkg/api"
	"github.com/harun/honeypot/pkg/callback"
	"github.com/harun/honeypot/pkg/dispatch"
	"github.com/harun/honeypot/pkg/honeypot"
	"github.com/harun/honeypot/pkg/session"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// dispatcherDrainTimeout bounds how long queued callbacks may run after the
// API has stopped.
const dispatcherDrainTimeout = 10 * time.Second

// Daemon represents the honeypot service
type Daemon struct {
	config     *config.Config
	configPath string
	logger     *logger.Logger
	log        zerolog.Logger

	store      *session.Store
	dispatcher *dispatch.Dispatcher
	reporter   *callback.Reporter
	engine     *honeypot.Engine
	server     *api.Server
	eventLoop  *EventLoop
	watcher    *config.Watcher

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// Status is a point-in-time view of the daemon
type Status struct {
	Running   bool
	Uptime    time.Duration
	StartTime time.Time
	Sessions  int
}

// New wires every component from cfg. configPath is watched for changes when
// non-empty.
func New(cfg *config.Config, configPath string, log *logger.Logger) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	observability.EnsureRegistered()

	d := &Daemon{
		config:     cfg,
		configPath: configPath,
		logger:     log,
		log:        log.GetZerolog().With().Str("component", "daemon").Logger(),
	}

	if cfg.Tracing.Enabled {
		err := tracing.InitOpenTelemetry(tracing.Config{
			ServiceName:    cfg.Tracing.ServiceName,
			ServiceVersion: cfg.Tracing.ServiceVersion,
			Environment:    cfg.Tracing.Environment,
			SampleRatio:    cfg.Tracing.SampleRatio,
			Exporter:       cfg.Tracing.Exporter,
			Logger:         log.GetZerolog(),
		})
		if err != nil {
			d.log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
		} else {
			d.tracingEnabled = true
			d.log.Info().
				Str("exporter", cfg.Tracing.Exporter).
				Float64("sample_ratio", cfg.Tracing.SampleRatio).
				Msg("Tracing initialized successfully")
		}
	}

	base := log.GetZerolog()
	d.store = session.NewStore(base)

	var lanes []dispatch.LaneConfig
	if cfg.Callback.Enabled {
		lanes = append(lanes, dispatch.LaneConfig{
			Name:    callback.Lane,
			Workers: cfg.Callback.Workers,
			Backlog: cfg.Callback.QueueSize,
		})
	}
	d.dispatcher = dispatch.New(base, lanes...)

	opts := []honeypot.Option{honeypot.WithLogger(base)}
	if cfg.Callback.Enabled {
		d.reporter = callback.NewReporter(callback.Config{
			URL:         cfg.Callback.URL,
			Secret:      cfg.Callback.Secret,
			Timeout:     cfg.Callback.Timeout(),
			MaxRetries:  uint64(cfg.Callback.MaxRetries),
			BaseBackoff: cfg.Callback.Backoff(),
		}, base)
		opts = append(opts, honeypot.WithNotifier(callback.NewNotifier(d.dispatcher, d.reporter, base)))
		d.log.Info().Str("url", cfg.Callback.URL).Msg("Callback reporting enabled")
	}
	d.engine = honeypot.New(d.store, opts...)

	server, err := api.NewServer(api.ServerOptions{
		Host:               cfg.Server.Host,
		Port:               cfg.Server.Port,
		APIKey:             cfg.Server.APIKey,
		RequestTimeout:     cfg.Server.RequestTimeout(),
		MaxBodyBytes:       cfg.Server.MaxBodyBytes,
		RateLimitPerMinute: cfg.Server.RateLimitPerMinute,
		ShutdownTimeout:    cfg.Server.ShutdownTimeout(),
		Dispatcher:         d.dispatcher,
	}, d.engine, base)
	if err != nil {
		d.shutdownTracing()
		return nil, fmt.Errorf("failed to create API server: %w", err)
	}
	d.server = server

	if cfg.Stats.Schedule != "" {
		d.eventLoop, err = NewEventLoop(d, cfg.Stats.Schedule)
		if err != nil {
			d.shutdownTracing()
			return nil, fmt.Errorf("failed to create event loop: %w", err)
		}
	}

	if configPath != "" {
		d.watcher, err = config.NewWatcher(config.NewLoader(configPath), 0, d.applyConfig, base)
		if err != nil {
			d.log.Warn().Err(err).Msg("Config hot reload unavailable")
			d.watcher = nil
		}
	}

	return d, nil
}

// Run serves until ctx is cancelled or the API server fails, then shuts every
// component down in order.
func (d *Daemon) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	logger := d.log.With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Str("addr", d.server.Addr()).Msg("Starting honeypot daemon")

	if d.watcher != nil {
		if err := d.watcher.Start(); err != nil {
			logger.Warn().Err(err).Msg("Failed to start config watcher")
		}
	}

	if d.eventLoop != nil {
		d.eventLoop.Start()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return d.server.Start()
	})

	g.Go(func() error {
		<-gctx.Done()
		return d.shutdown(logger)
	})

	err := g.Wait()

	d.mu.Lock()
	d.running = false
	d.mu.Unlock()

	return err
}

func (d *Daemon) shutdown(logger zerolog.Logger) error {
	logger.Info().Msg("Stopping honeypot daemon")

	var firstErr error

	stopCtx, cancel := context.WithTimeout(context.Background(), d.GetConfig().Server.ShutdownTimeout())
	defer cancel()
	if err := d.server.Stop(stopCtx); err != nil {
		logger.Error().Err(err).Msg("Failed to stop API server")
		firstErr = err
	}

	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop config watcher")
		}
	}

	if d.eventLoop != nil {
		d.eventLoop.Stop()
	}

	if !d.dispatcher.Close(dispatcherDrainTimeout) {
		logger.Warn().Msg("Timeout draining dispatcher, pending callbacks cancelled")
	}

	d.shutdownTracing()

	logger.Info().Msg("Daemon stopped successfully")
	return firstErr
}

func (d *Daemon) shutdownTracing() {
	if !d.tracingEnabled {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
		d.log.Error().Err(err).Msg("Failed to shutdown tracing")
	}
	d.tracingEnabled = false
}

// applyConfig applies the settings that can change without a restart. Other
// changes are logged and take effect on the next start.
func (d *Daemon) applyConfig(cfg *config.Config) {
	d.mu.Lock()
	prev := d.config
	d.config = cfg
	d.mu.Unlock()

	if err := d.logger.SetLevel(cfg.Logging.Level); err != nil {
		d.log.Error().Err(err).Msg("Failed to apply log level")
	}
	if cfg.Server.APIKey != prev.Server.APIKey {
		d.server.SetAPIKey(cfg.Server.APIKey)
		d.log.Info().Bool("auth_enabled", cfg.Server.APIKey != "").Msg("API key updated")
	}
	if cfg.Server.RateLimitPerMinute != prev.Server.RateLimitPerMinute {
		d.server.SetRateLimit(cfg.Server.RateLimitPerMinute)
		d.log.Info().Int("per_minute", cfg.Server.RateLimitPerMinute).Msg("Rate limit updated")
	}

	if cfg.Server.Host != prev.Server.Host || cfg.Server.Port != prev.Server.Port ||
		cfg.Callback != prev.Callback || cfg.Tracing != prev.Tracing || cfg.Stats != prev.Stats {
		d.log.Warn().Msg("Some config changes take effect only after restart")
	}
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running:  d.running,
		Sessions: d.store.Len(),
	}

	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
	}

	return status
}

// GetConfig returns the active configuration
func (d *Daemon) GetConfig() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config
}

// GetEngine returns the conversation engine
func (d *Daemon) GetEngine() *honeypot.Engine {
	return d.engine
}

// GetServer returns the API server
func (d *Daemon) GetServer() *api.Server {
	return d.server
}

// GetDispatcher returns the background dispatcher
func (d *Daemon) GetDispatcher() *dispatch.Dispatcher {
	return d.dispatcher
}
