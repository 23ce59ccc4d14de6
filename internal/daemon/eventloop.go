package daemon

import (
	"fmt"

	"github.com/harun/honeypot/internal/observability"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// EventLoop runs periodic maintenance on a cron schedule
type EventLoop struct {
	daemon *Daemon
	cron   *cron.Cron
	logger zerolog.Logger
}

// NewEventLoop creates an event loop firing on schedule, a standard cron spec
// or descriptor such as "@every 1m".
func NewEventLoop(d *Daemon, schedule string) (*EventLoop, error) {
	logger := d.log.With().Str("component", "event_loop").Logger()
	adapter := &cronLoggerAdapter{logger: logger}

	e := &EventLoop{
		daemon: d,
		logger: logger,
		cron: cron.New(
			cron.WithLogger(adapter),
			cron.WithChain(cron.Recover(adapter), cron.SkipIfStillRunning(adapter)),
		),
	}

	if _, err := e.cron.AddFunc(schedule, e.processTasks); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}

	return e, nil
}

// Start starts the scheduler in its own goroutine
func (e *EventLoop) Start() {
	e.cron.Start()
	e.logger.Info().Msg("Event loop started")
}

// Stop stops the scheduler and waits for a running job to finish
func (e *EventLoop) Stop() {
	<-e.cron.Stop().Done()
	e.logger.Info().Msg("Event loop stopped")
}

// processTasks snapshots the store and dispatcher
func (e *EventLoop) processTasks() {
	stats := e.daemon.engine.Stats()
	observability.SetActiveSessions(stats.Sessions)

	e.logger.Info().
		Int("sessions", stats.Sessions).
		Int("turns", stats.Turns).
		Int("indicators", stats.Indicators).
		Msg("Session snapshot")

	for _, route := range e.daemon.server.GetMetrics() {
		e.logger.Debug().
			Str("route", route.Route).
			Int64("requests", route.TotalRequests).
			Int64("failures", route.FailureCount).
			Float64("avg_ms", route.AverageResponseTime).
			Msg("Route stats")
	}

	lanes := e.daemon.dispatcher.Stats()
	for _, name := range e.daemon.dispatcher.Lanes() {
		ls, ok := lanes[name]
		if !ok {
			continue
		}
		if ls.Queued > 0 || ls.Running > 0 || ls.Failed > 0 {
			e.logger.Debug().
				Str("lane", name).
				Int("queued", ls.Queued).
				Int("running", ls.Running).
				Uint64("completed", ls.Completed).
				Uint64("failed", ls.Failed).
				Msg("Dispatch stats")
		}
	}
}

// cronLoggerAdapter adapts zerolog.Logger to cron.Logger
type cronLoggerAdapter struct {
	logger zerolog.Logger
}

func (l *cronLoggerAdapter) Info(msg string, keysAndValues ...interface{}) {
	l.log(l.logger.Debug(), msg, keysAndValues...)
}

func (l *cronLoggerAdapter) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log(l.logger.Error().Err(err), msg, keysAndValues...)
}

func (l *cronLoggerAdapter) log(ev *zerolog.Event, msg string, keysAndValues ...interface{}) {
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			ev.Interface(key, keysAndValues[i+1])
		}
	}
	ev.Msg(msg)
}
