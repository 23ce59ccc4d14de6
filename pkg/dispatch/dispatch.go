package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harun/honeypot/internal/observability"
	"github.com/harun/honeypot/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	DefaultWorkers  = 1
	DefaultBacklog  = 64
	DefaultDedupTTL = 5 * time.Minute
)

var (
	// ErrQueueFull is returned when a lane's backlog is at capacity.
	ErrQueueFull = errors.New("dispatch queue full")
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("dispatcher closed")
	// ErrDuplicate is returned by SubmitOnce for a key seen within the dedup window.
	ErrDuplicate = errors.New("duplicate task")
)

// Task is a unit of background work. Its context is cancelled when the
// dispatcher gives up draining on Close.
type Task func(ctx context.Context) error

// LaneConfig sizes one lane.
type LaneConfig struct {
	Name    string
	Workers int
	Backlog int
}

// LaneStats is a point-in-time view of one lane.
type LaneStats struct {
	Queued    int    `json:"queued"`
	Running   int    `json:"running"`
	Workers   int    `json:"workers"`
	Backlog   int    `json:"backlog"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
	Rejected  uint64 `json:"rejected"`
}

// Event describes a finished task.
type Event struct {
	Lane     string
	TaskID   string
	Duration time.Duration
	Err      error
}

type taskRecord struct {
	id       string
	ctx      context.Context
	task     Task
	dedupKey string
}

type lane struct {
	name      string
	workers   int
	tasks     chan *taskRecord
	running   atomic.Int64
	completed atomic.Uint64
	failed    atomic.Uint64
	rejected  atomic.Uint64
}

// Dispatcher owns a set of bounded worker lanes.
type Dispatcher struct {
	lanes  map[string]*lane
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	seq    atomic.Uint64
	dedup  *dedupCache
	logger zerolog.Logger

	handlers  []func(Event)
	handlerMu sync.RWMutex
}

// New creates a dispatcher with the given lanes. Lanes referenced later by
// Submit but not configured here are created with default sizing.
func New(logger zerolog.Logger, lanes ...LaneConfig) *Dispatcher {
	observability.EnsureRegistered()

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		lanes:  make(map[string]*lane),
		ctx:    ctx,
		cancel: cancel,
		dedup:  newDedupCache(ctx, DefaultDedupTTL),
		logger: logger.With().Str("component", "dispatch").Logger(),
	}

	for _, cfg := range lanes {
		d.mu.Lock()
		d.initLane(cfg)
		d.mu.Unlock()
	}

	return d
}

// initLane starts the workers for a lane. Caller holds d.mu.
func (d *Dispatcher) initLane(cfg LaneConfig) *lane {
	if l, ok := d.lanes[cfg.Name]; ok {
		return l
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Backlog <= 0 {
		cfg.Backlog = DefaultBacklog
	}

	l := &lane{
		name:    cfg.Name,
		workers: cfg.Workers,
		tasks:   make(chan *taskRecord, cfg.Backlog),
	}
	d.lanes[cfg.Name] = l

	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(l)
	}

	d.logger.Debug().
		Str("lane", cfg.Name).
		Int("workers", cfg.Workers).
		Int("backlog", cfg.Backlog).
		Msg("Lane initialized")
	return l
}

// Submit queues task on laneName without waiting for it to run.
func (d *Dispatcher) Submit(ctx context.Context, laneName string, task Task) error {
	return d.submit(ctx, laneName, "", task)
}

// SubmitOnce is Submit with deduplication: a task whose key was accepted within
// the dedup window is rejected with ErrDuplicate.
func (d *Dispatcher) SubmitOnce(ctx context.Context, laneName, key string, task Task) error {
	if key == "" {
		return d.submit(ctx, laneName, "", task)
	}
	if !d.dedup.Claim(key) {
		return ErrDuplicate
	}
	err := d.submit(ctx, laneName, key, task)
	if err != nil {
		d.dedup.Release(key)
	}
	return err
}

func (d *Dispatcher) submit(ctx context.Context, laneName, dedupKey string, task Task) error {
	if ctx == nil {
		ctx = context.Background()
	}

	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		return ErrClosed
	}
	l, ok := d.lanes[laneName]
	d.mu.RUnlock()

	if !ok {
		d.mu.Lock()
		if d.closed {
			d.mu.Unlock()
			return ErrClosed
		}
		l = d.initLane(LaneConfig{Name: laneName})
		d.mu.Unlock()
	}

	record := &taskRecord{
		id:       fmt.Sprintf("%s-%d", laneName, d.seq.Add(1)),
		ctx:      tracing.Detach(ctx),
		task:     task,
		dedupKey: dedupKey,
	}

	// Hold the read lock across the send so Close cannot close the channel under us.
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}

	select {
	case l.tasks <- record:
		observability.RecordQueueEnqueue(laneName, true, len(l.tasks))
		d.logger.Debug().
			Str("lane", laneName).
			Str("taskId", record.id).
			Int("queueSize", len(l.tasks)).
			Msg("Task enqueued")
		return nil
	default:
		l.rejected.Add(1)
		observability.RecordQueueEnqueue(laneName, false, len(l.tasks))
		d.logger.Warn().
			Str("lane", laneName).
			Int("backlog", cap(l.tasks)).
			Msg("Lane full, task rejected")
		return fmt.Errorf("lane %s: %w", laneName, ErrQueueFull)
	}
}

func (d *Dispatcher) worker(l *lane) {
	defer d.wg.Done()
	for record := range l.tasks {
		d.execute(l, record)
	}
}

func (d *Dispatcher) execute(l *lane, record *taskRecord) {
	taskCtx, span := tracing.StartSpan(
		record.ctx,
		"honeypot.dispatch",
		"dispatch.execute_task",
		attribute.String("lane", l.name),
		attribute.String("task_id", record.id),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(taskCtx, d.logger)

	runCtx, cancel := context.WithCancel(taskCtx)
	stopCancel := context.AfterFunc(d.ctx, cancel)
	defer func() {
		stopCancel()
		cancel()
	}()

	l.running.Add(1)
	start := time.Now()
	err := d.run(runCtx, record.task)
	duration := time.Since(start)
	l.running.Add(-1)

	if err != nil {
		l.failed.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().
			Str("lane", l.name).
			Str("taskId", record.id).
			Dur("duration", duration).
			Err(err).
			Msg("Task failed")
		if record.dedupKey != "" {
			d.dedup.Release(record.dedupKey)
		}
	} else {
		l.completed.Add(1)
		logger.Debug().
			Str("lane", l.name).
			Str("taskId", record.id).
			Dur("duration", duration).
			Msg("Task completed")
	}

	observability.RecordQueueCompletion(l.name, duration, err == nil, len(l.tasks))

	d.emit(Event{Lane: l.name, TaskID: record.id, Duration: duration, Err: err})
}

// run invokes task and converts a panic into an error.
func (d *Dispatcher) run(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task(ctx)
}

// OnComplete registers a handler called synchronously after every task.
func (d *Dispatcher) OnComplete(handler func(Event)) {
	d.handlerMu.Lock()
	defer d.handlerMu.Unlock()
	d.handlers = append(d.handlers, handler)
}

func (d *Dispatcher) emit(event Event) {
	d.handlerMu.RLock()
	handlers := d.handlers
	d.handlerMu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}

// Stats returns a snapshot of every lane.
func (d *Dispatcher) Stats() map[string]LaneStats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	stats := make(map[string]LaneStats, len(d.lanes))
	for name, l := range d.lanes {
		stats[name] = LaneStats{
			Queued:    len(l.tasks),
			Running:   int(l.running.Load()),
			Workers:   l.workers,
			Backlog:   cap(l.tasks),
			Completed: l.completed.Load(),
			Failed:    l.failed.Load(),
			Rejected:  l.rejected.Load(),
		}
	}
	return stats
}

// Lanes returns the configured lane names in lexical order.
func (d *Dispatcher) Lanes() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.lanes))
	for name := range d.lanes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close stops accepting work and waits up to timeout for queued and running
// tasks to finish. If the timeout expires, task contexts are cancelled and Close
// waits for the workers to return. It reports whether the drain completed in time.
func (d *Dispatcher) Close(timeout time.Duration) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return true
	}
	d.closed = true
	for _, l := range d.lanes {
		close(l.tasks)
	}
	d.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(drained)
	}()

	ok := true
	select {
	case <-drained:
		d.logger.Info().Msg("All dispatched tasks completed")
	case <-time.After(timeout):
		ok = false
		d.logger.Warn().Dur("timeout", timeout).Msg("Timeout draining dispatcher, cancelling tasks")
		d.cancel()
		<-drained
	}

	d.cancel()
	d.dedup.Stop()
	return ok
}
