package tracing

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Span exporters understood by Config.Exporter.
const (
	// ExporterNone keeps spans in-process: IDs are minted and propagated into
	// log lines but nothing is exported.
	ExporterNone = "none"
	// ExporterLog writes every finished, sampled span as a debug log line.
	ExporterLog = "log"
)

// Config describes the process-wide tracer provider.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	// SampleRatio is the fraction of root spans sampled; out-of-range values
	// fall back to 1.
	SampleRatio float64
	Exporter    string
	Logger      zerolog.Logger
}

var (
	providerOnce sync.Once
	providerMu   sync.RWMutex
	provider     *sdktrace.TracerProvider
	providerErr  error
)

// InitOpenTelemetry installs the global tracer provider described by cfg.
// Only the first call has any effect.
func InitOpenTelemetry(cfg Config) error {
	providerOnce.Do(func() {
		tp, err := newTracerProvider(cfg)
		if err != nil {
			providerErr = err
			return
		}

		providerMu.Lock()
		provider = tp
		providerMu.Unlock()

		otel.SetTracerProvider(tp)
	})

	return providerErr
}

func newTracerProvider(cfg Config) (*sdktrace.TracerProvider, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "honeypot"
	}
	if cfg.SampleRatio <= 0 || cfg.SampleRatio > 1 {
		cfg.SampleRatio = 1
	}

	attrs := []attribute.KeyValue{semconv.ServiceName(cfg.ServiceName)}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(cfg.Environment))
	}
	res, err := resource.New(context.Background(), resource.WithAttributes(attrs...))
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithResource(res),
	}

	switch cfg.Exporter {
	case "", ExporterNone:
	case ExporterLog:
		exp := &logExporter{log: cfg.Logger.With().Str("component", "tracing").Logger()}
		opts = append(opts, sdktrace.WithBatcher(exp))
	default:
		return nil, fmt.Errorf("unknown span exporter %q", cfg.Exporter)
	}

	return sdktrace.NewTracerProvider(opts...), nil
}

// logExporter emits finished spans through zerolog.
type logExporter struct {
	log zerolog.Logger
}

func (e *logExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, s := range spans {
		ev := e.log.Debug().
			Str("span", s.Name()).
			Str("trace_id", s.SpanContext().TraceID().String()).
			Str("span_id", s.SpanContext().SpanID().String()).
			Dur("duration", s.EndTime().Sub(s.StartTime())).
			Str("status", s.Status().Code.String())
		if s.Parent().IsValid() {
			ev = ev.Str("parent_span_id", s.Parent().SpanID().String())
		}
		if attrs := s.Attributes(); len(attrs) > 0 {
			fields := make(map[string]interface{}, len(attrs))
			for _, kv := range attrs {
				fields[string(kv.Key)] = kv.Value.AsInterface()
			}
			ev = ev.Interface("attributes", fields)
		}
		ev.Msg("Span finished")
	}
	return nil
}

func (e *logExporter) Shutdown(context.Context) error { return nil }

// ShutdownOpenTelemetry flushes and shuts down the global tracer provider.
func ShutdownOpenTelemetry(ctx context.Context) error {
	providerMu.RLock()
	tp := provider
	providerMu.RUnlock()
	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}

// StartSpan starts a span and copies its trace ID into the context when none
// is set yet, so log lines and spans share one ID.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, spanName, trace.WithAttributes(attrs...))

	if GetTraceID(ctx) == "" {
		sc := span.SpanContext()
		if sc.IsValid() {
			ctx = WithTraceID(ctx, sc.TraceID().String())
		}
	}

	return ctx, span
}
