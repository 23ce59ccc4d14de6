package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// LoggerFromContext adds the tracing fields carried by ctx to baseLogger.
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	if ctx == nil {
		return baseLogger
	}
	tc := FromContext(ctx)

	logCtx := baseLogger.With()
	if tc.TraceID != "" {
		logCtx = logCtx.Str("trace_id", tc.TraceID)
	}
	if tc.RequestID != "" {
		logCtx = logCtx.Str("request_id", tc.RequestID)
	}
	if tc.SessionKey != "" {
		logCtx = logCtx.Str("session_key", tc.SessionKey)
	}
	return logCtx.Logger()
}

// Detach returns a context that keeps the tracing values (and otel span) of ctx but
// is not cancelled with it. Background work started on behalf of a request uses it
// so the request finishing does not abort the work.
func Detach(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return context.WithoutCancel(ctx)
}
