// Package api is the HTTP surface of the honeypot. It authenticates callers,
// normalizes the inbound payload shapes, enforces the processing deadline and
// renders engine results as JSON.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/harun/honeypot/internal/observability"
	"github.com/harun/honeypot/internal/tracing"
	"github.com/rs/zerolog"
)

// APIKeyHeader is the request header carrying the shared API key.
const APIKeyHeader = "x-api-key"

// Server is the honeypot HTTP server
type Server struct {
	options        ServerOptions
	server         *http.Server
	engine         Engine
	rateLimiter    *RateLimiter
	metricsTracker *MetricsTracker
	logger         zerolog.Logger
	startTime      time.Time
	apiKey         string
	apiKeyMu       sync.RWMutex
	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup
}

// NewServer creates a new server in front of engine
func NewServer(options ServerOptions, engine Engine, logger zerolog.Logger) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine is required")
	}

	if options.Port == 0 {
		options.Port = 8000
	}
	if options.Host == "" {
		options.Host = "0.0.0.0"
	}
	if options.RateLimitPerMinute == 0 {
		options.RateLimitPerMinute = 120
	}
	if options.RequestTimeout == 0 {
		options.RequestTimeout = 10 * time.Second
	}
	if options.MaxBodyBytes == 0 {
		options.MaxBodyBytes = 64 << 10
	}
	if options.ShutdownTimeout == 0 {
		options.ShutdownTimeout = 30 * time.Second
	}

	observability.EnsureRegistered()

	s := &Server{
		options:        options,
		engine:         engine,
		rateLimiter:    NewRateLimiter(options.RateLimitPerMinute),
		metricsTracker: NewMetricsTracker(),
		logger:         logger.With().Str("component", "api").Logger(),
		startTime:      time.Now(),
		apiKey:         options.APIKey,
	}

	s.server = &http.Server{
		Addr:              net.JoinHostPort(options.Host, strconv.Itoa(options.Port)),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if options.APIKey == "" {
		s.logger.Warn().Msg("No API key configured, authentication disabled")
	}

	return s, nil
}

// Handler returns the routed handler. Start serves the same handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /{$}", s.route("GET /", false, s.handleRoot))
	mux.Handle("GET /health", s.route("GET /health", false, s.handleHealth))
	mux.Handle("GET /metrics", s.route("GET /metrics", false, observability.MetricsHandler().ServeHTTP))
	mux.Handle("POST /analyze", s.route("POST /analyze", true, s.handleAnalyze))
	mux.Handle("POST /api/honeypot", s.route("POST /api/honeypot", true, s.handleAnalyze))
	mux.Handle("GET /session/{id}", s.route("GET /session/{id}", true, s.handleSession))
	mux.Handle("GET /stats", s.route("GET /stats", true, s.handleStats))

	return mux
}

// Addr returns the listen address
func (s *Server) Addr() string {
	return s.server.Addr
}

// Start serves until Stop is called
func (s *Server) Start() error {
	s.logger.Info().
		Str("host", s.options.Host).
		Int("port", s.options.Port).
		Msg("Starting honeypot API server")

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	return nil
}

// Stop rejects new requests, waits for in-flight ones and shuts the listener down
func (s *Server) Stop(ctx context.Context) error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down API server")

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All in-flight requests completed")
	case <-time.After(s.options.ShutdownTimeout):
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	case <-ctx.Done():
		s.logger.Warn().Msg("Shutdown cancelled, forcing close")
	}

	s.rateLimiter.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown API server: %w", err)
	}

	s.logger.Info().Msg("API server stopped")
	return nil
}

// SetAPIKey replaces the accepted API key. An empty key disables authentication.
func (s *Server) SetAPIKey(key string) {
	s.apiKeyMu.Lock()
	s.apiKey = key
	s.apiKeyMu.Unlock()
}

// SetRateLimit replaces the per-IP request limit.
func (s *Server) SetRateLimit(perMinute int) {
	s.rateLimiter.SetLimit(perMinute)
}

// GetMetrics returns the per-route request statistics
func (s *Server) GetMetrics() []RouteMetrics {
	return s.metricsTracker.GetMetrics()
}

func (s *Server) checkAPIKey(r *http.Request) bool {
	s.apiKeyMu.RLock()
	expected := s.apiKey
	s.apiKeyMu.RUnlock()

	if expected == "" {
		return true
	}
	got := r.Header.Get(APIKeyHeader)
	return subtle.ConstantTimeCompare([]byte(got), []byte(expected)) == 1
}

// route wraps a handler with shutdown tracking, rate limiting, optional API key
// checks, request logging and metrics.
func (s *Server) route(name string, authenticated bool, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		s.shutdownMu.RLock()
		if s.isShuttingDown {
			s.shutdownMu.RUnlock()
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "server is shutting down"})
			return
		}
		s.inFlightReqs.Add(1)
		s.shutdownMu.RUnlock()
		defer s.inFlightReqs.Done()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = tracing.NewTraceID()
		}
		ctx := tracing.NewRequestContext(r.Context(), requestID)
		r = r.WithContext(ctx)
		w.Header().Set("X-Request-ID", requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		ip := getClientIP(r)

		switch {
		case !s.rateLimiter.CheckLimit(ip):
			retryAfter := s.rateLimiter.GetRetryAfter(ip)
			s.logger.Warn().
				Str("ip", ip).
				Str("path", r.URL.Path).
				Int("retryAfter", retryAfter).
				Msg("Rate limit exceeded")
			rec.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeJSON(rec, http.StatusTooManyRequests, map[string]string{"error": "Too Many Requests"})
		case authenticated && !s.checkAPIKey(r):
			s.logger.Warn().Str("ip", ip).Str("path", r.URL.Path).Msg("Invalid API key")
			writeJSON(rec, http.StatusUnauthorized, map[string]string{"detail": "Invalid API Key"})
		default:
			h(rec, r)
		}

		duration := time.Since(startTime)
		success := rec.status < 400
		s.metricsTracker.Track(name, success, float64(duration.Milliseconds()))
		observability.RecordHTTPRequest(name, rec.status)

		logger := tracing.LoggerFromContext(r.Context(), s.logger)
		event := logger.Info()
		if rec.status >= 500 {
			event = logger.Error()
		} else if rec.status >= 400 {
			event = logger.Warn()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("ip", ip).
			Int("status", rec.status).
			Int64("duration", duration.Milliseconds()).
			Msg("Request completed")
	})
}

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
