// Package callback delivers scam intelligence to an external reporting endpoint.
//
// Deliveries are best effort. The Notifier queues them on a dispatch lane so the
// conversation pipeline never waits on the network, and delivery errors are
// logged and counted but never surfaced to callers of the engine.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/harun/honeypot/internal/observability"
	"github.com/harun/honeypot/internal/tracing"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	// DeliveryIDHeader carries a unique id per delivery, stable across retries.
	DeliveryIDHeader = "X-Delivery-ID"

	DefaultTimeout     = 5 * time.Second
	DefaultMaxRetries  = 3
	DefaultBaseBackoff = 500 * time.Millisecond
)

// ErrPermanent marks a delivery the endpoint rejected in a way retrying cannot fix.
var ErrPermanent = errors.New("permanent delivery failure")

// Config configures a Reporter.
type Config struct {
	URL         string
	Secret      string
	Timeout     time.Duration
	MaxRetries  uint64
	BaseBackoff time.Duration
}

// Reporter posts payloads to the configured URL.
type Reporter struct {
	cfg    Config
	client *http.Client
	logger zerolog.Logger
}

// NewReporter creates a reporter. Zero durations and retry counts fall back to
// the package defaults.
func NewReporter(cfg Config, logger zerolog.Logger) *Reporter {
	observability.EnsureRegistered()

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = DefaultBaseBackoff
	}

	return &Reporter{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With().Str("component", "callback").Logger(),
	}
}

// Deliver posts p, retrying transient failures with Fibonacci backoff.
func (r *Reporter) Deliver(ctx context.Context, p Payload) error {
	ctx, span := tracing.StartSpan(ctx, "honeypot.callback", "callback.deliver",
		attribute.String("session_key", p.SessionID),
	)
	defer span.End()

	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	deliveryID, err := gonanoid.New()
	if err != nil {
		return fmt.Errorf("generate delivery id: %w", err)
	}

	logger := tracing.LoggerFromContext(ctx, r.logger).With().
		Str("delivery_id", deliveryID).
		Str("session_key", p.SessionID).
		Logger()

	start := time.Now()
	attempts := 0
	b := retry.WithMaxRetries(r.cfg.MaxRetries, retry.NewFibonacci(r.cfg.BaseBackoff))
	err = retry.Do(ctx, b, func(ctx context.Context) error {
		attempts++
		err := r.post(ctx, deliveryID, body)
		if err != nil && !errors.Is(err, ErrPermanent) {
			logger.Debug().Int("attempt", attempts).Err(err).Msg("Callback attempt failed")
			return retry.RetryableError(err)
		}
		return err
	})
	duration := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.RecordCallback("failed", duration)
		logger.Warn().Int("attempts", attempts).Dur("duration", duration).Err(err).Msg("Callback delivery failed")
		return err
	}

	observability.RecordCallback("delivered", duration)
	logger.Info().Int("attempts", attempts).Dur("duration", duration).Msg("Callback delivered")
	return nil
}

func (r *Reporter) post(ctx context.Context, deliveryID string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(DeliveryIDHeader, deliveryID)
	if r.cfg.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(body, r.cfg.Secret))
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("post callback: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("callback endpoint returned %d", resp.StatusCode)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return fmt.Errorf("%w: callback endpoint returned %d", ErrPermanent, resp.StatusCode)
	default:
		return fmt.Errorf("callback endpoint returned %d", resp.StatusCode)
	}
}
