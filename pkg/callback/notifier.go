package callback

import (
	"context"
	"errors"

	"github.com/harun/honeypot/internal/observability"
	"github.com/harun/honeypot/pkg/dispatch"
	"github.com/harun/honeypot/pkg/honeypot"
	"github.com/rs/zerolog"
)

// Lane is the dispatch lane callback deliveries run on.
const Lane = "callback"

// Deliverer sends one payload.
type Deliverer interface {
	Deliver(ctx context.Context, p Payload) error
}

// Notifier implements honeypot.Notifier by queueing deliveries on a dispatcher.
// Identical intelligence for the same session is delivered once.
type Notifier struct {
	dispatcher *dispatch.Dispatcher
	deliverer  Deliverer
	logger     zerolog.Logger
}

var _ honeypot.Notifier = (*Notifier)(nil)

// NewNotifier creates a notifier that submits to the callback lane of d.
func NewNotifier(d *dispatch.Dispatcher, deliverer Deliverer, logger zerolog.Logger) *Notifier {
	return &Notifier{
		dispatcher: d,
		deliverer:  deliverer,
		logger:     logger.With().Str("component", "callback-notifier").Logger(),
	}
}

// Notify queues a delivery for report and returns immediately.
func (n *Notifier) Notify(ctx context.Context, report honeypot.Report) {
	payload := PayloadFromReport(report)

	err := n.dispatcher.SubmitOnce(ctx, Lane, payload.fingerprint(), func(ctx context.Context) error {
		return n.deliverer.Deliver(ctx, payload)
	})

	switch {
	case err == nil:
	case errors.Is(err, dispatch.ErrDuplicate):
		n.logger.Debug().Str("session_key", report.SessionKey).Msg("Intelligence unchanged, callback skipped")
	default:
		observability.RecordCallback("dropped", 0)
		n.logger.Warn().Str("session_key", report.SessionKey).Err(err).Msg("Callback dropped")
	}
}
