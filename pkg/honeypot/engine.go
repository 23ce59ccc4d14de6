// Package honeypot runs one conversational turn end to end: it records the inbound
// message, classifies it, extracts indicators, picks an engagement reply and
// returns the updated conversation state.
package honeypot

import (
	"context"
	"fmt"
	"time"

	"github.com/harun/honeypot/internal/observability"
	"github.com/harun/honeypot/internal/tracing"
	"github.com/harun/honeypot/pkg/classifier"
	"github.com/harun/honeypot/pkg/indicator"
	"github.com/harun/honeypot/pkg/reply"
	"github.com/harun/honeypot/pkg/session"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// NeutralRule names the reply given to messages that are not classified as a scam.
const NeutralRule = "neutral"

const tracerName = "honeypot.engine"

// Metrics are engagement counters computed from the session after a turn.
type Metrics struct {
	TotalTurns      int `json:"total_turns"`
	ScammerMessages int `json:"scammer_messages"`
	AgentMessages   int `json:"agent_messages"`
	ExtractedItems  int `json:"extracted_items"`
}

// Result is everything produced by one turn.
type Result struct {
	SessionKey           string            `json:"conversation_id"`
	Classification       classifier.Result `json:"classification"`
	Reply                string            `json:"agent_reply"`
	ReplyRule            string            `json:"reply_rule"`
	CurrentIndicators    indicator.Set     `json:"extracted_data_current_message"`
	CumulativeIndicators indicator.Set     `json:"session_extracted_data"`
	Transcript           []session.Turn    `json:"conversation"`
	Metrics              Metrics           `json:"metrics"`
}

// SessionView is the read-only view of a stored conversation.
type SessionView struct {
	SessionKey string         `json:"conversation_id"`
	Transcript []session.Turn `json:"conversation"`
	Indicators indicator.Set  `json:"session_extracted_data"`
	Metrics    Metrics        `json:"metrics"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Report is handed to the Notifier after a turn classified as a scam.
type Report struct {
	SessionKey    string
	ScamType      classifier.ScamType
	Confidence    float64
	Matched       []string
	TotalMessages int
	Indicators    indicator.Set
	ReplyRule     string
}

// Notifier receives scam reports. Notify is fire-and-forget: it must not block
// the caller for long, and whatever it does cannot change the turn's result.
type Notifier interface {
	Notify(ctx context.Context, report Report)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, report Report)

func (f NotifierFunc) Notify(ctx context.Context, report Report) { f(ctx, report) }

// Option configures an Engine.
type Option func(*Engine)

// WithNotifier sets the side-channel hook for scam reports.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithLogger sets the engine's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// Engine is the conversation orchestrator. It is safe for concurrent use.
type Engine struct {
	store    *session.Store
	notifier Notifier
	logger   zerolog.Logger
}

// New creates an engine over store.
func New(store *session.Store, opts ...Option) *Engine {
	observability.EnsureRegistered()

	e := &Engine{
		store:  store,
		logger: log.Logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With().Str("component", "honeypot").Logger()
	return e
}

// Store returns the underlying session store.
func (e *Engine) Store() *session.Store {
	return e.store
}

// ProcessTurn handles one inbound message for sessionKey. The only error is an
// invalid session key; for any text the pipeline produces a result.
func (e *Engine) ProcessTurn(ctx context.Context, sessionKey, text string) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()

	ctx = tracing.WithSessionKey(ctx, sessionKey)
	ctx, span := tracing.StartSpan(ctx, tracerName, "honeypot.process_turn",
		attribute.String("session_key", sessionKey),
		attribute.Int("message_length", len(text)),
	)
	defer span.End()

	var res Result
	err := e.store.Update(ctx, sessionKey, func(tx *session.Tx) {
		tx.AppendTurn(session.Turn{Role: session.RoleScammer, Message: text})

		cls := classifier.Classify(text)
		current := indicator.Extract(text)
		cumulative := tx.MergeIndicators(current)

		rule, replyText := NeutralRule, reply.NeutralReply
		if cls.IsScam {
			total, scammer, agent := tx.Counts()
			rule, replyText = reply.Choose(reply.Input{
				ScamType: cls.ScamType,
				Text:     text,
				Shape:    reply.Shape{Turns: total, ScammerTurns: scammer, AgentTurns: agent},
			})
		}

		tx.AppendTurn(session.Turn{Role: session.RoleAgent, Message: replyText})

		snap := tx.Snapshot()
		res = Result{
			SessionKey:           sessionKey,
			Classification:       cls,
			Reply:                replyText,
			ReplyRule:            rule,
			CurrentIndicators:    current,
			CumulativeIndicators: cumulative,
			Transcript:           snap.Transcript,
			Metrics:              metricsFor(snap),
		}
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, fmt.Errorf("process turn: %w", err)
	}

	span.SetAttributes(
		attribute.Bool("is_scam", res.Classification.IsScam),
		attribute.String("scam_type", string(res.Classification.ScamType)),
		attribute.String("reply_rule", res.ReplyRule),
	)

	observability.RecordTurn(string(res.Classification.ScamType), res.Classification.IsScam, res.ReplyRule, time.Since(start))
	observability.RecordIndicators(res.CurrentIndicators.Categories())

	logger := tracing.LoggerFromContext(ctx, e.logger)
	logger.Info().
		Bool("is_scam", res.Classification.IsScam).
		Str("scam_type", string(res.Classification.ScamType)).
		Float64("confidence", res.Classification.Confidence).
		Str("reply_rule", res.ReplyRule).
		Int("new_indicators", res.CurrentIndicators.Count()).
		Int("total_turns", res.Metrics.TotalTurns).
		Msg("Turn processed")

	if res.Classification.IsScam {
		e.notify(ctx, res)
	}

	return res, nil
}

// notify hands a report to the notifier. A panicking notifier is logged and
// otherwise ignored.
func (e *Engine) notify(ctx context.Context, res Result) {
	if e.notifier == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Interface("panic", r).Str("session_key", res.SessionKey).Msg("Notifier panicked")
		}
	}()

	e.notifier.Notify(tracing.Detach(ctx), Report{
		SessionKey:    res.SessionKey,
		ScamType:      res.Classification.ScamType,
		Confidence:    res.Classification.Confidence,
		Matched:       append([]string(nil), res.Classification.Matched...),
		TotalMessages: res.Metrics.TotalTurns,
		Indicators:    res.CumulativeIndicators.Clone(),
		ReplyRule:     res.ReplyRule,
	})
}

// GetSession returns the stored conversation for sessionKey, or
// session.ErrNotFound if it was never created.
func (e *Engine) GetSession(ctx context.Context, sessionKey string) (SessionView, error) {
	snap, err := e.store.Get(ctx, sessionKey)
	if err != nil {
		return SessionView{}, err
	}
	return SessionView{
		SessionKey: snap.Key,
		Transcript: snap.Transcript,
		Indicators: snap.Indicators,
		Metrics:    metricsFor(snap),
		CreatedAt:  snap.CreatedAt,
		UpdatedAt:  snap.UpdatedAt,
	}, nil
}

// Stats summarizes all sessions.
func (e *Engine) Stats() session.Stats {
	return e.store.Stats()
}

func metricsFor(s session.Session) Metrics {
	total, scammer, agent := s.Counts()
	return Metrics{
		TotalTurns:      total,
		ScammerMessages: scammer,
		AgentMessages:   agent,
		ExtractedItems:  s.Indicators.Count(),
	}
}
