package api

import (
	"context"
	"time"

	"github.com/harun/honeypot/pkg/classifier"
	"github.com/harun/honeypot/pkg/dispatch"
	"github.com/harun/honeypot/pkg/honeypot"
	"github.com/harun/honeypot/pkg/indicator"
	"github.com/harun/honeypot/pkg/session"
)

// Engine is the conversation core the server fronts.
type Engine interface {
	ProcessTurn(ctx context.Context, sessionKey, text string) (honeypot.Result, error)
	GetSession(ctx context.Context, sessionKey string) (honeypot.SessionView, error)
	Stats() session.Stats
}

// DispatchStats exposes background lane statistics on /stats.
type DispatchStats interface {
	Stats() map[string]dispatch.LaneStats
}

// ServerOptions configures the HTTP server
type ServerOptions struct {
	Host               string        // default "0.0.0.0"
	Port               int           // default 8000
	APIKey             string        // empty disables the x-api-key check
	RequestTimeout     time.Duration // processing deadline per turn (default: 10s)
	MaxBodyBytes       int64         // default 64 KiB
	RateLimitPerMinute int           // requests per minute per IP (default: 120)
	ShutdownTimeout    time.Duration // wait for in-flight requests (default: 30s)
	Dispatcher         DispatchStats // optional
}

// AnalyzeResponse is the body returned for a processed turn.
type AnalyzeResponse struct {
	ConversationID string              `json:"conversation_id"`
	IsScam         bool                `json:"is_scam"`
	ScamType       classifier.ScamType `json:"scam_type"`
	Confidence     float64             `json:"confidence"`
	AgentReply     string              `json:"agent_reply"`
	Current        indicator.Set       `json:"extracted_data_current_message"`
	Cumulative     indicator.Set       `json:"session_extracted_data"`
	Conversation   []session.Turn      `json:"conversation"`
	Metrics        honeypot.Metrics    `json:"metrics"`
}

// NewAnalyzeResponse renders an engine result in the wire shape.
func NewAnalyzeResponse(res honeypot.Result) AnalyzeResponse {
	return AnalyzeResponse{
		ConversationID: res.SessionKey,
		IsScam:         res.Classification.IsScam,
		ScamType:       res.Classification.ScamType,
		Confidence:     res.Classification.Confidence,
		AgentReply:     res.Reply,
		Current:        res.CurrentIndicators,
		Cumulative:     res.CumulativeIndicators,
		Conversation:   res.Transcript,
		Metrics:        res.Metrics,
	}
}

// RouteMetrics tracks request outcomes for one route
type RouteMetrics struct {
	Route               string  `json:"route"`
	TotalRequests       int64   `json:"totalRequests"`
	SuccessCount        int64   `json:"successCount"`
	FailureCount        int64   `json:"failureCount"`
	AverageResponseTime float64 `json:"averageResponseTime"` // milliseconds
	LastRequestAt       int64   `json:"lastRequestAt,omitempty"`
}

// RateLimitState tracks rate limiting per IP
type RateLimitState struct {
	Requests []int64 // request timestamps, unix millis
}
