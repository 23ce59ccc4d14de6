package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/harun/honeypot/internal/tracing"
	"github.com/harun/honeypot/pkg/honeypot"
	"github.com/harun/honeypot/pkg/session"
)

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "Honeypot API is running",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.engine.Stats()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"uptime":    time.Since(s.startTime).Seconds(),
		"sessions":  stats.Sessions,
		"timestamp": time.Now().UnixMilli(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"routes":   s.GetMetrics(),
		"sessions": s.engine.Stats(),
	}
	if s.options.Dispatcher != nil {
		body["dispatch"] = s.options.Dispatcher.Stats()
	}
	writeJSON(w, http.StatusOK, body)
}

type turnOutcome struct {
	result honeypot.Result
	err    error
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.options.MaxBodyBytes)
	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "request body too large"})
			return
		}
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("Failed to read request body")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "could not read request body"})
		return
	}

	req, err := parseTurnRequest(rawBody)
	if err != nil {
		var verr *ValidationError
		switch {
		case errors.As(err, &verr):
			writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
				"error":   "invalid request",
				"details": verr.Details,
			})
		case errors.Is(err, errInvalidJSON):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		case errors.Is(err, errInvalidSessionKey):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		default:
			s.logger.Error().Err(err).Msg("Failed to validate request")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		}
		return
	}

	// The turn runs detached from the request so a deadline on the response
	// leaves the session mutation to complete.
	ctx := tracing.WithSessionKey(tracing.Detach(r.Context()), req.SessionKey)
	outcome := make(chan turnOutcome, 1)
	go func() {
		res, err := s.engine.ProcessTurn(ctx, req.SessionKey, req.Message)
		outcome <- turnOutcome{result: res, err: err}
	}()

	timer := time.NewTimer(s.options.RequestTimeout)
	defer timer.Stop()

	select {
	case out := <-outcome:
		if out.err != nil {
			if errors.Is(out.err, session.ErrInvalidKey) {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": out.err.Error()})
				return
			}
			s.logger.Error().Err(out.err).Str("session_key", req.SessionKey).Msg("Turn processing failed")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
			return
		}
		writeJSON(w, http.StatusOK, NewAnalyzeResponse(out.result))
	case <-timer.C:
		s.logger.Error().
			Dur("timeout", s.options.RequestTimeout).
			Str("session_key", req.SessionKey).
			Msg("Turn processing timed out")
		writeJSON(w, http.StatusGatewayTimeout, map[string]string{"error": "processing timeout"})
	case <-r.Context().Done():
		s.logger.Warn().Str("session_key", req.SessionKey).Msg("Client went away before turn completed")
	}
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	view, err := s.engine.GetSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Conversation not found"})
			return
		}
		s.logger.Error().Err(err).Str("session_key", id).Msg("Failed to load session")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, view)
}
