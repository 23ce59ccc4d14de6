package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harun/honeypot/internal/observability"
	"github.com/harun/honeypot/internal/tracing"
	"github.com/harun/honeypot/pkg/indicator"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	// CompactionThreshold is the transcript length above which compaction runs.
	CompactionThreshold = 20
	// CompactionKeep is the number of most recent turns kept by compaction.
	CompactionKeep = 10
)

var (
	// ErrNotFound is returned when reading a session that was never created.
	ErrNotFound = errors.New("session not found")
	// ErrInvalidKey is returned for keys that fail ValidateKey.
	ErrInvalidKey = errors.New("invalid session key")
)

// Role identifies who produced a turn.
type Role string

const (
	RoleScammer Role = "scammer"
	RoleAgent   Role = "agent"
)

// Turn is one message of a conversation.
type Turn struct {
	Role      Role      `json:"role"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is a point-in-time copy of a conversation.
type Session struct {
	Key        string        `json:"session_key"`
	Transcript []Turn        `json:"conversation"`
	Indicators indicator.Set `json:"session_extracted_data"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// Counts returns the transcript length and the number of turns per role.
func (s Session) Counts() (total, scammer, agent int) {
	for _, t := range s.Transcript {
		switch t.Role {
		case RoleScammer:
			scammer++
		case RoleAgent:
			agent++
		}
	}
	return len(s.Transcript), scammer, agent
}

func (s Session) clone() Session {
	out := s
	out.Transcript = make([]Turn, len(s.Transcript))
	copy(out.Transcript, s.Transcript)
	out.Indicators = s.Indicators.Clone()
	return out
}

// Stats summarizes the store.
type Stats struct {
	Sessions   int `json:"sessions"`
	Turns      int `json:"turns"`
	Indicators int `json:"indicators"`
}

type entry struct {
	mu      sync.Mutex
	session Session
}

// Store is the process-wide session map.
type Store struct {
	sessions map[string]*entry
	mu       sync.RWMutex
	logger   zerolog.Logger
	now      func() time.Time
}

// NewStore creates an empty store.
func NewStore(logger zerolog.Logger) *Store {
	observability.EnsureRegistered()

	return &Store{
		sessions: make(map[string]*entry),
		logger:   logger.With().Str("component", "session-store").Logger(),
		now:      time.Now,
	}
}

// ValidateKey checks that key is usable as a session key. Keys are opaque:
// any non-empty string is accepted.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: key cannot be empty", ErrInvalidKey)
	}
	return nil
}

// getOrCreateEntry returns the entry for key, creating it when missing.
func (s *Store) getOrCreateEntry(key string) *entry {
	s.mu.RLock()
	e, ok := s.sessions[key]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.sessions[key]; ok {
		return e
	}

	now := s.now()
	e = &entry{
		session: Session{
			Key:        key,
			Transcript: []Turn{},
			Indicators: indicator.Empty(),
			CreatedAt:  now,
			UpdatedAt:  now,
		},
	}
	s.sessions[key] = e
	observability.SetActiveSessions(len(s.sessions))

	s.logger.Debug().Str("session_key", key).Msg("Session created")
	return e
}

func (s *Store) lookup(key string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sessions[key]
	return e, ok
}

// GetOrCreate returns a snapshot of the session, creating an empty one first if
// key has never been seen.
func (s *Store) GetOrCreate(ctx context.Context, key string) (Session, error) {
	var snap Session
	err := s.Update(ctx, key, func(tx *Tx) {
		snap = tx.Snapshot()
	})
	return snap, err
}

// Get returns a snapshot of an existing session or ErrNotFound. It never creates.
func (s *Store) Get(ctx context.Context, key string) (Session, error) {
	_, span := tracing.StartSpan(ctx, "honeypot.session", "session.get", attribute.String("session_key", key))
	defer span.End()

	e, ok := s.lookup(key)
	if !ok {
		span.SetStatus(codes.Error, ErrNotFound.Error())
		return Session{}, ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.clone(), nil
}

// AppendTurn appends a single turn, creating the session if needed.
func (s *Store) AppendTurn(ctx context.Context, key string, turn Turn) error {
	return s.Update(ctx, key, func(tx *Tx) {
		tx.AppendTurn(turn)
	})
}

// MergeIndicators unions set into the session's cumulative indicators and
// returns the new cumulative set.
func (s *Store) MergeIndicators(ctx context.Context, key string, set indicator.Set) (indicator.Set, error) {
	var merged indicator.Set
	err := s.Update(ctx, key, func(tx *Tx) {
		merged = tx.MergeIndicators(set)
	})
	return merged, err
}

// Update runs fn with exclusive access to the session, creating it if needed.
// Everything fn does through tx is observed atomically by other callers.
func (s *Store) Update(ctx context.Context, key string, fn func(tx *Tx)) error {
	ctx, span := tracing.StartSpan(ctx, "honeypot.session", "session.update", attribute.String("session_key", key))
	defer span.End()

	if err := ValidateKey(key); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	e := s.getOrCreateEntry(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	tx := &Tx{store: s, session: &e.session}
	fn(tx)

	if tx.dirty {
		e.session.UpdatedAt = s.now()
	}

	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Debug().
		Int("turns", len(e.session.Transcript)).
		Int("indicators", e.session.Indicators.Count()).
		Msg("Session updated")

	return nil
}

// Len returns the number of sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Stats walks every session and totals turns and indicators.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.sessions))
	for _, e := range s.sessions {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	stats := Stats{Sessions: len(entries)}
	for _, e := range entries {
		e.mu.Lock()
		stats.Turns += len(e.session.Transcript)
		stats.Indicators += e.session.Indicators.Count()
		e.mu.Unlock()
	}
	return stats
}

// Tx gives a function passed to Update access to one locked session.
// It must not be retained after the function returns.
type Tx struct {
	store   *Store
	session *Session
	dirty   bool
}

// Key returns the session key.
func (tx *Tx) Key() string {
	return tx.session.Key
}

// AppendTurn appends turn and applies transcript compaction.
func (tx *Tx) AppendTurn(turn Turn) {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = tx.store.now()
	}
	tx.session.Transcript = append(tx.session.Transcript, turn)
	tx.dirty = true

	if n := len(tx.session.Transcript); n > CompactionThreshold {
		kept := make([]Turn, CompactionKeep)
		copy(kept, tx.session.Transcript[n-CompactionKeep:])
		tx.session.Transcript = kept

		observability.RecordCompaction()
		tx.store.logger.Debug().
			Str("session_key", tx.session.Key).
			Int("dropped", n-CompactionKeep).
			Msg("Transcript compacted")
	}
}

// MergeIndicators unions set into the cumulative indicators and returns a copy
// of the result.
func (tx *Tx) MergeIndicators(set indicator.Set) indicator.Set {
	tx.session.Indicators = tx.session.Indicators.Merge(set)
	tx.dirty = true
	return tx.session.Indicators.Clone()
}

// Counts returns the transcript length and the number of turns per role.
func (tx *Tx) Counts() (total, scammer, agent int) {
	return tx.session.Counts()
}

// Indicators returns a copy of the cumulative indicator set.
func (tx *Tx) Indicators() indicator.Set {
	return tx.session.Indicators.Clone()
}

// Snapshot returns a deep copy of the session's current state.
func (tx *Tx) Snapshot() Session {
	return tx.session.clone()
}
