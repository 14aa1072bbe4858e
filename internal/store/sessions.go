package store

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/ashureev/mentor-labs/internal/domain"
	"github.com/ashureev/mentor-labs/internal/metrics"
)

// Sessions adapts a Backend to the session contract used by the flow: reads
// never fail and writes never surface errors. Failures are logged and counted
// with a reason that separates "not found" from "store unavailable".
type Sessions struct {
	backend Backend
	logger  *slog.Logger

	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// NewSessions wraps backend.
func NewSessions(backend Backend, logger *slog.Logger) *Sessions {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sessions{backend: backend, logger: logger, locks: make(map[string]*sessionLock)}
}

// Backend returns the wrapped backend.
func (s *Sessions) Backend() Backend {
	return s.backend
}

// Lock acquires the per-session mutex and returns its release func.
func (s *Sessions) Lock(id string) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sessionLock{}
		s.locks[id] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, id)
		}
		s.mu.Unlock()
	}
}

// Get returns the session for id. Absent or unreadable sessions come back empty.
func (s *Sessions) Get(ctx context.Context, id string) *domain.Session {
	doc, err := s.backend.Load(ctx, id)
	switch {
	case errors.Is(err, ErrNotFound):
		metrics.StoreErrors.WithLabelValues("get", "not_found").Inc()
		s.logger.Debug("Session document not found, returning empty state", "session_id", id)
		return &domain.Session{ID: id}
	case err != nil:
		metrics.StoreErrors.WithLabelValues("get", "unavailable").Inc()
		s.logger.Error("Failed to read session document", "session_id", id, "error", err)
		return &domain.Session{ID: id}
	}
	return s.decode(id, doc)
}

// Merge applies patch as a shallow upsert.
func (s *Sessions) Merge(ctx context.Context, id string, patch Patch) {
	err := s.backend.Update(ctx, id, func(doc Document) (Document, error) {
		return patch.Apply(doc)
	})
	if err != nil {
		metrics.StoreErrors.WithLabelValues("merge", "unavailable").Inc()
		s.logger.Error("Failed to write session document", "session_id", id, "error", err)
	}
}

func (s *Sessions) decode(id string, doc Document) *domain.Session {
	sess := &domain.Session{ID: id}
	s.field(id, doc, domain.KeyAnalysis, &sess.Analysis)
	s.field(id, doc, domain.KeyChosenPath, &sess.ChosenPath)
	s.field(id, doc, domain.KeyCurrentInteraction, &sess.CurrentInteraction)
	s.field(id, doc, domain.KeyFinalSummary, &sess.FinalSummary)
	s.field(id, doc, domain.KeyAnsweredSteps, &sess.AnsweredSteps)
	return sess
}

// field decodes one key; a corrupt value is treated as absent.
func (s *Sessions) field(id string, doc Document, key string, dst any) {
	raw, ok := doc[key]
	if !ok {
		return
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		metrics.StoreErrors.WithLabelValues("decode", "corrupt").Inc()
		s.logger.Warn("Ignoring undecodable session field", "session_id", id, "field", key, "error", err)
	}
}
