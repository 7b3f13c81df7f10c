// Package conversation exposes the scheduling workflow engine over HTTP. The
// service owns session lifecycle: it creates sessions, serializes turns per
// session, persists state between turns, and records terminal outcomes.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/wavelinehealth/frontdesk/internal/audit"
	"github.com/wavelinehealth/frontdesk/internal/engine"
	"github.com/wavelinehealth/frontdesk/internal/sessionstore"
	"github.com/wavelinehealth/frontdesk/pkg/logging"
)

// ErrSessionNotFound is returned for turns against unknown or already
// terminated sessions.
var ErrSessionNotFound = errors.New("conversation: session not found")

// Service manages conversation sessions.
type Service interface {
	StartSession(ctx context.Context) (string, error)
	HandleTurn(ctx context.Context, sessionID string, in engine.TurnInput) (*engine.TurnOutput, error)
}

// engineService drives the workflow engine against the session store. Turns of
// the same session run strictly serially; distinct sessions run concurrently.
type engineService struct {
	engine *engine.Engine
	store  sessionstore.Store
	audit  *audit.Recorder
	logger *logging.Logger

	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	sync.Mutex
	refs int
}

// NewService creates the engine-backed conversation service. The audit
// recorder may be nil.
func NewService(eng *engine.Engine, store sessionstore.Store, recorder *audit.Recorder, logger *logging.Logger) Service {
	if eng == nil {
		panic("conversation: engine cannot be nil")
	}
	if store == nil {
		panic("conversation: session store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &engineService{
		engine: eng,
		store:  store,
		audit:  recorder,
		logger: logger,
		locks:  make(map[string]*sessionLock),
	}
}

func (s *engineService) StartSession(ctx context.Context) (string, error) {
	sessionID := uuid.NewString()
	if err := s.store.Save(ctx, engine.NewState(sessionID)); err != nil {
		return "", fmt.Errorf("conversation: failed to create session: %w", err)
	}
	s.logger.Info("session started", "session_id", sessionID)
	return sessionID, nil
}

func (s *engineService) HandleTurn(ctx context.Context, sessionID string, in engine.TurnInput) (*engine.TurnOutput, error) {
	unlock := s.lockSession(sessionID)
	defer unlock()

	st, err := s.store.Load(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sessionstore.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	out, err := s.engine.Turn(ctx, st, in)
	if err != nil {
		if errors.Is(err, engine.ErrInvariant) {
			// Invariant violations abort the session entirely: the state is no
			// longer trustworthy.
			s.logger.Error("session aborted on invariant violation",
				"session_id", sessionID,
				"error", err,
			)
			if delErr := s.store.Delete(ctx, sessionID); delErr != nil {
				s.logger.Error("failed to delete aborted session", "session_id", sessionID, "error", delErr)
			}
		}
		return nil, err
	}

	if out.Done {
		if auditErr := s.audit.Record(ctx, st); auditErr != nil {
			// The outcome was already delivered; losing the audit row must not
			// fail the turn.
			s.logger.Error("failed to record session audit", "session_id", sessionID, "error", auditErr)
		}
		if delErr := s.store.Delete(ctx, sessionID); delErr != nil {
			s.logger.Error("failed to delete terminal session", "session_id", sessionID, "error", delErr)
		}
		return out, nil
	}

	if err := s.store.Save(ctx, st); err != nil {
		return nil, fmt.Errorf("conversation: failed to persist session: %w", err)
	}
	return out, nil
}

// lockSession acquires the per-session mutex, creating and reference-counting
// it so the map does not grow with dead sessions.
func (s *engineService) lockSession(sessionID string) func() {
	s.mu.Lock()
	l, ok := s.locks[sessionID]
	if !ok {
		l = &sessionLock{}
		s.locks[sessionID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, sessionID)
		}
		s.mu.Unlock()
	}
}
