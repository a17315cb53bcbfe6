// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package session implements the session manager:
// session creation, idle-timeout lifecycle, and the returning-user signal.
// Each session owns exactly one provider connection, arbitrator, and set of
// lane instances — there is no shared-state locking between sessions
//.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rapidaai/voicecore/internal/bus"
	"github.com/rapidaai/voicecore/internal/storage"
	"github.com/rapidaai/voicecore/pkg/commons"
)

// Coarse session state, mirrored from storage's constants so callers of
// this package don't need to import storage directly.
const (
	StateIdle       = storage.SessionStateIdle
	StateListening  = storage.SessionStateListening
	StateResponding = storage.SessionStateResponding
	StateEnded      = storage.SessionStateEnded
)

// Event types emitted by the session manager.
const (
	EventSessionStart = "session.start"
	EventSessionEnd   = "session.end"
)

// EndPayload is the payload of session.end.
type EndPayload struct {
	Reason     string
	DurationMs int64
}

// ReadyInfo is the returning-user signal that CreateSession returns to its
// caller. It carries the fields of the provider.ready message; nothing in
// this package emits that message.
type ReadyInfo struct {
	IsReturningUser       bool
	PreviousSessionCount int64
}

// Session is the in-memory runtime record.
type Session struct {
	ID        string
	UserID    string // empty for anonymous
	State     string
	CreatedAt time.Time
	Metadata  map[string]any

	mu           sync.Mutex
	lastActivity time.Time
	idleTimer    *time.Timer
	endOnce      sync.Once
}

// Manager creates and tracks sessions, owns the shared bus, and persists
// lifecycle transitions through the repository.
type Manager struct {
	log        commons.Logger
	bus        *bus.Bus
	repo       storage.Repository
	maxIdle    time.Duration
	deleteGrace time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager builds a session manager. maxIdle/deleteGrace come from
// config.SessionConfig.
func NewManager(log commons.Logger, b *bus.Bus, repo storage.Repository, maxIdle, deleteGrace time.Duration) *Manager {
	if log == nil {
		log = commons.NewNopLogger()
	}
	return &Manager{
		log:         log,
		bus:         b,
		repo:        repo,
		maxIdle:     maxIdle,
		deleteGrace: deleteGrace,
		sessions:    make(map[string]*Session),
	}
}

// CreateSession creates a new session with a UUID id, persists its parent
// row (so the FK-safety invariant holds for the very first
// audit event), emits session.start, and arms the idle timer. userID may be
// empty for an anonymous session.
func (m *Manager) CreateSession(ctx context.Context, userID string, metadata map[string]any) (*Session, ReadyInfo, error) {
	now := time.Now()
	s := &Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		State:        StateIdle,
		CreatedAt:    now,
		Metadata:     metadata,
		lastActivity: now,
	}

	if err := m.repo.EnsureSession(ctx, &storage.Session{
		ID:     s.ID,
		UserID: nilIfEmpty(userID),
		State:  StateIdle,
	}); err != nil {
		return nil, ReadyInfo{}, err
	}

	var ready ReadyInfo
	if userID != "" {
		count, err := m.repo.PreviousSessionCount(ctx, userID)
		if err != nil {
			m.log.Warnw("session: failed to compute returning-user signal", "user_id", userID, "error", err)
		} else {
			ready = ReadyInfo{IsReturningUser: count > 0, PreviousSessionCount: count}
		}
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.armIdleTimer(s)

	m.bus.Emit(bus.NewEvent(s.ID, bus.SourceOrchestrator, EventSessionStart, nil))
	m.log.Infof("session: started session_id=%s user_id=%s returning=%v", s.ID, userID, ready.IsReturningUser)

	return s, ready, nil
}

// Touch resets the idle timer and updates last-activity time. Any inbound
// event delivered through the bus for this session should call Touch
// the idle timer resets on every inbound event, not only on finalized
// turns).
func (m *Manager) Touch(sessionID string) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return
	}
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
	m.armIdleTimer(s)
}

// UpdateState transitions a session's coarse state and touches it.
func (m *Manager) UpdateState(sessionID, state string) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return
	}
	s.mu.Lock()
	s.State = state
	s.mu.Unlock()
	m.Touch(sessionID)
}

// EndSession ends a session with reason, unsubscribes all of its bus
// handlers, persists the end, emits session.end, and schedules deletion
// from the in-memory map after the configured grace period. Idempotent:
// calling EndSession twice only runs the teardown once, and the second
// call returns ErrSessionEnded rather than repeating the work. Returns
// ErrSessionNotFound for an id that was never created or was already
// garbage collected.
func (m *Manager) EndSession(ctx context.Context, sessionID, reason string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return commons.ErrSessionNotFound
	}

	s.mu.Lock()
	alreadyEnded := s.State == StateEnded
	s.mu.Unlock()
	if alreadyEnded {
		return commons.ErrSessionEnded
	}

	s.endOnce.Do(func() {
		s.mu.Lock()
		if s.idleTimer != nil {
			s.idleTimer.Stop()
		}
		duration := time.Since(s.CreatedAt).Milliseconds()
		s.State = StateEnded
		s.mu.Unlock()

		if err := m.repo.EndSession(ctx, sessionID, reason); err != nil {
			m.log.Warnw("session: failed to persist end", "session_id", sessionID, "error", err)
		}

		m.bus.Emit(bus.NewEvent(sessionID, bus.SourceOrchestrator, EventSessionEnd, EndPayload{
			Reason: reason, DurationMs: duration,
		}))
		m.bus.OffSession(sessionID)
		m.log.Infof("session: ended session_id=%s reason=%s duration_ms=%d", sessionID, reason, duration)

		time.AfterFunc(m.deleteGrace, func() {
			m.mu.Lock()
			delete(m.sessions, sessionID)
			m.mu.Unlock()
		})
	})
	return nil
}

// GetActiveSessions returns every session not in the ended state.
func (m *Manager) GetActiveSessions() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		s.mu.Lock()
		state := s.State
		s.mu.Unlock()
		if state != StateEnded {
			out = append(out, s)
		}
	}
	return out
}

func (m *Manager) armIdleTimer(s *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	sessionID := s.ID
	s.idleTimer = time.AfterFunc(m.maxIdle, func() {
		_ = m.EndSession(context.Background(), sessionID, "timeout")
	})
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
