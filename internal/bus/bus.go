// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package bus implements the per-session, per-process event bus that is
// the sole integration surface between the provider adapter,
// the lanes, the policy engine, and the session manager. Delivery is
// synchronous; a handler panic is recovered and logged rather than allowed
// to propagate.
package bus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rapidaai/voicecore/pkg/commons"
)

// Event is the bus's atomic unit. Once constructed it is
// treated as immutable; handlers must not mutate Payload.
type Event struct {
	EventID   string
	SessionID string
	TMs       int64
	Source    string
	Type      string
	Payload   any
}

// Source tags identifying which component emitted an event.
const (
	SourceLaneA        = "laneA"
	SourceLaneB        = "laneB"
	SourceLaneC        = "laneC"
	SourceOrchestrator = "orchestrator"
	SourceClient       = "client"
)

// Handler receives a delivered event. Returning nothing is deliberate: bus
// delivery never fails from the publisher's point of view.
type Handler func(Event)

// subscription wraps a Handler with a stable id so Off/OffSession can find
// and remove a specific registration without disturbing others.
type subscription struct {
	id      uint64
	handler Handler
}

// Bus is a per-process, in-memory pub/sub keyed by event type and by
// session id. Safe for concurrent use; delivery is
// synchronous on the calling goroutine.
type Bus struct {
	log commons.Logger

	mu        sync.RWMutex
	byType    map[string][]subscription
	bySession map[string][]subscription
	nextSubID uint64
}

// New builds an empty Bus.
func New(log commons.Logger) *Bus {
	if log == nil {
		log = commons.NewNopLogger()
	}
	return &Bus{
		log:       log,
		byType:    make(map[string][]subscription),
		bySession: make(map[string][]subscription),
	}
}

// NewEvent stamps a new Event with a fresh event id and the current
// monotonic-ish wall clock in milliseconds. Source/type/payload are
// supplied by the caller.
func NewEvent(sessionID, source, typ string, payload any) Event {
	return Event{
		EventID:   uuid.NewString(),
		SessionID: sessionID,
		TMs:       time.Now().UnixMilli(),
		Source:    source,
		Type:      typ,
		Payload:   payload,
	}
}

// Emit fans the event out to (a) subscribers of e.Type and (b) subscribers
// of e.SessionID, in that order. Delivery to each handler is synchronous;
// a handler panic is recovered and logged, never propagated to the
// publisher or to subsequent handlers.
func (b *Bus) Emit(e Event) {
	b.mu.RLock()
	typeSubs := append([]subscription(nil), b.byType[e.Type]...)
	sessionSubs := append([]subscription(nil), b.bySession[e.SessionID]...)
	b.mu.RUnlock()

	for _, s := range typeSubs {
		b.deliver(s, e)
	}
	for _, s := range sessionSubs {
		b.deliver(s, e)
	}
}

func (b *Bus) deliver(s subscription, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Errorw("bus: handler panic recovered",
				"event_type", e.Type, "session_id", e.SessionID, "recover", r)
		}
	}()
	s.handler(e)
}

// On subscribes handler to every event of the given type across all
// sessions (e.g. a process-wide metrics sink). Returns an id for Off.
func (b *Bus) On(typ string, handler Handler) uint64 {
	id := atomic.AddUint64(&b.nextSubID, 1)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byType[typ] = append(b.byType[typ], subscription{id: id, handler: handler})
	return id
}

// Off removes a type subscription previously returned by On.
func (b *Bus) Off(typ string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byType[typ] = removeSub(b.byType[typ], id)
	if len(b.byType[typ]) == 0 {
		delete(b.byType, typ)
	}
}

// OnSession subscribes handler to every event for the given session,
// regardless of type. Returns an id, though callers typically tear every
// session subscription down at once via OffSession.
func (b *Bus) OnSession(sessionID string, handler Handler) uint64 {
	id := atomic.AddUint64(&b.nextSubID, 1)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bySession[sessionID] = append(b.bySession[sessionID], subscription{id: id, handler: handler})
	return id
}

// OffSession removes all subscriptions for a session. Safe to call on a
// session with no subscriptions, and safe to call twice (endSession must be
// idempotent).
func (b *Bus) OffSession(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.bySession, sessionID)
}

func removeSub(subs []subscription, id uint64) []subscription {
	out := subs[:0:0]
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}
