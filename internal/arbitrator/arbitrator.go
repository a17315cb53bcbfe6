// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package arbitrator implements the lane arbitrator state machine: the single authority that decides who owns the speaker at each
// instant across Lane A (reflex), Lane B (primary), and the fallback
// planner.
package arbitrator

import (
	"sync"
	"time"

	"github.com/rapidaai/voicecore/internal/bus"
	"github.com/rapidaai/voicecore/internal/fallback"
	"github.com/rapidaai/voicecore/internal/lanec"
	"github.com/rapidaai/voicecore/pkg/commons"
)

// State is one of the arbitrator's seven states.
type State string

const (
	StateIdle            State = "IDLE"
	StateListening       State = "LISTENING"
	StateBResponding     State = "B_RESPONDING"
	StateAPlaying        State = "A_PLAYING"
	StateBPlaying        State = "B_PLAYING"
	StateFallbackPlaying State = "FALLBACK_PLAYING"
	StateEnded           State = "ENDED"
)

// Owner is who currently holds the speaker.
type Owner string

const (
	OwnerNone     Owner = "none"
	OwnerA        Owner = "A"
	OwnerB        Owner = "B"
	OwnerFallback Owner = "fallback"
)

// Event/action names emitted onto the bus.
const (
	EventPlayReflex       = "play_reflex"
	EventStopReflex       = "stop_reflex"
	EventPlayLaneB        = "play_lane_b"
	EventStopLaneB        = "stop_lane_b"
	EventStateChange      = "state_change"
	EventOwnerChange      = "owner_change"
	EventResponseComplete = "response_complete"
	EventLaneStateChanged = "lane.state_changed"
)

// LaneStateChangedPayload is the payload of every lane.state_changed event.
type LaneStateChangedPayload struct {
	From  State
	To    State
	Cause string
}

// transitionRecord is one entry in the bounded transition-history ring
//.
type transitionRecord struct {
	From, To State
	Cause    string
	At       time.Time
}

const historyCap = 64

// Config holds the arbitrator's timer durations, sourced from
// config.ArbitratorConfig.
type Config struct {
	LaneAEnabled           bool
	MinDelayBeforeReflexMs int
	MaxReflexDurationMs    int
	TransitionGapMs        int
}

// Arbitrator is the per-session state machine. Single-threaded cooperative
// all mutation happens under one mutex, and there is no
// cross-session sharing.
type Arbitrator struct {
	log       commons.Logger
	bus       *bus.Bus
	sessionID string
	cfg       Config

	mu                 sync.Mutex
	state              State
	owner              Owner
	responseInProgress bool
	reflexTimer        *time.Timer
	maxReflexTimer     *time.Timer
	transitionGapTimer *time.Timer
	history            []transitionRecord
	pending            []bus.Event
}

// run executes fn with a.mu held, then emits every event fn queued via
// emitRaw only after releasing the lock. This keeps bus delivery
// synchronous for subscribers while letting a handler call back into the
// arbitrator without deadlocking on a.mu (the mutex is not reentrant).
func (a *Arbitrator) run(fn func()) {
	a.mu.Lock()
	fn()
	events := a.pending
	a.pending = nil
	a.mu.Unlock()

	for _, e := range events {
		a.bus.Emit(e)
	}
}

// New builds an arbitrator in IDLE state and subscribes it to the bus so
// a policy cancel_output decision and the fallback planner's completion
// drive PolicyCancelOutput/FallbackDone without either package needing to
// call back into this one directly.
func New(log commons.Logger, b *bus.Bus, sessionID string, cfg Config) *Arbitrator {
	if log == nil {
		log = commons.NewNopLogger()
	}
	a := &Arbitrator{
		log:       log,
		bus:       b,
		sessionID: sessionID,
		cfg:       cfg,
		state:     StateIdle,
		owner:     OwnerNone,
	}
	b.OnSession(sessionID, a.handlePolicyAndFallback)
	return a
}

// handlePolicyAndFallback bridges two externally-sourced signals into the
// state machine: a policy.decision carrying cancel_output (source laneC)
// triggers PolicyCancelOutput, and the fallback planner's done event
// triggers FallbackDone.
func (a *Arbitrator) handlePolicyAndFallback(ev bus.Event) {
	switch {
	case ev.Source == bus.SourceLaneC && ev.Type == lanec.EventPolicyDecision:
		if d, ok := ev.Payload.(lanec.PolicyDecision); ok && d.Decision == lanec.DecisionCancelOutput {
			a.PolicyCancelOutput()
		}
	case ev.Type == fallback.EventDone:
		a.FallbackDone()
	}
}

// StartSession transitions IDLE -> LISTENING.
func (a *Arbitrator) StartSession() {
	a.run(func() {
		a.transition(StateListening, "start_session")
	})
}

// State returns the current state under lock.
func (a *Arbitrator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Owner returns the current owner under lock.
func (a *Arbitrator) Owner() Owner {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.owner
}

// UserSpeechEnded handles user_speech_ended: LISTENING -> B_RESPONDING,
// guarded by !response_in_progress. A second call while the
// guard is set is ignored, preventing parallel responses.
func (a *Arbitrator) UserSpeechEnded() {
	a.run(func() {
		if a.state != StateListening || a.responseInProgress {
			return
		}
		a.responseInProgress = true
		a.transition(StateBResponding, "user_speech_ended")
		a.armReflexTimer()
	})
}

// LaneBFirstAudioReady handles lane_b_first_audio_ready.
func (a *Arbitrator) LaneBFirstAudioReady() {
	a.run(func() {
		switch a.state {
		case StateBResponding:
			a.stopTimer(&a.reflexTimer)
			a.setOwner(OwnerB)
			a.transition(StateBPlaying, "lane_b_first_audio_ready")
			a.emitAction(EventPlayLaneB)

		case StateAPlaying:
			a.stopTimer(&a.maxReflexTimer)
			gap := time.Duration(a.cfg.TransitionGapMs) * time.Millisecond
			a.transitionGapTimer = time.AfterFunc(gap, func() {
				a.run(func() {
					if a.state != StateAPlaying {
						return
					}
					a.emitAction(EventStopReflex)
					a.setOwner(OwnerB)
					a.transition(StateBPlaying, "lane_b_first_audio_ready")
					a.emitAction(EventPlayLaneB)
				})
			})

		default:
			// Rapid duplicate lane_b_ready in any other state is idempotent.
		}
	})
}

// LaneBDone handles lane_b_done.
func (a *Arbitrator) LaneBDone() {
	a.run(func() {
		switch a.state {
		case StateBPlaying:
			a.completeResponse("lane_b_done")
		case StateBResponding:
			// Fast response before first audio.
			a.completeResponse("lane_b_done")
		case StateAPlaying:
			a.stopTimer(&a.maxReflexTimer)
			a.emitAction(EventStopReflex)
			a.completeResponse("lane_b_done")
		default:
			// Defensive: e.g. IDLE. Emit response_complete and clear the guard,
			// but never resurrect ENDED.
			if a.state == StateEnded {
				return
			}
			a.responseInProgress = false
			a.emitAction(EventResponseComplete)
		}
	})
}

// reflexTimerFired is invoked by the armed reflex timer: B_RESPONDING ->
// A_PLAYING, guarded by laneAEnabled.
func (a *Arbitrator) reflexTimerFired() {
	a.run(func() {
		if a.state != StateBResponding {
			return
		}
		if !a.cfg.LaneAEnabled {
			return
		}
		a.setOwner(OwnerA)
		a.transition(StateAPlaying, "reflex_timer")
		a.emitAction(EventPlayReflex)
		a.armMaxReflexTimer()
	})
}

func (a *Arbitrator) maxReflexTimerFired() {
	a.run(func() {
		if a.state != StateAPlaying {
			return
		}
		a.emitAction(EventStopReflex)
		a.setOwner(OwnerNone)
		a.transition(StateBResponding, "max_reflex_timer")
	})
}

// UserBargeIn handles user_barge_in: from any active state, stop the
// current owner and return to LISTENING, clearing guard and timers.
// Unconditional — no echo/barge-in debounce.
func (a *Arbitrator) UserBargeIn() {
	a.run(func() {
		if a.state == StateIdle || a.state == StateEnded {
			return
		}

		switch a.owner {
		case OwnerA:
			a.emitAction(EventStopReflex)
		case OwnerB:
			a.emitAction(EventStopLaneB)
		case OwnerFallback:
			a.emitAction(EventStopLaneB)
		}

		a.stopAllTimers()
		a.responseInProgress = false
		a.setOwner(OwnerNone)
		a.transition(StateListening, "user_barge_in")
	})
}

// PolicyCancelOutput handles a policy cancel_output decision from any
// state: stop Lane B, transition to FALLBACK_PLAYING. Call FallbackDone
// when the fallback planner finishes.
func (a *Arbitrator) PolicyCancelOutput() {
	a.run(func() {
		if a.state == StateEnded {
			return
		}

		a.stopAllTimers()
		if a.owner == OwnerA {
			a.emitAction(EventStopReflex)
		}
		a.emitAction(EventStopLaneB)
		a.setOwner(OwnerFallback)
		a.transition(StateFallbackPlaying, "policy_cancel_output")
	})
}

// FallbackDone handles the fallback planner's completion: FALLBACK_PLAYING
// -> LISTENING.
func (a *Arbitrator) FallbackDone() {
	a.run(func() {
		if a.state != StateFallbackPlaying {
			return
		}
		a.completeResponse("fallback_done")
	})
}

// ResetResponseInProgress clears the guard without a state transition,
// used when a commit is rejected.
func (a *Arbitrator) ResetResponseInProgress() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.responseInProgress = false
}

// EndSession cancels all timers and transitions to ENDED.
func (a *Arbitrator) EndSession() {
	a.run(func() {
		a.stopAllTimers()
		a.transition(StateEnded, "end_session")
	})
}

// History returns a copy of the bounded transition ring, most recent last.
func (a *Arbitrator) History() []transitionRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]transitionRecord, len(a.history))
	copy(out, a.history)
	return out
}

// --- internal helpers; callers must hold a.mu ---

func (a *Arbitrator) completeResponse(cause string) {
	a.responseInProgress = false
	a.setOwner(OwnerNone)
	a.transition(StateListening, cause)
	a.emitAction(EventResponseComplete)
}

func (a *Arbitrator) armReflexTimer() {
	delay := time.Duration(a.cfg.MinDelayBeforeReflexMs) * time.Millisecond
	a.reflexTimer = time.AfterFunc(delay, a.reflexTimerFired)
}

func (a *Arbitrator) armMaxReflexTimer() {
	delay := time.Duration(a.cfg.MaxReflexDurationMs) * time.Millisecond
	a.maxReflexTimer = time.AfterFunc(delay, a.maxReflexTimerFired)
}

func (a *Arbitrator) stopTimer(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func (a *Arbitrator) stopAllTimers() {
	a.stopTimer(&a.reflexTimer)
	a.stopTimer(&a.maxReflexTimer)
	a.stopTimer(&a.transitionGapTimer)
}

func (a *Arbitrator) setOwner(o Owner) {
	if a.owner == o {
		return
	}
	a.owner = o
	a.emitRaw(EventOwnerChange, o)
}

func (a *Arbitrator) transition(to State, cause string) {
	from := a.state
	a.state = to

	a.history = append(a.history, transitionRecord{From: from, To: to, Cause: cause, At: time.Now()})
	if len(a.history) > historyCap {
		a.history = a.history[len(a.history)-historyCap:]
	}

	a.emitRaw(EventStateChange, to)
	a.emitRaw(EventLaneStateChanged, LaneStateChangedPayload{From: from, To: to, Cause: cause})
}

func (a *Arbitrator) emitAction(typ string) {
	a.emitRaw(typ, nil)
}

// emitRaw queues an event rather than emitting it immediately: callers
// always hold a.mu here (directly or via run), and bus delivery must happen
// only after the lock is released so a handler calling back into the
// arbitrator cannot deadlock on a.mu.
func (a *Arbitrator) emitRaw(typ string, payload any) {
	a.pending = append(a.pending, bus.NewEvent(a.sessionID, bus.SourceOrchestrator, typ, payload))
}
