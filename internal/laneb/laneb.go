// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package laneb is the thin wrapper that sits between
// the provider adapter and the arbitrator, translating the adapter's
// connection-level signals into the arbitrator's lane-level vocabulary and
// tracking time-to-first-byte.
package laneb

import (
	"context"
	"sync"
	"time"

	"github.com/rapidaai/voicecore/internal/bus"
	"github.com/rapidaai/voicecore/internal/provider"
	"github.com/rapidaai/voicecore/pkg/commons"
)

// Arbitrator is the subset of *arbitrator.Arbitrator this lane calls back
// into; narrowed to an interface so the two packages don't need to import
// each other's concrete types.
type Arbitrator interface {
	LaneBFirstAudioReady()
	LaneBDone()
}

// Lane wraps a provider.Adapter for one session.
type Lane struct {
	log       commons.Logger
	adapter   *provider.Adapter
	arb       Arbitrator
	sessionID string

	mu           sync.Mutex
	commitAt     time.Time
	ttfbRecorded time.Duration
}

// New builds a Lane B wrapper and subscribes it to the adapter's bus
// events for this session.
func New(log commons.Logger, b *bus.Bus, adapter *provider.Adapter, arb Arbitrator, sessionID string) *Lane {
	if log == nil {
		log = commons.NewNopLogger()
	}
	l := &Lane{log: log, adapter: adapter, arb: arb, sessionID: sessionID}
	b.OnSession(sessionID, l.handle)
	return l
}

func (l *Lane) handle(ev bus.Event) {
	switch ev.Type {
	case provider.EventBufferCommitted:
		l.startTTFBClock()
	case provider.EventFirstAudioReady:
		l.recordTTFB()
		l.arb.LaneBFirstAudioReady()
	case provider.EventResponseEnd:
		l.arb.LaneBDone()
	case "stop_lane_b":
		if err := l.adapter.Cancel(); err != nil {
			l.log.Warnw("laneb: cancel failed", "session_id", l.sessionID, "err", err)
		}
	}
}

func (l *Lane) startTTFBClock() {
	l.mu.Lock()
	l.commitAt = time.Now()
	l.mu.Unlock()
}

func (l *Lane) recordTTFB() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.commitAt.IsZero() {
		return
	}
	l.ttfbRecorded = time.Since(l.commitAt)
	l.log.Benchmark("laneb.ttfb", l.ttfbRecorded)
	l.commitAt = time.Time{}
}

// TTFB returns the most recently recorded commit-confirmed-to-first-audio
// latency, or zero if none has been observed yet.
func (l *Lane) TTFB() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ttfbRecorded
}

// CommitAudio delegates to the adapter. The TTFB clock itself starts later,
// on the upstream's buffer_committed acknowledgement (startTTFBClock), not
// here at send time.
func (l *Lane) CommitAudio(ctx context.Context) (bool, error) {
	return l.adapter.CommitAudio(ctx)
}

// SendAudio forwards a PCM16 chunk to the adapter.
func (l *Lane) SendAudio(chunk []byte) error {
	return l.adapter.SendAudio(chunk)
}

// Cancel forwards response.cancel to the adapter.
func (l *Lane) Cancel() error {
	return l.adapter.Cancel()
}

// SetConversationContext forwards the assembled retrieval context.
func (l *Lane) SetConversationContext(text string) error {
	return l.adapter.SetConversationContext(text)
}

// SetVoiceMode forwards push-to-talk/open-mic mode selection.
func (l *Lane) SetVoiceMode(mode provider.VoiceMode) error {
	return l.adapter.SetVoiceMode(mode)
}
