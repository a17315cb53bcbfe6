// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package laneb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rapidaai/voicecore/internal/bus"
	"github.com/rapidaai/voicecore/internal/provider"
	"github.com/rapidaai/voicecore/pkg/commons"
	"github.com/rapidaai/voicecore/pkg/config"
)

type fakeArbitrator struct {
	firstAudioCalls int
	doneCalls       int
}

func (f *fakeArbitrator) LaneBFirstAudioReady() { f.firstAudioCalls++ }
func (f *fakeArbitrator) LaneBDone()            { f.doneCalls++ }

func TestFirstAudioReadyCallsArbitratorAndRecordsTTFB(t *testing.T) {
	b := bus.New(commons.NewNopLogger())
	arb := &fakeArbitrator{}
	l := &Lane{log: commons.NewNopLogger(), arb: arb, sessionID: "sess-1"}
	b.OnSession("sess-1", l.handle)

	l.commitAt = time.Now().Add(-20 * time.Millisecond)
	b.Emit(bus.NewEvent("sess-1", bus.SourceLaneB, provider.EventFirstAudioReady, nil))

	assert.Equal(t, 1, arb.firstAudioCalls)
	assert.GreaterOrEqual(t, l.TTFB().Milliseconds(), int64(15))
}

func TestResponseEndCallsLaneBDone(t *testing.T) {
	b := bus.New(commons.NewNopLogger())
	arb := &fakeArbitrator{}
	l := &Lane{log: commons.NewNopLogger(), arb: arb, sessionID: "sess-1"}
	b.OnSession("sess-1", l.handle)

	b.Emit(bus.NewEvent("sess-1", bus.SourceLaneB, provider.EventResponseEnd, provider.ResponseEndPayload{Truncated: false}))
	assert.Equal(t, 1, arb.doneCalls)
}

func TestStopLaneBCancelsAdapter(t *testing.T) {
	b := bus.New(commons.NewNopLogger())
	adapter := provider.New(commons.NewNopLogger(), bus.New(commons.NewNopLogger()), "sess-1",
		config.ProviderConfig{Endpoint: "ws://example.invalid", APIKey: "k", Model: "m", Voice: "alloy", ConnectTimeout: 1000})
	l := &Lane{log: commons.NewNopLogger(), adapter: adapter, arb: &fakeArbitrator{}, sessionID: "sess-1"}
	b.OnSession("sess-1", l.handle)

	assert.NotPanics(t, func() {
		b.Emit(bus.NewEvent("sess-1", bus.SourceOrchestrator, "stop_lane_b", nil))
	})
}

func TestCommitAudioDoesNotItselfStartTTFBClock(t *testing.T) {
	// Uninitialized adapter with an invalid endpoint: CommitAudio's guard 1
	// (buffer too short) returns committed=false without touching the network.
	adapter := provider.New(commons.NewNopLogger(), bus.New(commons.NewNopLogger()), "sess-1",
		config.ProviderConfig{Endpoint: "ws://example.invalid", APIKey: "k", Model: "m", Voice: "alloy", ConnectTimeout: 1000})
	l := &Lane{log: commons.NewNopLogger(), adapter: adapter, arb: &fakeArbitrator{}, sessionID: "sess-1"}

	committed, err := l.CommitAudio(context.Background())
	assert.NoError(t, err)
	assert.False(t, committed)
	assert.True(t, l.commitAt.IsZero())
}

func TestBufferCommittedAckStartsTTFBClock(t *testing.T) {
	b := bus.New(commons.NewNopLogger())
	arb := &fakeArbitrator{}
	l := &Lane{log: commons.NewNopLogger(), arb: arb, sessionID: "sess-1"}
	b.OnSession("sess-1", l.handle)

	b.Emit(bus.NewEvent("sess-1", bus.SourceLaneB, provider.EventBufferCommitted, nil))
	l.mu.Lock()
	commitAt := l.commitAt
	l.mu.Unlock()
	assert.False(t, commitAt.IsZero())

	time.Sleep(15 * time.Millisecond)
	b.Emit(bus.NewEvent("sess-1", bus.SourceLaneB, provider.EventFirstAudioReady, nil))
	assert.GreaterOrEqual(t, l.TTFB().Milliseconds(), int64(10))
}
