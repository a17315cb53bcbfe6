// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package lanea

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/voicecore/internal/bus"
	"github.com/rapidaai/voicecore/pkg/commons"
)

func fakeSynth(phrase string) ([]byte, error) {
	return make([]byte, 9600), nil // 200ms of PCM16 @ 24kHz mono
}

func TestPreloadCachesEveryPhrase(t *testing.T) {
	e := New(commons.NewNopLogger(), bus.New(commons.NewNopLogger()), "sess-1", true, fakeSynth, nil)
	require.NoError(t, e.Preload())
	assert.Equal(t, len(DefaultPhrases), e.cache.len())
}

func TestPlayStreamsAudioFramesThenDone(t *testing.T) {
	b := bus.New(commons.NewNopLogger())
	e := New(commons.NewNopLogger(), b, "sess-1", true, fakeSynth, nil)

	var mu sync.Mutex
	var frames int
	done := make(chan string, 1)
	b.OnSession("sess-1", func(ev bus.Event) {
		switch ev.Type {
		case EventAudio:
			mu.Lock()
			frames++
			mu.Unlock()
		case EventDone:
			done <- ev.Payload.(string)
		}
	})

	e.Play()

	select {
	case reason := <-done:
		assert.Equal(t, "done", reason)
	case <-time.After(2 * time.Second):
		t.Fatal("reflex playback never completed")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, frames) // 200ms / 100ms frames
}

func TestDisabledEngineIsSilentNoOp(t *testing.T) {
	b := bus.New(commons.NewNopLogger())
	e := New(commons.NewNopLogger(), b, "sess-1", false, fakeSynth, nil)

	gotEvent := false
	b.OnSession("sess-1", func(ev bus.Event) { gotEvent = true })

	e.Play()
	time.Sleep(50 * time.Millisecond)
	assert.False(t, gotEvent)
}

func TestStopCancelsInFlightPlaybackBeforeNaturalEnd(t *testing.T) {
	b := bus.New(commons.NewNopLogger())
	longSynth := func(phrase string) ([]byte, error) { return make([]byte, 48000), nil } // 1s
	e := New(commons.NewNopLogger(), b, "sess-1", true, longSynth, nil)

	done := make(chan string, 1)
	b.OnSession("sess-1", func(ev bus.Event) {
		if ev.Type == EventDone {
			done <- ev.Payload.(string)
		}
	})

	e.Play()
	time.Sleep(150 * time.Millisecond)
	e.Stop("stopped")

	select {
	case reason := <-done:
		assert.Equal(t, "stopped", reason)
	case <-time.After(2 * time.Second):
		t.Fatal("stop never propagated")
	}
}

func TestWeightedSelectionStaysWithinWhitelist(t *testing.T) {
	e := New(commons.NewNopLogger(), bus.New(commons.NewNopLogger()), "sess-1", true, fakeSynth, nil)
	valid := make(map[string]bool)
	for _, p := range DefaultPhrases {
		valid[p.Text] = true
	}
	for i := 0; i < 50; i++ {
		assert.True(t, valid[e.selectPhrase()])
	}
}

func TestAttachRespondsToPlayAndStopReflexActions(t *testing.T) {
	b := bus.New(commons.NewNopLogger())
	e := New(commons.NewNopLogger(), b, "sess-1", true, fakeSynth, nil)
	e.Attach()

	var frames int
	var mu sync.Mutex
	b.OnSession("sess-1", func(ev bus.Event) {
		if ev.Type == EventAudio {
			mu.Lock()
			frames++
			mu.Unlock()
		}
	})

	b.Emit(bus.NewEvent("sess-1", bus.SourceOrchestrator, "play_reflex", nil))
	time.Sleep(30 * time.Millisecond)
	b.Emit(bus.NewEvent("sess-1", bus.SourceOrchestrator, "stop_reflex", nil))
	time.Sleep(150 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Less(t, frames, 2) // stopped before both 100ms frames could stream
}
