// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package lanea implements the reflex engine: a short,
// pre-synthesized acknowledgement ("Mmhmm", "Yeah", "Okay", …) played while
// Lane B is still composing its response. It is driven entirely by the
// arbitrator's play_reflex/stop_reflex actions on the bus and never talks to
// the arbitrator directly.
package lanea

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"

	"github.com/rapidaai/voicecore/internal/bus"
	"github.com/rapidaai/voicecore/pkg/audio"
	"github.com/rapidaai/voicecore/pkg/commons"
)

// Event types emitted by Lane A, source-tagged bus.SourceLaneA.
const (
	EventAudio = "audio"
	EventDone  = "reflex.done"
)

// AudioPayload carries one streamed PCM16 frame.
type AudioPayload struct {
	PCM []byte
}

// Phrase is one whitelist entry with its relative selection weight.
type Phrase struct {
	Text   string
	Weight int
}

// DefaultPhrases is the fixed whitelist of reflex filler phrases.
var DefaultPhrases = []Phrase{
	{Text: "Mmhmm", Weight: 3},
	{Text: "Yeah", Weight: 2},
	{Text: "Okay", Weight: 3},
	{Text: "Got it", Weight: 2},
	{Text: "Right", Weight: 1},
}

// Synthesizer renders a phrase to PCM16 audio once; Lane A caches the
// result. The actual TTS call is an out-of-scope collaborator
// — synthesis is never re-invoked for a cached phrase.
type Synthesizer func(phrase string) ([]byte, error)

// Engine is the per-session reflex player.
type Engine struct {
	log         commons.Logger
	bus         *bus.Bus
	sessionID   string
	enabled     bool
	synthesize  Synthesizer
	chunker     *audio.Chunker
	phrases     []Phrase
	totalWeight int
	rng         *rand.Rand

	mu     sync.Mutex
	cache  *phraseCache
	cancel context.CancelFunc
}

// New builds a reflex engine and preloads the whitelist's TTS audio before
// returning, so the first Play never pays synthesis latency inline. A
// preload failure is logged, not fatal — Play falls back to synthesizing
// on demand for whatever didn't make it into the cache.
func New(log commons.Logger, b *bus.Bus, sessionID string, enabled bool, synth Synthesizer, phrases []Phrase) *Engine {
	if log == nil {
		log = commons.NewNopLogger()
	}
	if phrases == nil {
		phrases = DefaultPhrases
	}
	total := 0
	for _, p := range phrases {
		total += p.Weight
	}
	e := &Engine{
		log:         log,
		bus:         b,
		sessionID:   sessionID,
		enabled:     enabled,
		synthesize:  synth,
		chunker:     audio.NewChunker(),
		phrases:     phrases,
		totalWeight: total,
		rng:         rand.New(rand.NewSource(1)),
		cache:       newPhraseCache(len(phrases)),
	}
	if enabled {
		if err := e.Preload(); err != nil {
			log.Warnw("lanea: preload failed, falling back to on-demand synthesis", "session_id", sessionID, "err", err)
		}
	}
	return e
}

// Attach subscribes the engine to the arbitrator's play_reflex/stop_reflex
// actions for this session.
func (e *Engine) Attach() {
	e.bus.OnSession(e.sessionID, func(ev bus.Event) {
		switch ev.Type {
		case "play_reflex":
			e.Play()
		case "stop_reflex":
			e.Stop("stopped")
		}
	})
}

// Play selects a phrase and streams it in 100ms frames until natural end or
// Stop is called.
func (e *Engine) Play() {
	if !e.enabled {
		return
	}

	phrase := e.selectPhrase()
	pcm, err := e.phraseAudio(phrase)
	if err != nil {
		e.log.Errorf("lanea: synthesize %q failed: %v", phrase, err)
		return
	}

	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.mu.Unlock()

	go func() {
		err := e.chunker.Stream(ctx, pcm, func(frame []byte) error {
			e.bus.Emit(bus.NewEvent(e.sessionID, bus.SourceLaneA, EventAudio, AudioPayload{PCM: append([]byte(nil), frame...)}))
			return nil
		})
		reason := "done"
		if ctx.Err() != nil {
			reason = "stopped"
		}
		_ = err
		e.bus.Emit(bus.NewEvent(e.sessionID, bus.SourceLaneA, EventDone, reason))
	}()
}

// Stop cancels any in-flight reflex playback. Idempotent.
func (e *Engine) Stop(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
}

func (e *Engine) selectPhrase() string {
	if e.totalWeight <= 0 || len(e.phrases) == 0 {
		return "Okay"
	}
	r := e.rng.Intn(e.totalWeight)
	for _, p := range e.phrases {
		if r < p.Weight {
			return p.Text
		}
		r -= p.Weight
	}
	return e.phrases[len(e.phrases)-1].Text
}

func (e *Engine) phraseAudio(phrase string) ([]byte, error) {
	key := strings.ToLower(phrase)

	e.mu.Lock()
	if pcm, ok := e.cache.get(key); ok {
		e.mu.Unlock()
		return pcm, nil
	}
	e.mu.Unlock()

	if e.synthesize == nil {
		return nil, fmt.Errorf("lanea: no synthesizer configured for phrase %q", phrase)
	}
	pcm, err := e.synthesize(phrase)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache.put(key, pcm)
	e.mu.Unlock()
	return pcm, nil
}

// Preload synthesizes and caches every configured phrase up front, so the
// first reflex play doesn't pay the synthesis cost inline.
func (e *Engine) Preload() error {
	if e.synthesize == nil {
		return nil
	}
	for _, p := range e.phrases {
		if _, err := e.phraseAudio(p.Text); err != nil {
			return fmt.Errorf("lanea: preload %q: %w", p.Text, err)
		}
	}
	return nil
}
