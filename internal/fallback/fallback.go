// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package fallback implements the fallback planner: on
// policy cancel_output, play a pre-approved utterance appropriate to the
// decision that triggered it.
package fallback

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/rapidaai/voicecore/internal/bus"
	"github.com/rapidaai/voicecore/internal/lanec"
	"github.com/rapidaai/voicecore/pkg/audio"
	"github.com/rapidaai/voicecore/pkg/commons"
	"github.com/rapidaai/voicecore/pkg/config"
)

// Mode is one of the fallback utterance modes.
type Mode string

const (
	ModeAuto                  Mode = "auto"
	ModeRefusePolitely        Mode = "refuse_politely"
	ModeAskClarifyingQuestion Mode = "ask_clarifying_question"
	ModeSwitchToTextSummary   Mode = "switch_to_text_summary"
	ModeEscalateToHuman       Mode = "escalate_to_human"
	ModeOfferEmailOrLink      Mode = "offer_email_or_link"
)

const (
	// defaultHardcodedPhrase is used when no configured phrase list exists
	// for the resolved mode.
	defaultHardcodedPhrase = "I'm not able to help with that, but I'm here if there's something else I can do."
	// toneDurationMs is the length of the synthesized tone played in place
	// of a failed TTS call; an approximate acknowledgement-length filler.
	toneDurationMs = 1200
)

// Event types emitted by the fallback planner, source-tagged
// bus.SourceOrchestrator (it speaks for the arbitrator's fallback owner,
// same source as the arbitrator's own actions).
const (
	EventAudio = "audio"
	EventDone  = "done"
)

// AudioPayload carries one streamed PCM16 frame.
type AudioPayload struct {
	PCM []byte
}

// Synthesizer renders a phrase to PCM16 once; Engine caches the result.
type Synthesizer func(phrase string) ([]byte, error)

// Engine is the per-session fallback player.
type Engine struct {
	log        commons.Logger
	bus        *bus.Bus
	sessionID  string
	cfg        config.FallbackConfig
	synthesize Synthesizer
	chunker    *audio.Chunker

	mu     sync.Mutex
	cache  map[string][]byte
	cancel context.CancelFunc
}

// New builds a fallback planner for one session.
func New(log commons.Logger, b *bus.Bus, sessionID string, cfg config.FallbackConfig, synth Synthesizer) *Engine {
	if log == nil {
		log = commons.NewNopLogger()
	}
	return &Engine{
		log:        log,
		bus:        b,
		sessionID:  sessionID,
		cfg:        cfg,
		synthesize: synth,
		chunker:    audio.NewChunker(),
		cache:      make(map[string][]byte),
	}
}

// Attach subscribes the engine to policy.decision{cancel_output} and to the
// arbitrator's stop_lane_b action (reused across Lane B and the fallback
// planner since only one ever owns audio at a time).
func (e *Engine) Attach() {
	e.bus.OnSession(e.sessionID, func(ev bus.Event) {
		switch {
		case ev.Source == bus.SourceLaneC && ev.Type == lanec.EventPolicyDecision:
			d, ok := ev.Payload.(lanec.PolicyDecision)
			if ok && d.Decision == lanec.DecisionCancelOutput {
				e.Play(resolveOriginalDecision(d), d.FallbackMode)
			}
		case ev.Type == "stop_lane_b":
			e.Stop()
		}
	})
}

// resolveOriginalDecision recovers the decision that triggered the
// override for mode-mapping purposes; applyOverride only ever upgrades
// refuse, so that is the only mapped trigger today.
func resolveOriginalDecision(lanec.PolicyDecision) lanec.Decision {
	return lanec.DecisionRefuse
}

// Play resolves the fallback mode and streams its phrase as 100ms chunks.
func (e *Engine) Play(triggeringDecision lanec.Decision, payloadMode string) {
	mode := resolveMode(string(e.cfg.Mode), payloadMode, triggeringDecision)
	phrase := e.selectPhrase(mode)

	pcm, err := e.phraseAudio(phrase)
	if err != nil {
		e.log.Errorf("fallback: synthesize %q failed, using tone: %v", phrase, err)
		pcm = synthesizeTone(toneDurationMs)
	}

	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.mu.Unlock()

	go func() {
		_ = e.chunker.Stream(ctx, pcm, func(frame []byte) error {
			e.bus.Emit(bus.NewEvent(e.sessionID, bus.SourceOrchestrator, EventAudio, AudioPayload{PCM: append([]byte(nil), frame...)}))
			return nil
		})
		reason := "done"
		if ctx.Err() != nil {
			reason = "stopped"
		}
		e.bus.Emit(bus.NewEvent(e.sessionID, bus.SourceOrchestrator, EventDone, reason))
	}()
}

// Stop cancels any in-flight fallback playback. Idempotent: calling it
// when nothing is playing is a no-op.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
}

// resolveMode implements the mode-resolution precedence: explicit config >
// payload's fallback_mode (if not auto) > mapping from the triggering
// decision.
func resolveMode(cfgMode, payloadMode string, triggering lanec.Decision) Mode {
	if cfgMode != "" && cfgMode != string(ModeAuto) {
		return Mode(cfgMode)
	}
	if payloadMode != "" && payloadMode != string(ModeAuto) {
		return Mode(payloadMode)
	}
	return decisionToMode(triggering)
}

func decisionToMode(d lanec.Decision) Mode {
	switch d {
	case lanec.DecisionEscalate:
		return ModeEscalateToHuman
	case lanec.DecisionRewrite:
		return ModeSwitchToTextSummary
	default:
		return ModeRefusePolitely
	}
}

func (e *Engine) selectPhrase(mode Mode) string {
	phrases := e.cfg.Phrases
	if len(phrases) == 0 {
		return defaultHardcodedPhrase
	}
	// Deterministic pick: first configured phrase tagged for this mode, or
	// the first phrase overall (returned as written, tag included) if none
	// is tagged for this mode.
	prefix := string(mode) + ":"
	for _, p := range phrases {
		if strings.HasPrefix(p, prefix) {
			return strings.TrimPrefix(p, prefix)
		}
	}
	return phrases[0]
}

func (e *Engine) phraseAudio(phrase string) ([]byte, error) {
	e.mu.Lock()
	if pcm, ok := e.cache[phrase]; ok {
		e.mu.Unlock()
		return pcm, nil
	}
	e.mu.Unlock()

	if e.synthesize == nil {
		return nil, fmt.Errorf("fallback: no synthesizer configured for phrase %q", phrase)
	}
	pcm, err := e.synthesize(phrase)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[phrase] = pcm
	e.mu.Unlock()
	return pcm, nil
}

// synthesizeTone builds a simple sine-wave PCM16 tone of the given
// duration, used when TTS fails.
func synthesizeTone(durationMs int) []byte {
	n := audio.BytesForDurationMs(float64(durationMs)) / audio.BytesPerSample
	samples := make([]int16, n)
	const freqHz = 440.0
	for i := range samples {
		t := float64(i) / float64(audio.SampleRateHz)
		samples[i] = int16(8000 * math.Sin(2*math.Pi*freqHz*t))
	}
	return audio.EncodeSamples(samples)
}
