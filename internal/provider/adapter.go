// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package provider implements the provider adapter: the
// stateful client to the upstream realtime audio API responsible for the
// commit protocol that prevents the "empty buffer" race. Transport is
// gorilla/websocket with a hand-rolled typed envelope rather than a
// provider SDK's own realtime client types (see DESIGN.md).
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/rapidaai/voicecore/internal/bus"
	"github.com/rapidaai/voicecore/pkg/audio"
	"github.com/rapidaai/voicecore/pkg/commons"
	"github.com/rapidaai/voicecore/pkg/config"
)

// Event types emitted onto the bus.
const (
	EventResponseStart    = "response_start"
	EventAudio            = "audio"
	EventFirstAudioReady  = "first_audio_ready"
	EventTranscript       = "transcript"
	EventUserTranscript   = "user_transcript"
	EventResponseEnd      = "response_end"
	EventError            = "error"
	EventProviderReady    = "provider.ready"
	EventResponseMetadata = "response.metadata"
	EventBufferCommitted  = "buffer_committed"
)

// AudioPayload is the payload of the audio event.
type AudioPayload struct {
	PCM []byte
}

// TranscriptPayload is the payload of transcript/user_transcript events.
type TranscriptPayload struct {
	Text    string
	IsFinal bool
}

// ResponseEndPayload is the payload of response_end.
type ResponseEndPayload struct {
	Truncated bool
}

// ErrorPayload is the payload of the error event.
type ErrorPayload struct {
	Message string
	Code    string
}

// VoiceMode is the turn-detection mode negotiated with the upstream provider.
type VoiceMode string

const (
	VoiceModePushToTalk VoiceMode = "push-to-talk"
	VoiceModeOpenMic    VoiceMode = "open-mic"
)

// Adapter owns one full-duplex upstream connection for one session.
type Adapter struct {
	log       commons.Logger
	bus       *bus.Bus
	sessionID string
	cfg       config.ProviderConfig

	writeMu sync.Mutex
	conn    *websocket.Conn

	mu                  sync.Mutex
	buf                 bufferState
	responding          bool
	firstAudioEmitted   bool
	voiceMode           VoiceMode
	conversationContext string
	connected           bool

	createdOnce sync.Once
	created     chan struct{}
	closed      chan struct{}
}

// New builds a provider adapter for one session. Connect must be called
// before any other operation.
func New(log commons.Logger, b *bus.Bus, sessionID string, cfg config.ProviderConfig) *Adapter {
	if log == nil {
		log = commons.NewNopLogger()
	}
	return &Adapter{
		log:       log,
		bus:       b,
		sessionID: sessionID,
		cfg:       cfg,
		voiceMode: VoiceModePushToTalk,
		created:   make(chan struct{}),
		closed:    make(chan struct{}),
	}
}

// Connect opens the upstream connection and sends the initial session
// configuration, resolving once session.created is observed. Fails with
// ErrProviderUnavailable if the transport never opens or session.created
// is not seen within cfg.ConnectTimeout.
func (a *Adapter) Connect(ctx context.Context, instructions string) error {
	start := time.Now()

	u, err := url.Parse(a.cfg.Endpoint)
	if err != nil {
		return fmt.Errorf("provider: invalid endpoint: %w", err)
	}
	q := u.Query()
	q.Set("model", a.cfg.Model)
	u.RawQuery = q.Encode()

	timeout := time.Duration(a.cfg.ConnectTimeout) * time.Millisecond
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	header := map[string][]string{"Authorization": {"Bearer " + a.cfg.APIKey}}
	conn, _, err := dialer.DialContext(dialCtx, u.String(), header)
	if err != nil {
		return fmt.Errorf("%w: %v", commons.ErrProviderUnavailable, err)
	}
	a.conn = conn
	a.conversationContext = instructions

	go a.readLoop()

	g, gctx := errgroup.WithContext(dialCtx)
	g.Go(func() error {
		return a.sendSessionUpdate(instructions)
	})
	g.Go(func() error {
		select {
		case <-a.created:
			return nil
		case <-gctx.Done():
			return gctx.Err()
		}
	})
	if err := g.Wait(); err != nil {
		a.conn.Close()
		return fmt.Errorf("%w: %v", commons.ErrProviderUnavailable, err)
	}

	a.mu.Lock()
	a.connected = true
	a.mu.Unlock()

	a.log.Benchmark("provider.Connect", time.Since(start))
	return nil
}

func (a *Adapter) sendSessionUpdate(instructions string) error {
	turnType := "server_vad"
	a.mu.Lock()
	if a.voiceMode == VoiceModePushToTalk {
		turnType = "none"
	}
	a.mu.Unlock()

	evt := sessionUpdateEvent{
		Type: outSessionUpdate,
		Session: sessionConfigPayload{
			Modalities:        []string{"text", "audio"},
			Voice:             a.cfg.Voice,
			InputAudioFormat:  "pcm16",
			OutputAudioFormat: "pcm16",
			InputAudioTranscription: &transcriptionConfig{
				Model: "whisper-1",
			},
			TurnDetection: &turnDetectionPayload{Type: turnType},
			Instructions:  instructions,
		},
	}
	return a.send(evt)
}

// SendAudio appends PCM16 bytes to the local buffer. Rejects with
// ErrUnsupportedFormat for anything that isn't a whole number of PCM16
// samples. Silent no-op when disconnected.
func (a *Adapter) SendAudio(chunk []byte) error {
	if !audio.IsValidPCM16(chunk) {
		return commons.ErrUnsupportedFormat
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil
	}
	a.buf.append(chunk)
	return a.send(inputAudioBufferAppendEvent{
		Type:  outInputAudioBufferAppend,
		Audio: audio.EncodeBase64(chunk),
	})
}

// CommitAudio attempts to commit the current input buffer, applying the
// three guards below. Returns whether a commit message was
// actually sent.
func (a *Adapter) CommitAudio(ctx context.Context) (bool, error) {
	start := time.Now()
	defer func() { a.log.Benchmark("provider.CommitAudio", time.Since(start)) }()

	a.mu.Lock()
	durationMs := a.buf.durationMs()
	speechDetected := a.buf.speechDetected
	lastAppend := a.buf.lastAppendTime
	a.mu.Unlock()

	// Guard 1: minimum commit duration.
	if durationMs < minCommitDurationMs {
		a.mu.Lock()
		a.buf.reset()
		a.mu.Unlock()
		a.log.Debugf("provider: %v (session %s, duration_ms=%d)", commons.ErrCommitTooShort, a.sessionID, durationMs)
		return false, nil
	}

	// Guard 2: safety window — the network must have flushed.
	elapsed := time.Since(lastAppend)
	if wait := safetyWindowMs*time.Millisecond - elapsed; wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}

	// Guard 3: VAD soft-warn, does not block the commit.
	if !speechDetected && durationMs < vadSoftWarnDurationMs {
		a.log.Warnw("provider: committing without VAD speech-start", "session_id", a.sessionID, "duration_ms", durationMs)
	}

	a.mu.Lock()
	a.buf.pendingCommit = true
	a.mu.Unlock()

	if err := a.send(inputAudioBufferCommitEvent{Type: outInputAudioBufferCommit}); err != nil {
		return false, err
	}
	return true, nil
}

// Cancel sends response.cancel and clears the responding flag. Does not
// touch input buffer state.
func (a *Adapter) Cancel() error {
	a.mu.Lock()
	a.responding = false
	a.mu.Unlock()
	return a.send(responseCancelEvent{Type: outResponseCancel})
}

// SetVoiceMode updates turn-detection mode, emitting a session-update only
// if the mode actually changed.
func (a *Adapter) SetVoiceMode(mode VoiceMode) error {
	a.mu.Lock()
	changed := a.voiceMode != mode
	a.voiceMode = mode
	instructions := a.conversationContext
	a.mu.Unlock()
	if !changed {
		return nil
	}
	return a.sendSessionUpdate(instructions)
}

// SetConversationContext replaces the session instructions with text and
// sends a session-update right away. The instructions passed to Connect are
// not kept alongside it: text becomes the whole instructions field, here and
// in later SetVoiceMode updates.
func (a *Adapter) SetConversationContext(text string) error {
	a.mu.Lock()
	a.conversationContext = text
	a.mu.Unlock()
	return a.sendSessionUpdate(text)
}

// Disconnect cancels any in-flight response, closes the transport, and
// releases buffers.
func (a *Adapter) Disconnect() error {
	a.mu.Lock()
	responding := a.responding
	a.mu.Unlock()

	if responding {
		_ = a.Cancel()
	}

	a.mu.Lock()
	a.buf.reset()
	a.connected = false
	a.mu.Unlock()

	select {
	case <-a.closed:
	default:
		close(a.closed)
	}

	if a.conn != nil {
		return a.conn.Close()
	}
	return nil
}

func (a *Adapter) send(v any) error {
	data, err := marshal(v)
	if err != nil {
		return fmt.Errorf("provider: failed to marshal outbound message: %w", err)
	}
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if a.conn == nil {
		return fmt.Errorf("%w: no connection", commons.ErrProviderUnavailable)
	}
	if err := a.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("provider: write failed: %w", err)
	}
	return nil
}

func (a *Adapter) readLoop() {
	for {
		select {
		case <-a.closed:
			return
		default:
		}

		_, raw, err := a.conn.ReadMessage()
		if err != nil {
			a.handleTransportClose(err)
			return
		}
		a.handleInbound(raw)
	}
}

func (a *Adapter) handleTransportClose(err error) {
	a.mu.Lock()
	responding := a.responding
	a.responding = false
	a.connected = false
	a.mu.Unlock()

	if responding {
		a.emit(EventResponseEnd, ResponseEndPayload{Truncated: true})
	}
	a.emit(EventError, ErrorPayload{Message: err.Error()})
}

func (a *Adapter) handleInbound(raw []byte) {
	var env inboundEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		a.log.Errorw("provider: failed to unmarshal inbound message", "error", err)
		return
	}

	switch env.Type {
	case inSessionCreated:
		a.createdOnce.Do(func() { close(a.created) })

	case inSessionUpdated:
		// No-op: acknowledgement only.

	case inSpeechStarted:
		a.mu.Lock()
		a.buf.speechDetected = true
		a.mu.Unlock()

	case inBufferCommitted:
		a.handleBufferCommitted()

	case inResponseCreated:
		a.mu.Lock()
		a.responding = true
		a.firstAudioEmitted = false
		a.mu.Unlock()
		a.emit(EventResponseStart, nil)

	case inResponseAudioDelta:
		a.handleAudioDelta(raw)

	case inResponseAudioTranscriptDelta:
		a.handleTranscriptDelta(raw, false)

	case inResponseAudioTranscriptDone:
		a.handleTranscriptDelta(raw, true)

	case inConversationItemInputTranscript:
		a.handleUserTranscript(raw)

	case inResponseDone:
		a.mu.Lock()
		a.responding = false
		a.mu.Unlock()
		a.emit(EventResponseEnd, ResponseEndPayload{Truncated: false})

	case inRateLimitsUpdated:
		var meta map[string]any
		_ = json.Unmarshal(raw, &meta)
		a.emit(EventResponseMetadata, meta)

	case inError:
		a.handleUpstreamError(env)

	default:
		a.log.Debugf("provider: unhandled inbound message type=%s", env.Type)
	}
}

// handleBufferCommitted resets the buffer, emits buffer_committed so
// callers can start a commit-confirmed clock (e.g. Lane B's TTFB), and —
// iff not already responding — emits response.create, the commit
// protocol's only entry point. A duplicate committed ack (pendingCommit
// already false) is ignored.
func (a *Adapter) handleBufferCommitted() {
	a.mu.Lock()
	if !a.buf.pendingCommit {
		a.mu.Unlock()
		return
	}
	a.buf.reset()
	alreadyResponding := a.responding
	a.mu.Unlock()

	a.emit(EventBufferCommitted, nil)

	if alreadyResponding {
		return
	}
	if err := a.send(responseCreateEvent{Type: outResponseCreate}); err != nil {
		a.log.Errorw("provider: failed to send response.create", "error", err)
	}
}

func (a *Adapter) handleUpstreamError(env inboundEnvelope) {
	var code, msg string
	if env.Error != nil {
		code = env.Error.Code
		msg = env.Error.Message
	}

	if code == errCodeCommitEmpty {
		a.mu.Lock()
		a.buf.reset()
		a.mu.Unlock()
	}

	a.emit(EventError, ErrorPayload{Message: msg, Code: code})
}

func (a *Adapter) handleAudioDelta(raw []byte) {
	var p audioDeltaPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		a.log.Errorw("provider: failed to parse audio delta", "error", err)
		return
	}
	pcm, err := audio.DecodeBase64(p.Delta)
	if err != nil {
		a.log.Errorw("provider: failed to decode audio delta", "error", err)
		return
	}

	a.mu.Lock()
	first := !a.firstAudioEmitted
	a.firstAudioEmitted = true
	a.mu.Unlock()

	if first {
		a.emit(EventFirstAudioReady, nil)
	}
	a.emit(EventAudio, AudioPayload{PCM: pcm})
}

func (a *Adapter) handleTranscriptDelta(raw []byte, isFinal bool) {
	var p transcriptPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		a.log.Errorw("provider: failed to parse transcript", "error", err)
		return
	}
	text := p.Delta
	if isFinal {
		text = p.Text
	}
	a.emit(EventTranscript, TranscriptPayload{Text: text, IsFinal: isFinal})
}

func (a *Adapter) handleUserTranscript(raw []byte) {
	var p transcriptPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		a.log.Errorw("provider: failed to parse user transcript", "error", err)
		return
	}
	a.emit(EventUserTranscript, TranscriptPayload{Text: p.Text, IsFinal: true})
}

func (a *Adapter) emit(typ string, payload any) {
	a.bus.Emit(bus.NewEvent(a.sessionID, bus.SourceLaneB, typ, payload))
}
