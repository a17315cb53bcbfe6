// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package provider

import "encoding/json"

// Outbound and inbound wire types for the upstream realtime audio protocol
// exchanged with the upstream provider. Kept as hand-rolled typed envelopes
// over encoding/json rather than a provider SDK's own types — see
// DESIGN.md.

// Outbound event type discriminants (client -> upstream).
const (
	outSessionUpdate          = "session.update"
	outInputAudioBufferAppend = "input_audio_buffer.append"
	outInputAudioBufferCommit = "input_audio_buffer.commit"
	outResponseCreate         = "response.create"
	outResponseCancel         = "response.cancel"
)

// Inbound event type discriminants (upstream -> client).
// "Inbound upstream messages handled".
const (
	inSessionCreated                  = "session.created"
	inSessionUpdated                  = "session.updated"
	inSpeechStarted                   = "input_audio_buffer.speech_started"
	inBufferCommitted                 = "input_audio_buffer.committed"
	inResponseCreated                 = "response.created"
	inResponseAudioDelta               = "response.audio.delta"
	inResponseAudioTranscriptDelta    = "response.audio_transcript.delta"
	inResponseAudioTranscriptDone     = "response.audio_transcript.done"
	inConversationItemInputTranscript = "conversation.item.input_audio_transcription.completed"
	inResponseDone                    = "response.done"
	inRateLimitsUpdated               = "rate_limits.updated"
	inError                           = "error"
)

// Upstream error code for committing an empty buffer; handleUpstreamError
// resets the local buffer state when it sees it.
const errCodeCommitEmpty = "input_audio_buffer_commit_empty"

type sessionConfigPayload struct {
	Modalities              []string             `json:"modalities"`
	Voice                   string               `json:"voice,omitempty"`
	InputAudioFormat        string               `json:"input_audio_format"`
	OutputAudioFormat       string               `json:"output_audio_format"`
	InputAudioTranscription *transcriptionConfig `json:"input_audio_transcription,omitempty"`
	TurnDetection           *turnDetectionPayload `json:"turn_detection"`
	Instructions            string               `json:"instructions,omitempty"`
}

type transcriptionConfig struct {
	Model string `json:"model"`
}

type turnDetectionPayload struct {
	Type string `json:"type"`
}

type sessionUpdateEvent struct {
	Type    string               `json:"type"`
	Session sessionConfigPayload `json:"session"`
}

type inputAudioBufferAppendEvent struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64 PCM16
}

type inputAudioBufferCommitEvent struct {
	Type string `json:"type"`
}

type responseCreateEvent struct {
	Type string `json:"type"`
}

type responseCancelEvent struct {
	Type string `json:"type"`
}

// inboundEnvelope is decoded twice: once for Type/EventID/Error dispatch,
// and a second time per-type into the fields below via the raw bytes kept
// on the side by the caller.
type inboundEnvelope struct {
	Type    string          `json:"type"`
	EventID string          `json:"event_id,omitempty"`
	Error   *upstreamError  `json:"error,omitempty"`
}

type upstreamError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type audioDeltaPayload struct {
	Delta string `json:"delta"` // base64 PCM16
}

type transcriptPayload struct {
	Delta string `json:"delta,omitempty"`
	Text  string `json:"transcript,omitempty"`
}

func marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}
