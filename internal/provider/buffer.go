// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package provider

import (
	"time"

	"github.com/rapidaai/voicecore/pkg/audio"
)

// bufferCapBytes is the 5-second PCM16 ring-buffer cap.
// §4.1 ("Buffer cap"): 24000 Hz * 2 bytes * 5s = 240000 bytes.
const bufferCapBytes = audio.SampleRateHz * audio.BytesPerSample * 5

const (
	minCommitDurationMs   = 100
	safetyWindowMs        = 50
	vadSoftWarnDurationMs = 500
)

// bufferState tracks the per-provider-session local append buffer.
type bufferState struct {
	bytes          []byte
	lastAppendTime time.Time
	speechDetected bool
	pendingCommit  bool
}

// append appends pcm to the buffer, maintaining the ring-buffer cap by
// dropping the oldest bytes when over capacity.
func (b *bufferState) append(pcm []byte) {
	b.bytes = append(b.bytes, pcm...)
	if over := len(b.bytes) - bufferCapBytes; over > 0 {
		b.bytes = b.bytes[over:]
	}
	b.lastAppendTime = time.Now()
}

// reset clears the buffer state. Called on commit-confirmed, on a rejected
// commit (guard 1 or the upstream commit-empty error), and on Disconnect;
// Cancel leaves it untouched.
func (b *bufferState) reset() {
	b.bytes = nil
	b.speechDetected = false
	b.pendingCommit = false
}

func (b *bufferState) durationMs() float64 {
	return audio.DurationMs(len(b.bytes))
}
