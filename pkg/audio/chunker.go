// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package audio

import (
	"context"
	"time"
)

// Chunker streams a pre-synthesized PCM16 buffer out in fixed-size frames on
// a wall-clock cadence, shared by Lane A's reflex playback and the fallback
// planner rather than duplicated per lane.
type Chunker struct {
	frameBytes int
	period     time.Duration
}

// NewChunker builds a Chunker using the core's standard 100ms/4800-byte
// framing.
func NewChunker() *Chunker {
	return &Chunker{frameBytes: ChunkBytes, period: ChunkDurationMs * time.Millisecond}
}

// Stream calls emit once per frame of pcm at the configured cadence, in
// order, until pcm is exhausted or ctx is cancelled. The final frame may be
// shorter than frameBytes. Returns the context error if cancelled mid-stream.
func (c *Chunker) Stream(ctx context.Context, pcm []byte, emit func(frame []byte) error) error {
	ticker := time.NewTicker(c.period)
	defer ticker.Stop()

	for offset := 0; offset < len(pcm); {
		end := offset + c.frameBytes
		if end > len(pcm) {
			end = len(pcm)
		}
		frame := pcm[offset:end]

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := emit(frame); err != nil {
				return err
			}
		}
		offset = end
	}
	return nil
}
