// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package audio

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkerStreamsAllFramesInOrder(t *testing.T) {
	pcm := make([]byte, ChunkBytes*2+100)
	for i := range pcm {
		pcm[i] = byte(i % 256)
	}

	c := NewChunker()
	c.period = time.Millisecond // speed up the test

	var frames [][]byte
	err := c.Stream(context.Background(), pcm, func(frame []byte) error {
		cp := make([]byte, len(frame))
		copy(cp, frame)
		frames = append(frames, cp)
		return nil
	})
	require.NoError(t, err)

	require.Len(t, frames, 3)
	assert.Len(t, frames[0], ChunkBytes)
	assert.Len(t, frames[1], ChunkBytes)
	assert.Len(t, frames[2], 100)
	assert.Equal(t, pcm[:ChunkBytes], frames[0])
	assert.Equal(t, pcm[ChunkBytes:ChunkBytes*2], frames[1])
	assert.Equal(t, pcm[ChunkBytes*2:], frames[2])
}

func TestChunkerStopsOnContextCancel(t *testing.T) {
	pcm := make([]byte, ChunkBytes*10)

	c := NewChunker()
	c.period = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	count := 0
	err := c.Stream(ctx, pcm, func(frame []byte) error {
		count++
		if count == 2 {
			cancel()
		}
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.LessOrEqual(t, count, 3)
}
