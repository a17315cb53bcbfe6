// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDurationMsRoundTrip(t *testing.T) {
	for _, ms := range []float64{0, 100, 250, 1000} {
		nBytes := BytesForDurationMs(ms)
		got := DurationMs(nBytes)
		assert.InDelta(t, ms, got, 0.05, "duration round trip for %vms", ms)
	}
}

func TestChunkBytesIs100msFrame(t *testing.T) {
	assert.Equal(t, 4800, ChunkBytes)
	assert.InDelta(t, float64(ChunkDurationMs), DurationMs(ChunkBytes), 1e-9)
}

func TestEncodeDecodeSamplesRoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 12345, -12345}
	pcm := EncodeSamples(samples)
	require.Len(t, pcm, len(samples)*BytesPerSample)

	got := DecodeSamples(pcm)
	assert.Equal(t, samples, got)
}

func TestBase64RoundTripIsIdentity(t *testing.T) {
	pcm := EncodeSamples([]int16{1, 2, 3, 4, 5, -100, 32000})
	encoded := EncodeBase64(pcm)
	decoded, err := DecodeBase64(encoded)
	require.NoError(t, err)
	assert.Equal(t, pcm, decoded)
}

func TestIsValidPCM16RejectsEmptyAndOddLength(t *testing.T) {
	assert.True(t, IsValidPCM16(make([]byte, 4)))
	assert.False(t, IsValidPCM16(nil))
	assert.False(t, IsValidPCM16([]byte{}))
	assert.False(t, IsValidPCM16([]byte{0x01}))
	assert.False(t, IsValidPCM16([]byte{0x01, 0x02, 0x03}))
}

func TestResampleLinearIdentityWhenRatesMatch(t *testing.T) {
	samples := []int16{1, 2, 3, 4, 5}
	out := ResampleLinear(samples, SampleRateHz, SampleRateHz)
	assert.Equal(t, samples, out)
}

func TestResampleLinearRoundTripWithinOneLSB(t *testing.T) {
	// A linear ramp (no wrap-around) resamples and reconstructs to within
	// one LSB: linear interpolation reproduces a signal that is linear
	// between samples.
	samples := make([]int16, 2400)
	for i := range samples {
		samples[i] = int16(i * 10)
	}

	down := ResampleLinear(samples, SampleRateHz, 16000)
	back := ResampleLinear(down, 16000, SampleRateHz)

	require.NotEmpty(t, back)
	n := len(samples)
	if len(back) < n {
		n = len(back)
	}
	for i := 0; i < n; i++ {
		assert.InDelta(t, float64(samples[i]), float64(back[i]), 1, "sample %d diverged", i)
	}
}
