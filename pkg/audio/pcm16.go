// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package audio holds the small set of PCM16 helpers shared by every
// component that touches raw audio: the provider adapter's buffer guards,
// Lane A's reflex chunker, and the fallback planner's phrase chunker.
//
// Format is fixed across the whole core: PCM16,
// little-endian, mono, 24000 Hz.
package audio

import (
	"encoding/binary"
	"math"
)

const (
	SampleRateHz = 24000
	BytesPerSample = 2
	Channels = 1

	// ChunkDurationMs is the wall-clock cadence both Lane A and the
	// fallback planner stream pre-synthesized audio on.
	ChunkDurationMs = 100
	// ChunkBytes is the byte size of one ChunkDurationMs frame at
	// SampleRateHz/BytesPerSample/Channels: 24000 * 0.1 * 2 = 4800.
	ChunkBytes = SampleRateHz * ChunkDurationMs / 1000 * BytesPerSample
)

// DurationMs returns the playback duration, in milliseconds, of n bytes of
// PCM16 mono audio at SampleRateHz.
func DurationMs(nBytes int) float64 {
	samples := float64(nBytes) / float64(BytesPerSample)
	return samples / float64(SampleRateHz) * 1000.0
}

// BytesForDurationMs is the inverse of DurationMs, rounded down to a whole
// sample.
func BytesForDurationMs(ms float64) int {
	samples := int(ms / 1000.0 * float64(SampleRateHz))
	return samples * BytesPerSample
}

// IsValidPCM16 reports whether chunk is a well-formed PCM16 buffer: a
// non-empty sequence of whole 16-bit little-endian samples.
func IsValidPCM16(chunk []byte) bool {
	return len(chunk) > 0 && len(chunk)%BytesPerSample == 0
}

// DecodeSamples interprets raw little-endian PCM16 bytes as signed 16-bit
// samples, the form ResampleLinear takes.
func DecodeSamples(pcm []byte) []int16 {
	n := len(pcm) / BytesPerSample
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
	}
	return out
}

// EncodeSamples is the inverse of DecodeSamples.
func EncodeSamples(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:i*2+2], uint16(s))
	}
	return out
}

// ResampleLinear resamples mono PCM16 samples from inRate to outRate using
// linear interpolation. This is a faithful, dependency-free implementation:
// no third-party resampler in the retrieval pack exposes a Go API that could
// be grounded without risking a guessed/incorrect call signature (see
// DESIGN.md), so it is implemented directly here rather than imported.
// Output values are rounded to the nearest sample value, and output instants
// past the last input sample extend the final segment's slope, so a signal
// that is linear between samples (a ramp) round-trips A->B->A within ±1 LSB
// for any rate pair; sharper content is smoothed and can come back further
// off.
func ResampleLinear(samples []int16, inRate, outRate int) []int16 {
	if inRate == outRate || len(samples) == 0 {
		out := make([]int16, len(samples))
		copy(out, samples)
		return out
	}

	ratio := float64(inRate) / float64(outRate)
	outLen := int(float64(len(samples)) / ratio)
	if outLen <= 0 {
		return nil
	}

	out := make([]int16, outLen)
	for i := 0; i < outLen; i++ {
		srcPos := float64(i) * ratio
		idx := int(srcPos)
		if idx >= len(samples)-1 && len(samples) > 1 {
			// Past the last input sample: extend the final segment's slope.
			idx = len(samples) - 2
		}
		frac := srcPos - float64(idx)

		if idx >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}

		a := float64(samples[idx])
		b := float64(samples[idx+1])
		out[i] = int16(math.Max(math.MinInt16, math.Min(math.MaxInt16, math.Round(a+(b-a)*frac))))
	}
	return out
}
