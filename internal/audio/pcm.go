// Package audio implements the fixed edge audio format the engine accepts:
// 16 kHz, mono, 16-bit signed little-endian PCM (§4.4 "Framing assumption").
// Multi-codec support is explicitly out of scope; the transport is
// responsible for delivering frames already in this format.
package audio

import (
	"encoding/binary"
	"math"
)

// SampleRate, Channels, and BitDepth are the fixed edge format. A transport
// presenting anything else is a configuration error outside this package.
const (
	SampleRate = 16000
	Channels   = 1
	BitDepth   = 16

	// BytesPerSample is the byte width of one PCM sample at BitDepth.
	BytesPerSample = BitDepth / 8

	// MinUtteranceBytes is the default minimum buffer size below which an
	// utterance is discarded as too short to transcribe (~0.5s at 16kHz/16-bit).
	MinUtteranceBytes = SampleRate * BytesPerSample / 2
)

// Decode converts little-endian 16-bit PCM bytes into float32 samples
// normalized to [-1, 1], for callers that need amplitude rather than raw
// bytes; no engine path calls it. The transcription port consumes the
// WAV-wrapped byte form directly (see WrapWAV).
func Decode(data []byte) []float32 {
	n := len(data) / BytesPerSample
	samples := make([]float32, n)
	for i := range n {
		s := int16(binary.LittleEndian.Uint16(data[i*2:]))
		samples[i] = float32(s) / math.MaxInt16
	}
	return samples
}
