package audio

import "encoding/binary"

// WrapWAV synthesizes a minimal WAV header around raw little-endian 16-bit
// PCM bytes so the transcription port (which expects a container, not a raw
// stream) can consume it. The engine is the only place this header is
// produced — §4.4 "Transcription requires a container (WAV); the engine
// synthesizes a minimal WAV header before submitting."
func WrapWAV(pcm []byte) []byte {
	totalLen := 44 + len(pcm)
	buf := make([]byte, totalLen)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(totalLen-8))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16) // PCM chunk size
	binary.LittleEndian.PutUint16(buf[20:22], 1)  // PCM format
	binary.LittleEndian.PutUint16(buf[22:24], Channels)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(SampleRate*Channels*BytesPerSample)) // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], uint16(Channels*BytesPerSample))            // block align
	binary.LittleEndian.PutUint16(buf[34:36], BitDepth)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(pcm)))
	copy(buf[44:], pcm)

	return buf
}

// SilenceWAV generates a minimal WAV file of silence for the given duration.
// No engine path calls it.
func SilenceWAV(ms int) []byte {
	numSamples := SampleRate * ms / 1000
	return WrapWAV(make([]byte, numSamples*BytesPerSample))
}
