package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/corelane/dialogue-engine/internal/metrics"
	"github.com/corelane/dialogue-engine/internal/ports"
)

// piperChunkBytes is the frame size PiperSynthesizer slices its response
// body into before invoking onChunk. Piper's HTTP API (like the teacher's
// TTSClient) returns the whole synthesized file in one response; this
// engine's Synthesizer port is a streaming callback, so the adapter chunks
// client-side to give the turn engine's pre-emit interrupt check (§4.5 step
// 6) a chance to run between chunks instead of delivering all audio at once.
const piperChunkBytes = 4096

// PiperSynthesizer synthesizes speech from text via Piper's HTTP API,
// adapted from the teacher's internal/pipeline/tts.go TTSClient to satisfy
// ports.Synthesizer's streaming onChunk contract.
type PiperSynthesizer struct {
	url    string
	voice  string
	client *http.Client
}

// NewPiperSynthesizer creates a client pointing at a Piper HTTP service,
// selecting the given voice model.
func NewPiperSynthesizer(url, voice string, poolSize int) *PiperSynthesizer {
	return &PiperSynthesizer{
		url:    url,
		voice:  voice,
		client: ports.NewPooledHTTPClient(poolSize, 30*time.Second),
	}
}

type piperRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
}

func (c *PiperSynthesizer) SynthesizeStream(ctx context.Context, text string, onChunk func(ports.AudioChunk) error) error {
	body, err := json.Marshal(piperRequest{Text: text, Voice: c.voice})
	if err != nil {
		return fmt.Errorf("marshal tts request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.url+"/synthesize", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		metrics.Errors.WithLabelValues("tts", "http").Inc()
		return fmt.Errorf("tts request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.Errors.WithLabelValues("tts", "status").Inc()
		return fmt.Errorf("tts status %d", resp.StatusCode)
	}

	buf := make([]byte, piperChunkBytes)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if err := onChunk(ports.AudioChunk{PCM: chunk}); err != nil {
				return err // dropped by the session's pre-emit check; not a real failure
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("read tts response: %w", readErr)
		}
	}
}
