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
	"github.com/corelane/dialogue-engine/internal/wake"
)

// WhisperTranscriber sends a WAV-wrapped buffer to a whisper.cpp server and
// implements ports.Transcriber, adapted from the teacher's
// internal/pipeline/asr.go ASRClient (which posts float32 samples as
// multipart form data) to instead post the already WAV-wrapped bytes
// ports.Transcriber.Transcribe receives per §4.4.
type WhisperTranscriber struct {
	url    string
	client *http.Client

	// referenceTranscript, if set, is compared against every transcription
	// result to maintain the observability-only WER gauge from
	// SPEC_FULL.md §11; it never gates the turn.
	referenceTranscript string
}

// NewWhisperTranscriber creates a client pointing at a whisper.cpp server's
// /inference endpoint.
func NewWhisperTranscriber(url string, poolSize int, referenceTranscript string) *WhisperTranscriber {
	return &WhisperTranscriber{
		url:                 url,
		client:              ports.NewPooledHTTPClient(poolSize, 30*time.Second),
		referenceTranscript: referenceTranscript,
	}
}

func (c *WhisperTranscriber) Transcribe(ctx context.Context, wav []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", c.url+"/inference", bytes.NewReader(wav))
	if err != nil {
		return "", fmt.Errorf("create asr request: %w", err)
	}
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := c.client.Do(req)
	if err != nil {
		metrics.Errors.WithLabelValues("asr", "http").Inc()
		return "", fmt.Errorf("asr request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		metrics.Errors.WithLabelValues("asr", "status").Inc()
		return "", fmt.Errorf("asr status %d: %s", resp.StatusCode, body)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode asr response: %w", err)
	}

	if c.referenceTranscript != "" {
		metrics.TranscriptWEREstimate.Set(wake.WordErrorRate(result.Text, c.referenceTranscript))
	}

	return result.Text, nil
}
