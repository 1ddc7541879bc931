// Package events implements the per-session Event Multiplexer (C8, §4.6): a
// single ordered, blocking stream of tagged records per session. Grounded in
// the teacher's internal/ws newEventSender pattern (one outbound channel per
// connection fed by the pipeline, drained by the transport), generalized
// here into its own package so any transport adapter can be the consumer.
package events

import (
	"sync"
	"sync/atomic"
)

// Kind enumerates the event kinds of §4.6's table.
type Kind string

const (
	KindAudioChunk         Kind = "audio.chunk"
	KindAudioEnd           Kind = "audio.end"
	KindTranscriptPartial  Kind = "transcript.partial"
	KindTranscriptFinal    Kind = "transcript.final"
	KindGenerationStart    Kind = "generation.start"
	KindGenerationChunk    Kind = "generation.chunk"
	KindGenerationEnd      Kind = "generation.end"
	KindSynthesisStart     Kind = "synthesis.start"
	KindSynthesisChunk     Kind = "synthesis.chunk"
	KindSynthesisStop      Kind = "synthesis.stop"
	KindSynthesisEnd       Kind = "synthesis.end"
	KindSessionCreated     Kind = "session.created"
	KindSessionInterrupted Kind = "session.interrupted"
	KindError              Kind = "error"
)

// Event is one tagged record on a session's stream.
type Event struct {
	Kind      Kind
	SessionID string
	Seq       uint64
	Payload   any
}

// Payload shapes for the events that carry structured data beyond a bare string.

type AudioChunkPayload struct {
	Bytes      int
	SampleRate int
	Channels   int
}

type TranscriptPayload struct {
	Text       string
	IsFinal    bool
	Confidence float64
}

type GenerationChunkPayload struct {
	Token string
}

type GenerationEndPayload struct {
	Text         string
	Verified     bool
	Confidence   float64
	Citations    []string
	Warnings     []string
}

type SynthesisChunkPayload struct {
	Audio []byte
}

type SessionCreatedPayload struct {
	SessionID      string
	ConversationID string
}

type InterruptReason string

const (
	ReasonUser    InterruptReason = "user"
	ReasonTimeout InterruptReason = "timeout"
	ReasonError   InterruptReason = "error"
)

type SessionInterruptedPayload struct {
	Reason InterruptReason
}

type ErrorPayload struct {
	Code        string
	Message     string
	Recoverable bool
}

// Bus is a single-producer/single-consumer, blocking, ordered event stream
// for one session. Loss is not permitted (§4.6 "the engine blocks at the
// producer"): Publish blocks until the consumer (or buffer slot) accepts
// the event, so a slow consumer back-pressures the pipeline producing it.
type Bus struct {
	sessionID string
	seq       atomic.Uint64
	ch        chan Event

	closeOnce sync.Once
}

// NewBus creates a bus for the given session with a small buffer; the
// buffer only smooths bursts, it never substitutes for back-pressure since
// Publish blocks once it is full.
func NewBus(sessionID string, buffer int) *Bus {
	if buffer < 1 {
		buffer = 1
	}
	return &Bus{sessionID: sessionID, ch: make(chan Event, buffer)}
}

// Publish appends an event with the next sequence number, blocking if the
// consumer has not drained the buffer.
func (b *Bus) Publish(kind Kind, payload any) {
	seq := b.seq.Add(1)
	b.ch <- Event{Kind: kind, SessionID: b.sessionID, Seq: seq, Payload: payload}
}

// Events returns the consumer-facing receive channel. There must be exactly
// one consumer per bus.
func (b *Bus) Events() <-chan Event {
	return b.ch
}

// Close closes the stream; safe to call more than once.
func (b *Bus) Close() {
	b.closeOnce.Do(func() { close(b.ch) })
}
