package tracestore

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const (
	// maxTraceFieldLen caps transcript/response/input/output string lengths
	// stored per trace row.
	maxTraceFieldLen = 500

	// traceChannelBuffer is how many queued entries the background drain
	// goroutine may hold before a Tracer method call starts blocking.
	traceChannelBuffer = 64
)

// traceEntry is one queued write. The drain goroutine applies each against
// the store in submission order, off the turn's critical path.
type traceEntry interface {
	apply(*Store) error
	label() string
}

type turnStarted struct {
	responseID   string
	connectionID string
}

func (e turnStarted) apply(s *Store) error { return s.CreateTurn(e.responseID, e.connectionID) }
func (e turnStarted) label() string        { return "turn_started" }

type turnFinished struct {
	responseID    string
	durationMs    float64
	transcript    string
	response      string
	status        string
	verified      bool
	confidence    float64
	citationCount int
}

func (e turnFinished) apply(s *Store) error {
	return s.UpdateTurn(e.responseID, e.durationMs, e.transcript, e.response, e.status, e.verified, e.confidence, e.citationCount)
}
func (e turnFinished) label() string { return "turn_finished" }

type stageRecorded struct{ stage Stage }

func (e stageRecorded) apply(s *Store) error { return s.CreateStage(e.stage) }
func (e stageRecorded) label() string        { return "stage_recorded" }

// Tracer writes trace data asynchronously via a buffered channel of typed
// entries so tracing never sits on the turn's critical path. All methods
// are nil-safe (no-op on a nil receiver), so internal/pipeline can call
// them unconditionally whether or not a trace store is configured.
type Tracer struct {
	store        *Store
	connectionID string
	ch           chan traceEntry
	done         chan struct{}
}

// NewTracer creates a tracer bound to one connection and starts its drain
// goroutine. Callers must call Close to flush pending writes.
func NewTracer(store *Store, connectionID string) *Tracer {
	t := &Tracer{store: store, connectionID: connectionID, ch: make(chan traceEntry, traceChannelBuffer), done: make(chan struct{})}
	go t.drain()
	return t
}

func (t *Tracer) drain() {
	defer close(t.done)
	for entry := range t.ch {
		if err := entry.apply(t.store); err != nil {
			slog.Warn("trace write failed", "entry", entry.label(), "error", err)
		}
	}
}

// StartTurn begins a turn row keyed by the already-minted response_id
// (§3 ResponseId: the turn engine mints it, the tracer only records it) and
// returns it unchanged ("" on a nil receiver).
func (t *Tracer) StartTurn(responseID string) string {
	if t == nil {
		return ""
	}
	t.ch <- turnStarted{responseID: responseID, connectionID: t.connectionID}
	return responseID
}

// EndTurn finalizes a turn row with its timing, text, and verification
// outcome (§4.2's verdict, threaded through from step 8 of the turn
// protocol).
func (t *Tracer) EndTurn(responseID string, durationMs float64, transcript, response, status string, verified bool, confidence float64, citationCount int) {
	if t == nil {
		return
	}
	t.ch <- turnFinished{
		responseID:    responseID,
		durationMs:    durationMs,
		transcript:    truncate(transcript, maxTraceFieldLen),
		response:      truncate(response, maxTraceFieldLen),
		status:        status,
		verified:      verified,
		confidence:    confidence,
		citationCount: citationCount,
	}
}

// RecordSpan records one completed stage execution within a turn.
func (t *Tracer) RecordSpan(turnID, name string, startedAt time.Time, durationMs float64, input, output, status, errMsg string) {
	if t == nil {
		return
	}
	t.ch <- stageRecorded{stage: Stage{
		ID:         uuid.NewString(),
		TurnID:     turnID,
		Name:       name,
		StartedAt:  startedAt,
		DurationMs: durationMs,
		Input:      truncate(input, maxTraceFieldLen),
		Output:     truncate(output, maxTraceFieldLen),
		Status:     status,
		Error:      errMsg,
	}}
}

// Close drains pending writes and stops the background goroutine.
func (t *Tracer) Close() {
	if t == nil {
		return
	}
	close(t.ch)
	<-t.done
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
