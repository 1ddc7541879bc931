// Package session implements the Session Store (C4, §4.3): a process-wide
// mapping from session id to session, with per-session-id serialized access.
// Grounded in the teacher's internal/trace.Session/Run bookkeeping shape
// (id, timestamps, mutable status) but reworked around the turn state
// machine and active_response_id required by §4.5's cancellation protocol.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/corelane/dialogue-engine/internal/events"
	"github.com/corelane/dialogue-engine/internal/wake"
)

// State is one of the five turn states (§3 Session).
type State string

const (
	StateIdle        State = "idle"
	StateListening    State = "listening"
	StateProcessing   State = "processing"
	StateSpeaking     State = "speaking"
	StateInterrupted  State = "interrupted"
)

// Session is one conversation's live state. All mutable fields must be
// accessed only through Session's methods, which serialize on the session's
// own mutex.
type Session struct {
	ID             string
	ConversationID string
	UserID         string

	mu               sync.Mutex
	state            State
	startedAt        time.Time
	lastActivityAt   time.Time
	activeResponseID string
	audioBuffer      []byte

	Bus *events.Bus

	// Wake is this session's own wake/interrupt detector. Debounce state
	// (§4.1) must not leak across sessions, so each session gets its own
	// instance rather than sharing one across the whole engine.
	Wake *wake.Detector

	// Tracer is an optional per-session span recorder (nil-safe on every
	// method); wired by internal/transport when a trace store is configured.
	Tracer Tracer
}

// Tracer is the subset of tracestore.Tracer the session needs, kept as an
// interface here so this package does not depend on tracestore (which in
// turn depends on a live Postgres connection) — avoids an import a session
// consumer may not want.
type Tracer interface {
	StartTurn(responseID string) string
	EndTurn(responseID string, durationMs float64, transcript, response, status string, verified bool, confidence float64, citationCount int)
	RecordSpan(turnID, name string, startedAt time.Time, durationMs float64, input, output, status, errMsg string)
}

// StartTurn begins a trace turn row, if a tracer is wired; no-op otherwise.
func (s *Session) StartTurn(responseID string) {
	if s.Tracer == nil {
		return
	}
	s.Tracer.StartTurn(responseID)
}

// EndTurn finalizes a trace turn row, if a tracer is wired; no-op otherwise.
func (s *Session) EndTurn(responseID string, durationMs float64, transcript, response, status string, verified bool, confidence float64, citationCount int) {
	if s.Tracer == nil {
		return
	}
	s.Tracer.EndTurn(responseID, durationMs, transcript, response, status, verified, confidence, citationCount)
}

// RecordSpan records one stage span, if a tracer is wired; no-op otherwise.
func (s *Session) RecordSpan(turnID, name string, startedAt time.Time, durationMs float64, input, output, status, errMsg string) {
	if s.Tracer == nil {
		return
	}
	s.Tracer.RecordSpan(turnID, name, startedAt, durationMs, input, output, status, errMsg)
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ActiveResponseID returns the response id currently authorized to produce
// side effects for this session.
func (s *Session) ActiveResponseID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeResponseID
}

// IsCurrent reports whether responseID still matches the session's active
// response id and the session has not been interrupted — the pre-emit check
// required throughout §4.5 step 6 and the synthesis callback.
func (s *Session) IsCurrent(responseID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != StateInterrupted && s.activeResponseID == responseID
}

// BeginResponse mints and stores a new response id, superseding any prior
// one (§4.5 step 4).
func (s *Session) BeginResponse() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeResponseID = uuid.NewString()
	s.lastActivityAt = time.Now()
	return s.activeResponseID
}

// AppendAudio appends a frame to the session's intake buffer (C6
// on_audio_chunk), transitioning to listening if not already there. Dropped
// silently if the session is interrupted, or mid-turn (processing/speaking):
// a turn in flight owns the session until it reaches an end state, and
// forcing a mid-turn chunk back into listening would let inbound audio
// re-enter processing/speaking from somewhere other than listening or
// interrupted, violating the documented state-reachability invariant.
func (s *Session) AppendAudio(frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateInterrupted || s.state == StateProcessing || s.state == StateSpeaking {
		return
	}
	if s.state != StateListening {
		s.state = StateListening
	}
	s.audioBuffer = append(s.audioBuffer, frame...)
	s.lastActivityAt = time.Now()
}

// TakeAudio drains and returns the intake buffer (C6 on_audio_end).
func (s *Session) TakeAudio() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := s.audioBuffer
	s.audioBuffer = nil
	return buf
}

// Transition sets a new state and bumps last-activity (§4.3 transition).
func (s *Session) Transition(newState State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = newState
	s.lastActivityAt = time.Now()
}

// Interrupt transitions to interrupted only from processing or speaking
// (idempotent otherwise), per §4.3 and the "Idempotent interrupt" property.
// Returns true if a transition occurred.
func (s *Session) Interrupt() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateProcessing && s.state != StateSpeaking {
		return false
	}
	s.state = StateInterrupted
	s.activeResponseID = uuid.NewString() // supersede in-flight work, §4.5 (ii)
	s.lastActivityAt = time.Now()
	return true
}

func (s *Session) lastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivityAt
}

// Store is the process-wide session registry.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	busSize  int

	// WakeFactory mints a fresh per-session wake/interrupt detector on
	// Create. Optional; a nil factory leaves Session.Wake nil (the caller
	// must handle that, e.g. a text-only deployment with no wake phrases).
	WakeFactory func() *wake.Detector
}

// New creates an empty session store. busSize sizes each session's event
// buffer (see events.NewBus).
func New(busSize int) *Store {
	return &Store{sessions: make(map[string]*Session), busSize: busSize}
}

// Create mints a new session and conversation id, in state idle.
func (st *Store) Create(userID string) *Session {
	now := time.Now()
	id := uuid.NewString()
	s := &Session{
		ID:             id,
		ConversationID: uuid.NewString(),
		UserID:         userID,
		state:          StateIdle,
		startedAt:      now,
		lastActivityAt: now,
		Bus:            events.NewBus(id, st.busSize),
	}
	if st.WakeFactory != nil {
		s.Wake = st.WakeFactory()
	}
	st.mu.Lock()
	st.sessions[id] = s
	st.mu.Unlock()
	return s
}

// Get returns the session for id, or nil if not found.
func (st *Store) Get(id string) *Session {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.sessions[id]
}

// End removes a session from the store and closes its event bus.
func (st *Store) End(id string) {
	st.mu.Lock()
	s, ok := st.sessions[id]
	if ok {
		delete(st.sessions, id)
	}
	st.mu.Unlock()
	if ok {
		s.Bus.Close()
	}
}

// Reap ends every session whose last activity is older than the threshold,
// taking a global snapshot of the registry first (§4.3 "bulk reap takes a
// global snapshot").
func (st *Store) Reap(olderThan time.Duration) []string {
	cutoff := time.Now().Add(-olderThan)

	st.mu.RLock()
	snapshot := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		snapshot = append(snapshot, s)
	}
	st.mu.RUnlock()

	var reaped []string
	for _, s := range snapshot {
		if s.lastActivity().Before(cutoff) {
			st.End(s.ID)
			reaped = append(reaped, s.ID)
		}
	}
	return reaped
}

// Count returns the number of live sessions.
func (st *Store) Count() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}
