package tracestore

import "time"

// Connection records one transport-level attach-to-detach lifetime. It is
// deliberately not named Session: that word already belongs to
// session.Session, the turn-engine's conversational unit (C4) — a
// Connection is the outer, transport-scoped record a turn-engine Session
// lives inside for however long the client stays attached.
type Connection struct {
	ID        string
	Metadata  string
	StartedAt time.Time
	EndedAt   *time.Time
	TurnCount int
}

// Turn persists the outcome of one execution of the turn protocol (§4.5),
// keyed by its response_id. The verification fields are populated only once
// step 8 completes; a turn that fails or is interrupted beforehand leaves
// them at their zero values. A zero Confidence alone does not tell "never
// reached verification" from "judged unverified with confidence 0"; Status
// does.
type Turn struct {
	ResponseID    string
	ConnectionID  string
	StartedAt     time.Time
	DurationMs    float64
	Transcript    string
	Response      string
	Status        string // running, ok, rewritten, error; an interrupted turn stays running
	Verified      bool
	Confidence    float64
	CitationCount int
	StageCount    int
}

// Stage records one pipeline-stage execution nested inside a turn:
// transcription, generation, one sentence's synthesis, or verification.
// Several Stage rows with the same Name ("synthesize_sentence") can belong
// to one turn, one per dispatched sentence.
type Stage struct {
	ID         string
	TurnID     string // response_id
	Name       string
	StartedAt  time.Time
	DurationMs float64
	Input      string
	Output     string
	Status     string
	Error      string
}
