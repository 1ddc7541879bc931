package session

import (
	"testing"
	"time"
)

func TestCreateStartsIdle(t *testing.T) {
	st := New(8)
	s := st.Create("user-1")
	if s.State() != StateIdle {
		t.Fatalf("expected new session to start idle, got %v", s.State())
	}
	if s.ConversationID == "" || s.ID == "" {
		t.Fatal("expected non-empty session and conversation ids")
	}
}

func TestInterruptOnlyFromProcessingOrSpeaking(t *testing.T) {
	st := New(8)
	s := st.Create("user-1")

	if s.Interrupt() {
		t.Fatal("expected interrupt from idle to be refused (state reachability)")
	}

	s.Transition(StateListening)
	if s.Interrupt() {
		t.Fatal("expected interrupt from listening to be refused")
	}

	s.Transition(StateProcessing)
	if !s.Interrupt() {
		t.Fatal("expected interrupt from processing to succeed")
	}
	if s.State() != StateInterrupted {
		t.Fatalf("expected state interrupted, got %v", s.State())
	}
}

func TestInterruptIsIdempotent(t *testing.T) {
	st := New(8)
	s := st.Create("user-1")
	s.Transition(StateSpeaking)

	if !s.Interrupt() {
		t.Fatal("expected first interrupt to succeed")
	}
	if s.Interrupt() {
		t.Fatal("expected second interrupt on already-interrupted session to return false")
	}
}

func TestBeginResponseSupersedesPrior(t *testing.T) {
	st := New(8)
	s := st.Create("user-1")
	first := s.BeginResponse()
	if !s.IsCurrent(first) {
		t.Fatal("expected freshly minted response id to be current")
	}
	second := s.BeginResponse()
	if s.IsCurrent(first) {
		t.Fatal("expected prior response id to be obsolete after a new one is minted")
	}
	if !s.IsCurrent(second) {
		t.Fatal("expected the new response id to be current")
	}
}

func TestIsCurrentFalseWhenInterrupted(t *testing.T) {
	st := New(8)
	s := st.Create("user-1")
	rid := s.BeginResponse()
	s.Transition(StateProcessing)
	s.Interrupt()
	if s.IsCurrent(rid) {
		t.Fatal("expected IsCurrent to be false once interrupted, even with a matching response id")
	}
}

func TestReapEndsOldSessions(t *testing.T) {
	st := New(8)
	s := st.Create("user-1")
	time.Sleep(5 * time.Millisecond)

	reaped := st.Reap(1 * time.Millisecond)
	if len(reaped) != 1 || reaped[0] != s.ID {
		t.Fatalf("expected session %s to be reaped, got %v", s.ID, reaped)
	}
	if st.Get(s.ID) != nil {
		t.Fatal("expected reaped session to be removed from the store")
	}
}

func TestAudioBufferAppendAndTake(t *testing.T) {
	st := New(8)
	s := st.Create("user-1")
	s.AppendAudio([]byte{1, 2, 3})
	s.AppendAudio([]byte{4, 5})
	if s.State() != StateListening {
		t.Fatalf("expected state listening after first chunk, got %v", s.State())
	}
	buf := s.TakeAudio()
	if len(buf) != 5 {
		t.Fatalf("expected 5 bytes buffered, got %d", len(buf))
	}
	if len(s.TakeAudio()) != 0 {
		t.Fatal("expected buffer to be drained after Take")
	}
}

func TestAppendAudioDroppedWhenInterrupted(t *testing.T) {
	st := New(8)
	s := st.Create("user-1")
	s.Transition(StateProcessing)
	s.Interrupt()
	s.AppendAudio([]byte{1, 2, 3})
	if len(s.TakeAudio()) != 0 {
		t.Fatal("expected audio appended while interrupted to be dropped")
	}
}
