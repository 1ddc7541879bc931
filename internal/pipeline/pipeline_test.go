package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/corelane/dialogue-engine/internal/events"
	"github.com/corelane/dialogue-engine/internal/memory"
	"github.com/corelane/dialogue-engine/internal/ports"
	"github.com/corelane/dialogue-engine/internal/session"
	"github.com/corelane/dialogue-engine/internal/verify"
	"github.com/corelane/dialogue-engine/internal/wake"
)

// fakeTranscriber returns a fixed transcript, or an error if set.
type fakeTranscriber struct {
	text string
	err  error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, wav []byte) (string, error) {
	return f.text, f.err
}

// fakeGenerator streams a fixed token list, optionally pausing before each
// token so a test can interleave an interrupt mid-stream.
type fakeGenerator struct {
	tokens []string
	pause  time.Duration
}

func (f *fakeGenerator) GenerateStream(ctx context.Context, messages []ports.Message, reqCtx map[string]any) (<-chan ports.Token, <-chan error) {
	tokc := make(chan ports.Token)
	errc := make(chan error, 1)
	go func() {
		defer close(tokc)
		for _, t := range f.tokens {
			if f.pause > 0 {
				select {
				case <-time.After(f.pause):
				case <-ctx.Done():
					errc <- ctx.Err()
					return
				}
			}
			select {
			case tokc <- ports.Token{Text: t}:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}
		errc <- nil
	}()
	return tokc, errc
}

// fakeSynthesizer records every sentence it was asked to speak and emits one
// chunk per sentence through onChunk.
type fakeSynthesizer struct {
	spoken []string
}

func (f *fakeSynthesizer) SynthesizeStream(ctx context.Context, text string, onChunk func(ports.AudioChunk) error) error {
	f.spoken = append(f.spoken, text)
	return onChunk(ports.AudioChunk{PCM: []byte(text)})
}

func newTestEngine(t *testing.T, transcriber ports.Transcriber, generator ports.Generator, synth *fakeSynthesizer, v *verify.Engine) (*Engine, *session.Store) {
	t.Helper()
	store := session.New(32)
	store.WakeFactory = func() *wake.Detector {
		return wake.New(wake.Config{
			WakePhrases:      []string{"hey assistant"},
			InterruptPhrases: []string{"cancel", "stop"},
			Sensitivity:      0.8,
			Debounce:         0,
		})
	}
	if v == nil {
		v = verify.New(0.6)
	}
	eng := New(Config{
		Transcriber:   transcriber,
		Generator:     generator,
		Synthesizer:   synth,
		Verify:        v,
		Sessions:      store,
		Conversations: memory.NewStore(),
	})
	return eng, store
}

// drainEvents collects every event published on the bus until it closes or
// the deadline elapses.
func drainEvents(t *testing.T, s *session.Session, want int, timeout time.Duration) []events.Event {
	t.Helper()
	var out []events.Event
	deadline := time.After(timeout)
	for len(out) < want {
		select {
		case ev := <-s.Bus.Events():
			out = append(out, ev)
		case <-deadline:
			t.Fatalf("timed out after %d/%d events: %+v", len(out), want, out)
		}
	}
	return out
}

func TestShortUtteranceDropped(t *testing.T) {
	eng, store := newTestEngine(t, &fakeTranscriber{text: "should never be read"}, &fakeGenerator{}, &fakeSynthesizer{}, nil)
	s := store.Create("user-1")

	eng.HandleAudioChunk(s, make([]byte, 8000))
	eng.HandleAudioEnd(context.Background(), s)

	if s.State() != session.StateIdle {
		t.Fatalf("expected state idle after short utterance, got %s", s.State())
	}

	select {
	case ev := <-s.Bus.Events():
		t.Fatalf("expected no events for a discarded short utterance, got %+v", ev)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestCleanTurn(t *testing.T) {
	synth := &fakeSynthesizer{}
	gen := &fakeGenerator{tokens: []string{"All ", "systems ", "are ", "healthy."}}
	eng, store := newTestEngine(t, &fakeTranscriber{text: "What is the status?"}, gen, synth, nil)
	s := store.Create("user-1")

	eng.HandleAudioChunk(s, make([]byte, 20000))
	eng.cfg.ContextProvider = func(context.Context) map[string]any {
		return map[string]any{"status": "All systems are healthy"}
	}
	eng.HandleAudioEnd(context.Background(), s)

	evs := drainEvents(t, s, 10, time.Second)

	wantKinds := []events.Kind{
		events.KindTranscriptFinal,
		events.KindGenerationStart,
		events.KindGenerationChunk,
		events.KindGenerationChunk,
		events.KindGenerationChunk,
		events.KindGenerationChunk,
		events.KindSynthesisStart,
		events.KindSynthesisChunk,
		events.KindGenerationEnd,
		events.KindSynthesisEnd,
	}
	for i, k := range wantKinds {
		if evs[i].Kind != k {
			t.Fatalf("event %d: want %s, got %s", i, k, evs[i].Kind)
		}
	}

	end := evs[8].Payload.(events.GenerationEndPayload)
	if !end.Verified {
		t.Fatalf("expected verified reply, got %+v", end)
	}

	if s.State() != session.StateIdle {
		t.Fatalf("expected final state idle, got %s", s.State())
	}

	conv := eng.cfg.Conversations.Get(s.ConversationID)
	msgs := conv.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 conversation messages, got %d", len(msgs))
	}
	if msgs[0].Role != memory.RoleUser || msgs[1].Role != memory.RoleAssistant {
		t.Fatalf("unexpected roles: %+v", msgs)
	}
}

func TestMidSpeechInterrupt(t *testing.T) {
	synth := &fakeSynthesizer{}
	gen := &fakeGenerator{tokens: []string{"One. ", "Two. ", "Three. ", "Four."}, pause: 30 * time.Millisecond}
	eng, store := newTestEngine(t, &fakeTranscriber{text: "Tell me things."}, gen, synth, nil)
	s := store.Create("user-1")

	eng.HandleAudioChunk(s, make([]byte, 20000))
	go eng.HandleAudioEnd(context.Background(), s)

	// Wait for synthesis to start, then interrupt.
	var sawSynthesisStart bool
	var stopCount, interruptedCount int
	deadline := time.After(2 * time.Second)
	for !sawSynthesisStart {
		select {
		case ev := <-s.Bus.Events():
			if ev.Kind == events.KindSynthesisStart {
				sawSynthesisStart = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for synthesis.start")
		}
	}

	if !eng.Interrupt(s, events.ReasonUser) {
		t.Fatal("expected Interrupt to succeed while speaking")
	}

	// Drain remaining events looking for synthesis.stop / session.interrupted,
	// and ensure no synthesis.chunk arrives afterward.
	sawStopBeforeInterrupted := false
	draining := true
	for draining {
		select {
		case ev, ok := <-s.Bus.Events():
			if !ok {
				draining = false
				break
			}
			switch ev.Kind {
			case events.KindSynthesisStop:
				stopCount++
				if interruptedCount == 0 {
					sawStopBeforeInterrupted = true
				}
			case events.KindSessionInterrupted:
				interruptedCount++
			case events.KindSynthesisChunk:
				if interruptedCount > 0 {
					t.Fatalf("observed synthesis.chunk after session.interrupted")
				}
			}
		case <-time.After(150 * time.Millisecond):
			draining = false
		}
	}

	if stopCount != 1 {
		t.Fatalf("expected exactly one synthesis.stop, got %d", stopCount)
	}
	if interruptedCount != 1 {
		t.Fatalf("expected exactly one session.interrupted, got %d", interruptedCount)
	}
	if !sawStopBeforeInterrupted {
		t.Fatalf("expected synthesis.stop before session.interrupted")
	}
	if s.State() != session.StateInterrupted {
		t.Fatalf("expected final state interrupted, got %s", s.State())
	}
}

func TestIdempotentInterrupt(t *testing.T) {
	_, store := newTestEngine(t, &fakeTranscriber{}, &fakeGenerator{}, &fakeSynthesizer{}, nil)
	s := store.Create("user-1")

	if s.Interrupt() {
		t.Fatal("expected interrupt to fail from idle state")
	}
	s.Transition(session.StateProcessing)
	s.Transition(session.StateSpeaking)
	if !s.Interrupt() {
		t.Fatal("expected first interrupt from speaking to succeed")
	}
	if s.Interrupt() {
		t.Fatal("expected second interrupt on an already-interrupted session to be a no-op")
	}
}

func TestUnverifiedReplyGetsDisclaimerAndWarning(t *testing.T) {
	synth := &fakeSynthesizer{}
	gen := &fakeGenerator{tokens: []string{"There are 999 critical errors."}}
	eng, store := newTestEngine(t, &fakeTranscriber{text: "What's wrong?"}, gen, synth, nil)
	s := store.Create("user-1")

	eng.HandleAudioChunk(s, make([]byte, 20000))
	eng.HandleAudioEnd(context.Background(), s)

	var end events.GenerationEndPayload
	deadline := time.After(time.Second)
	found := false
	for !found {
		select {
		case ev := <-s.Bus.Events():
			if ev.Kind == events.KindGenerationEnd {
				end = ev.Payload.(events.GenerationEndPayload)
				found = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for generation.end")
		}
	}

	if end.Verified {
		t.Fatalf("expected unverified reply given an empty context snapshot")
	}
	if len(end.Warnings) == 0 {
		t.Fatalf("expected at least one warning for the unverified claim")
	}

	conv := eng.cfg.Conversations.Get(s.ConversationID)
	msgs := conv.Messages()
	assistant := msgs[len(msgs)-1]
	if assistant.Text == "There are 999 critical errors." {
		t.Fatalf("expected the appended message to carry the disclaimer, got verbatim reply")
	}
}

func TestSafeGreetingNeedsNoDisclaimer(t *testing.T) {
	synth := &fakeSynthesizer{}
	gen := &fakeGenerator{tokens: []string{"Hello! ", "How can I help?"}}
	eng, store := newTestEngine(t, &fakeTranscriber{text: "hi"}, gen, synth, nil)
	s := store.Create("user-1")

	eng.HandleAudioChunk(s, make([]byte, 20000))
	eng.HandleAudioEnd(context.Background(), s)

	var end events.GenerationEndPayload
	deadline := time.After(time.Second)
	found := false
	for !found {
		select {
		case ev := <-s.Bus.Events():
			if ev.Kind == events.KindGenerationEnd {
				end = ev.Payload.(events.GenerationEndPayload)
				found = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for generation.end")
		}
	}

	if !end.Verified || end.Confidence < 0.9 {
		t.Fatalf("expected a confidently verified greeting, got %+v", end)
	}
}

func TestWakeInterruptPrecedenceOnCombinedUtterance(t *testing.T) {
	d := wake.New(wake.Config{
		WakePhrases:      []string{"hey assistant"},
		InterruptPhrases: []string{"cancel"},
		Sensitivity:      0.8,
	})
	result := d.Classify("hey assistant, cancel that")
	if result.Kind != wake.KindInterrupt {
		t.Fatalf("expected interrupt to take precedence over wake, got %s", result.Kind)
	}
}
