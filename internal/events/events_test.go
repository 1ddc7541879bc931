package events

import "testing"

func TestPublishAssignsMonotonicSequence(t *testing.T) {
	b := NewBus("sess-1", 8)
	b.Publish(KindTranscriptFinal, TranscriptPayload{Text: "hello", IsFinal: true})
	b.Publish(KindGenerationStart, nil)
	b.Close()

	var seqs []uint64
	for ev := range b.Events() {
		seqs = append(seqs, ev.Seq)
		if ev.SessionID != "sess-1" {
			t.Fatalf("expected session id sess-1, got %s", ev.SessionID)
		}
	}
	if len(seqs) != 2 || seqs[0] != 1 || seqs[1] != 2 {
		t.Fatalf("expected sequence [1 2], got %v", seqs)
	}
}

func TestPublishOrderPreserved(t *testing.T) {
	b := NewBus("sess-2", 8)
	kinds := []Kind{KindGenerationStart, KindGenerationChunk, KindGenerationChunk, KindGenerationEnd}
	for _, k := range kinds {
		b.Publish(k, nil)
	}
	b.Close()

	i := 0
	for ev := range b.Events() {
		if ev.Kind != kinds[i] {
			t.Fatalf("event %d: expected %v, got %v", i, kinds[i], ev.Kind)
		}
		i++
	}
	if i != len(kinds) {
		t.Fatalf("expected %d events, got %d", len(kinds), i)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	b := NewBus("sess-3", 1)
	b.Close()
	b.Close() // must not panic
}
