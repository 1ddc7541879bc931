package breaker

import (
	"testing"
	"time"
)

func TestBreakerTripsAfterThreshold(t *testing.T) {
	b := New(3, 50*time.Millisecond)
	for i := 0; i < 3; i++ {
		if err := b.Allow(); err != nil {
			t.Fatalf("call %d: expected allow while closed, got %v", i, err)
		}
		b.Failure()
	}
	if b.CurrentState() != Open {
		t.Fatalf("expected open after threshold failures, got %v", b.CurrentState())
	}
	if err := b.Allow(); err != ErrOpen {
		t.Fatalf("expected ErrOpen immediately after trip, got %v", err)
	}
}

func TestBreakerHalfOpenProbeSucceeds(t *testing.T) {
	b := New(1, 10*time.Millisecond)
	_ = b.Allow()
	b.Failure() // trips open
	time.Sleep(20 * time.Millisecond)

	if err := b.Allow(); err != nil {
		t.Fatalf("expected probe allowed after cooldown, got %v", err)
	}
	b.Success()
	if b.CurrentState() != Closed {
		t.Fatalf("expected closed after successful probe, got %v", b.CurrentState())
	}
}

func TestBreakerHalfOpenProbeFails(t *testing.T) {
	b := New(1, 10*time.Millisecond)
	_ = b.Allow()
	b.Failure()
	time.Sleep(20 * time.Millisecond)

	_ = b.Allow() // consumes the probe slot
	b.Failure()
	if b.CurrentState() != Open {
		t.Fatalf("expected reopen after failed probe, got %v", b.CurrentState())
	}
}

func TestTokenBucketAllowsUpToCapacity(t *testing.T) {
	tb := NewTokenBucket(2, 1)
	if !tb.Allow() || !tb.Allow() {
		t.Fatal("expected first two calls within capacity to be allowed")
	}
	if tb.Allow() {
		t.Fatal("expected third immediate call to be refused")
	}
}

func TestTokenBucketRefills(t *testing.T) {
	tb := NewTokenBucket(1, 100) // 100 tokens/sec refill
	if !tb.Allow() {
		t.Fatal("expected first call allowed")
	}
	time.Sleep(20 * time.Millisecond)
	if !tb.Allow() {
		t.Fatal("expected refill to permit a second call")
	}
}
