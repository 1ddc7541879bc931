package breaker

import (
	"sync"
	"time"
)

// TokenBucket is a simple concurrency-safe token bucket used to cap request
// rate to a single upstream (§5). Refill happens lazily on Allow, so no
// background goroutine is needed.
type TokenBucket struct {
	capacity   float64
	refillRate float64 // tokens per second

	mu       sync.Mutex
	tokens   float64
	lastFill time.Time
}

// NewTokenBucket creates a bucket with the given capacity and refill rate in
// tokens per second, starting full.
func NewTokenBucket(capacity float64, refillPerSecond float64) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		refillRate: refillPerSecond,
		tokens:     capacity,
		lastFill:   time.Now(),
	}
}

// Allow reports whether a single token is available and, if so, consumes it.
func (t *TokenBucket) Allow() bool {
	return t.AllowN(1)
}

// AllowN reports whether n tokens are available and, if so, consumes them.
func (t *TokenBucket) AllowN(n float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(t.lastFill).Seconds()
	t.tokens += elapsed * t.refillRate
	if t.tokens > t.capacity {
		t.tokens = t.capacity
	}
	t.lastFill = now

	if t.tokens < n {
		return false
	}
	t.tokens -= n
	return true
}
