package ports

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/corelane/dialogue-engine/internal/breaker"
	"github.com/corelane/dialogue-engine/internal/metrics"
)

// Guard bundles the per-upstream circuit breaker and token bucket required
// by §5 ("Rate limiting and circuit-breaking against upstreams are
// cross-session and must be concurrency-safe"). One Guard is shared by
// every session calling the same upstream; name is the metrics/log label.
type Guard struct {
	Name    string
	Breaker *breaker.Breaker
	Limiter *breaker.TokenBucket
}

// NewGuard creates a Guard with the default breaker trip threshold (5
// consecutive failures) and a 30s cooldown, and a token bucket sized rate
// (tokens/sec) with burst capacity.
func NewGuard(name string, rate, burst float64) *Guard {
	return &Guard{
		Name:    name,
		Breaker: breaker.New(5, 30*time.Second),
		Limiter: breaker.NewTokenBucket(burst, rate),
	}
}

// allow checks the token bucket then the breaker, returning an error that
// identifies which guard rejected the call.
func (g *Guard) allow() error {
	if !g.Limiter.Allow() {
		return fmt.Errorf("%s: rate limit exceeded", g.Name)
	}
	if err := g.Breaker.Allow(); err != nil {
		metrics.Errors.WithLabelValues(g.Name, "circuit_open").Inc()
		return fmt.Errorf("%s: %w", g.Name, err)
	}
	return nil
}

func (g *Guard) recordResult(err error) {
	if err != nil {
		g.Breaker.Failure()
	} else {
		g.Breaker.Success()
	}
	metrics.BreakerState.WithLabelValues(g.Name).Set(stateValue(g.Breaker.CurrentState()))
}

func stateValue(s breaker.State) float64 {
	switch s {
	case breaker.Open:
		return 2
	case breaker.HalfOpen:
		return 1
	default:
		return 0
	}
}

// retryBackoff is the fixed backoff schedule of the retrying wrappers: 3
// attempts in all, waiting 1s and then 5s between them. Every error the
// wrapped call returns is retried; errors are not classified by HTTP status.
var retryBackoff = []time.Duration{1 * time.Second, 5 * time.Second}

// sleepBackoff waits out one retry interval or ctx cancellation, whichever
// comes first.
func sleepBackoff(ctx context.Context, attempt int) error {
	if attempt >= len(retryBackoff) {
		return nil
	}
	select {
	case <-time.After(retryBackoff[attempt]):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RetryingTranscriber wraps a Transcriber with a Guard and the idempotent
// retry policy of §5 (transcription is retryable).
type RetryingTranscriber struct {
	Inner Transcriber
	Guard *Guard
}

func (r *RetryingTranscriber) Transcribe(ctx context.Context, wav []byte) (string, error) {
	var lastErr error
	for attempt := 0; attempt < len(retryBackoff)+1; attempt++ {
		if err := r.Guard.allow(); err != nil {
			return "", err
		}
		text, err := r.Inner.Transcribe(ctx, wav)
		r.Guard.recordResult(err)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if attempt < len(retryBackoff) {
			if sleepErr := sleepBackoff(ctx, attempt); sleepErr != nil {
				return "", sleepErr
			}
		}
	}
	return "", fmt.Errorf("transcribe after %d attempts: %w", len(retryBackoff)+1, lastErr)
}

// RetryingSynthesizer wraps a Synthesizer with a Guard and the same retry
// policy (synthesis is retryable per §5/§6).
type RetryingSynthesizer struct {
	Inner Synthesizer
	Guard *Guard
}

func (r *RetryingSynthesizer) SynthesizeStream(ctx context.Context, text string, onChunk func(AudioChunk) error) error {
	var lastErr error
	for attempt := 0; attempt < len(retryBackoff)+1; attempt++ {
		if err := r.Guard.allow(); err != nil {
			return err
		}
		err := r.Inner.SynthesizeStream(ctx, text, onChunk)
		if errors.Is(err, context.Canceled) {
			return err // pre-emit drop or canceled call: not an upstream failure, not retried
		}
		r.Guard.recordResult(err)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < len(retryBackoff) {
			if sleepErr := sleepBackoff(ctx, attempt); sleepErr != nil {
				return sleepErr
			}
		}
	}
	return fmt.Errorf("synthesize after %d attempts: %w", len(retryBackoff)+1, lastErr)
}

// GuardedGenerator wraps a Generator with a Guard. §5: "Generation is
// retried only before the first token is observed; once streaming has
// begun, retry is unsafe and the turn errors out." So retry happens here,
// around the whole GenerateStream call, only while zero tokens have been
// forwarded to the caller; once one token is seen, any subsequent failure
// is surfaced as a terminal stream error instead of retried.
type GuardedGenerator struct {
	Inner Generator
	Guard *Guard
}

func (r *GuardedGenerator) GenerateStream(ctx context.Context, messages []Message, reqContext map[string]any) (<-chan Token, <-chan error) {
	outTokens := make(chan Token, 16)
	outErr := make(chan error, 1)

	go func() {
		defer close(outTokens)
		defer close(outErr)

		var lastErr error
		for attempt := 0; attempt < len(retryBackoff)+1; attempt++ {
			if err := r.Guard.allow(); err != nil {
				outErr <- err
				return
			}

			tokens, errc := r.Inner.GenerateStream(ctx, messages, reqContext)
			firstTokenSeen := false

			for tok := range tokens {
				firstTokenSeen = true
				select {
				case outTokens <- tok:
				case <-ctx.Done():
					r.Guard.recordResult(ctx.Err())
					outErr <- ctx.Err()
					return
				}
			}

			err := <-errc
			r.Guard.recordResult(err)
			if err == nil {
				return
			}
			if firstTokenSeen {
				// unsafe to retry once streaming began (§5)
				outErr <- err
				return
			}
			lastErr = err
			if attempt < len(retryBackoff) {
				if sleepErr := sleepBackoff(ctx, attempt); sleepErr != nil {
					outErr <- sleepErr
					return
				}
				continue
			}
		}
		outErr <- fmt.Errorf("generate after %d attempts: %w", len(retryBackoff)+1, lastErr)
	}()

	return outTokens, outErr
}
