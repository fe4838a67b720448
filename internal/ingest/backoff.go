package ingest

import (
	"context"
	"math/rand"
	"time"
)

// Backoff is the retry policy shared by pull, stream, and manager restarts:
// exponential with jitter, capped, bounded attempts.
type Backoff struct {
	Base        time.Duration
	Factor      float64
	Jitter      float64
	Cap         time.Duration
	MaxAttempts int
}

// DefaultBackoff retries 8 times from 500ms, doubling with 20% jitter up to
// a minute.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:        500 * time.Millisecond,
		Factor:      2,
		Jitter:      0.2,
		Cap:         60 * time.Second,
		MaxAttempts: 8,
	}
}

func (b Backoff) normalized() Backoff {
	if b.Base <= 0 {
		b.Base = 500 * time.Millisecond
	}
	if b.Factor < 1 {
		b.Factor = 2
	}
	if b.Jitter < 0 || b.Jitter >= 1 {
		b.Jitter = 0.2
	}
	if b.Cap <= 0 {
		b.Cap = 60 * time.Second
	}
	if b.MaxAttempts <= 0 {
		b.MaxAttempts = 8
	}
	return b
}

// Delay returns the wait before retry `attempt` (zero-based), jittered
// uniformly within ±Jitter of the exponential step.
func (b Backoff) Delay(attempt int) time.Duration {
	b = b.normalized()
	d := float64(b.Base)
	for i := 0; i < attempt; i++ {
		d *= b.Factor
		if d >= float64(b.Cap) {
			d = float64(b.Cap)
			break
		}
	}
	if d > float64(b.Cap) {
		d = float64(b.Cap)
	}
	if b.Jitter > 0 {
		d *= 1 - b.Jitter + 2*b.Jitter*rand.Float64()
		if d > float64(b.Cap) {
			d = float64(b.Cap)
		}
	}
	return time.Duration(d)
}

// Exhausted reports whether attempt (zero-based) is past the policy's budget.
func (b Backoff) Exhausted(attempt int) bool {
	return attempt >= b.normalized().MaxAttempts
}

// sleep waits for d or until the context ends.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
