package delivery

import (
	"context"
	"time"

	"github.com/jpillora/backoff"
)

// Backoff is the delay policy between publish attempts.
// The zero value waits nothing.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
}

// DefaultBackoff waits one second between attempts.
func DefaultBackoff() Backoff {
	return Backoff{Initial: time.Second, Max: time.Second, Factor: 1}
}

// Duration returns the delay after failed attempt n (1-based).
func (b Backoff) Duration(n int) time.Duration {
	if b.Initial <= 0 && b.Max <= 0 {
		return 0
	}
	if n < 1 {
		n = 1
	}

	maxDelay := b.Max
	if maxDelay < b.Initial {
		maxDelay = b.Initial
	}
	factor := b.Factor
	if factor < 1 {
		factor = 1
	}

	bo := &backoff.Backoff{
		Min:    b.Initial,
		Max:    maxDelay,
		Factor: factor,
	}
	return bo.ForAttempt(float64(n - 1))
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
