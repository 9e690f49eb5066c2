// Package retry provides the exponential backoff used by the accept
// loop to ride out transient listener failures (for example running out
// of file descriptors) without spinning.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// ── Permanent errors ─────────────────────────────────────────────────

// PermanentError wraps an error to signal that retrying will not help.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks err as non-retryable.  [Backoff.Do] returns the inner
// error immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// ── Backoff ──────────────────────────────────────────────────────────

// Backoff is an exponential delay schedule.  It holds configuration
// only; every [Backoff.Do] call starts again from Initial.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64

	// MaxAttempts is the total number of tries including the first;
	// 0 retries until the context ends.
	MaxAttempts int

	// OnRetry, when set, is called after each failed attempt with the
	// wait before the next one.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// AcceptBackoff returns the schedule used between failed accept calls:
// 5ms doubling up to 1s, retried until the context ends.
func AcceptBackoff() Backoff {
	return Backoff{
		Initial: 5 * time.Millisecond,
		Max:     time.Second,
		Factor:  2,
	}
}

// Delay returns the wait after the given failed attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := b.Factor
	if factor < 1 {
		factor = 2
	}
	d := float64(b.Initial) * math.Pow(factor, float64(attempt-1))
	if b.Max > 0 && d > float64(b.Max) {
		return b.Max
	}
	return time.Duration(d)
}

// Do calls fn until it returns nil, a [Permanent] error, the attempt
// budget runs out or ctx ends.  attempt is 1-based.
func (b Backoff) Do(ctx context.Context, fn func(attempt int) error) error {
	for attempt := 1; ; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}

		var pe *PermanentError
		if errors.As(err, &pe) {
			return pe.Err
		}

		if b.MaxAttempts > 0 && attempt >= b.MaxAttempts {
			return fmt.Errorf("giving up after %d attempts: %w", attempt, err)
		}

		wait := b.Delay(attempt)
		if b.OnRetry != nil {
			b.OnRetry(attempt, err, wait)
		}
		if err := Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Sleep waits for d, returning ctx.Err() early if ctx is cancelled.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
