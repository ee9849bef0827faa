// Package retry retries operations that fail while a dependency is starting,
// with exponential backoff.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/AlexanderSatryo135/myDrive/internal/logging"
)

// Backoff controls how often and how long Do retries.
type Backoff struct {
	Attempts int           // Maximum number of attempts (0 = until ctx is done)
	Initial  time.Duration // Wait after the first failure
	Max      time.Duration // Upper bound for a single wait
	Factor   float64       // Growth per attempt
	Jitter   float64       // Random spread, as a fraction of the wait (0-1)
}

// DefaultBackoff waits about a minute in total before giving up.
func DefaultBackoff() Backoff {
	return Backoff{
		Attempts: 10,
		Initial:  500 * time.Millisecond,
		Max:      10 * time.Second,
		Factor:   2.0,
		Jitter:   0.1,
	}
}

// delay returns the wait after the given failed attempt (1-based).
func (b Backoff) delay(attempt int) time.Duration {
	wait := float64(b.Initial) * math.Pow(b.Factor, float64(attempt-1))
	if b.Max > 0 && wait > float64(b.Max) {
		wait = float64(b.Max)
	}
	if b.Jitter > 0 {
		wait += wait * b.Jitter * (rand.Float64()*2 - 1)
	}
	return time.Duration(wait)
}

type permanentError struct {
	err error
}

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do returns the wrapped error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// Do calls fn until it succeeds, returns a Permanent error, the attempts
// are used up or ctx is done. Each failure is logged under op.
func Do[T any](ctx context.Context, b Backoff, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; b.Attempts == 0 || attempt <= b.Attempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}

		var perm permanentError
		if errors.As(err, &perm) {
			return zero, perm.err
		}
		lastErr = err

		if b.Attempts != 0 && attempt == b.Attempts {
			break
		}
		wait := b.delay(attempt)
		logging.Warn("operation failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(wait):
		}
	}

	return zero, lastErr
}
