// Package retry implements the bounded exponential backoff used to
// survive transaction conflicts between concurrent editors.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// ErrExhausted wraps the last conflict error once every attempt has
// been spent. Callers surface this as a definite failure.
var ErrExhausted = errors.New("retries exhausted")

// Policy controls how often and how long a conflicting operation is
// retried. Delay doubles per attempt, gets full random jitter, and is
// capped at MaxDelay.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Default is tuned for hot paths like shape updates, where concurrent
// editing makes conflicts frequent rather than exceptional.
func Default() Policy {
	return Policy{
		MaxAttempts: 10,
		BaseDelay:   25 * time.Millisecond,
		MaxDelay:    1 * time.Second,
	}
}

// Do runs fn until it succeeds, returns a non-retryable error, or the
// attempt budget is spent. isRetryable classifies conflict-class
// failures; anything it rejects propagates immediately.
func (p Policy) Do(ctx context.Context, isRetryable func(error) bool, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(p.delay(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err = fn()
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrExhausted, attempts, err)
}

// delay computes the backoff before the given attempt (1-based for the
// first retry): jittered in [0, base*2^(attempt-1)], capped at MaxDelay.
func (p Policy) delay(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = 10 * time.Millisecond
	}
	shift := attempt - 1
	if shift > 30 {
		shift = 30
	}
	backoff := base << shift
	if p.MaxDelay > 0 && (backoff > p.MaxDelay || backoff <= 0) {
		backoff = p.MaxDelay
	}
	return time.Duration(rand.Int63n(int64(backoff) + 1))
}
