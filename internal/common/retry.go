package common

import (
	"context"
	"time"
)

// RetryPolicy describes a bounded retry loop with exponential backoff. The
// backoff before attempt n+1 is Base * Multiplier^(n-1).
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
	Multiplier  int
	// Retryable decides whether a failure is transient. A nil predicate
	// retries every error.
	Retryable func(error) bool
}

// Retry runs fn until it succeeds, the attempt budget is exhausted, the error
// is not retryable, or ctx is cancelled. It returns the last error observed.
func (p RetryPolicy) Retry(ctx context.Context, fn func() error) error {
	backoff := p.Base
	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= time.Duration(p.Multiplier)
	}
	return err
}
