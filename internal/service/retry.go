package service

import (
	"context"
	"fmt"
	"time"

	"mysterypack/internal/logger"
	"mysterypack/internal/metrics"
)

// RetryPolicy bounds retries of contended storage work.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

// DefaultRetryPolicy is used when a service is built with a zero policy.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, Backoff: 50 * time.Millisecond}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.Attempts <= 0 {
		p.Attempts = DefaultRetryPolicy.Attempts
	}
	if p.Backoff <= 0 {
		p.Backoff = DefaultRetryPolicy.Backoff
	}
	return p
}

// withRetry runs fn until it succeeds, fails with a non-retryable error, or
// the attempts are used up. Backoff doubles after each attempt.
func withRetry(ctx context.Context, p RetryPolicy, op string, fn func() error) error {
	p = p.normalized()
	delay := p.Backoff

	var err error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		err = fn()
		if err == nil || !IsRetryable(err) {
			return err
		}
		if attempt == p.Attempts {
			break
		}

		metrics.RecordRetry(op)
		logger.Warn("retry", fmt.Sprintf("op=%s attempt=%d delay=%s error=%v", op, attempt, delay, err))

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return &TransientError{Op: op, Err: ctx.Err()}
		}
		delay *= 2
	}
	return &TransientError{Op: op, Err: err}
}
