package eventbus

import (
	"context"
	"time"

	"cutfab-backend/shared/events"
	"cutfab-backend/shared/metricsx"
)

// RetryPolicy bounds the re-invocation of a failing subscriber. After
// MaxAttempts the envelope is dead-lettered (logged plus counted); the
// publisher is never failed regardless.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy retries twice after the first failure with short
// backoff. Keeping delays small matters for the in-process adapter, where
// retries run on the publisher's goroutine.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 50 * time.Millisecond, MaxDelay: 2 * time.Second}
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.BaseDelay
	if d <= 0 {
		d = 50 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return d
}

func invokeWithRetry(ctx context.Context, handler Handler, envelope events.Envelope, policy RetryPolicy) error {
	var lastErr error
	for attempt := 1; attempt <= policy.attempts(); attempt++ {
		if attempt > 1 {
			metricsx.IncEventHandlerRetry(envelope.EventType)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(policy.delay(attempt - 1)):
			}
		}
		lastErr = invokeOnce(ctx, handler, envelope)
		if lastErr == nil {
			return nil
		}
	}
	return lastErr
}
