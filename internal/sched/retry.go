package sched

import (
	"context"
	"time"
)

// DefaultBackoff is the standard wait ladder between attempts. Once the
// ladder is exhausted the final value repeats.
var DefaultBackoff = []time.Duration{
	500 * time.Millisecond,
	1 * time.Second,
	1500 * time.Millisecond,
	2500 * time.Millisecond,
	4 * time.Second,
	6500 * time.Millisecond,
	10500 * time.Millisecond,
	17 * time.Second,
	27500 * time.Millisecond,
	34500 * time.Millisecond,
}

// RetryPolicy controls Retry. A nil Retryable retries every error.
type RetryPolicy struct {
	Attempts  int
	Backoff   []time.Duration
	Retryable func(error) bool

	// sleep is swapped out in tests.
	sleep func(context.Context, time.Duration) error
}

// Retry runs fn until it succeeds, returns a non-retryable error, or
// the attempt budget runs out. On exhaustion the last error is
// returned as-is.
func Retry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	if policy.Attempts <= 0 {
		policy.Attempts = len(DefaultBackoff)
	}
	backoff := policy.Backoff
	if len(backoff) == 0 {
		backoff = DefaultBackoff
	}
	sleep := policy.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var err error
	for attempt := 0; attempt < policy.Attempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if policy.Retryable != nil && !policy.Retryable(err) {
			return err
		}
		if attempt == policy.Attempts-1 {
			break
		}
		if sleepErr := sleep(ctx, backoffAt(backoff, attempt)); sleepErr != nil {
			return err
		}
	}
	return err
}

func backoffAt(backoff []time.Duration, attempt int) time.Duration {
	if attempt >= len(backoff) {
		return backoff[len(backoff)-1]
	}
	return backoff[attempt]
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
