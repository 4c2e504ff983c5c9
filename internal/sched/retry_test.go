package sched

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordingSleep(slept *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return nil
	}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	var slept []time.Duration
	calls := 0
	err := Retry(context.Background(), RetryPolicy{sleep: recordingSleep(&slept)}, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, slept)
}

func TestRetryExhaustionReturnsLastError(t *testing.T) {
	var slept []time.Duration
	boom := errors.New("boom")
	err := Retry(context.Background(), RetryPolicy{Attempts: 4, sleep: recordingSleep(&slept)}, func() error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Len(t, slept, 3)
}

func TestRetryBackoffLadderRepeatsLastValue(t *testing.T) {
	var slept []time.Duration
	err := Retry(context.Background(), RetryPolicy{
		Attempts: len(DefaultBackoff) + 3,
		sleep:    recordingSleep(&slept),
	}, func() error {
		return errors.New("always")
	})
	require.Error(t, err)
	require.Len(t, slept, len(DefaultBackoff)+2)
	assert.Equal(t, DefaultBackoff, slept[:len(DefaultBackoff)])
	last := DefaultBackoff[len(DefaultBackoff)-1]
	assert.Equal(t, last, slept[len(slept)-1])
	assert.Equal(t, last, slept[len(slept)-2])
}

func TestRetryNonRetryableStopsImmediately(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	err := Retry(context.Background(), RetryPolicy{
		Retryable: func(err error) bool { return !errors.Is(err, permanent) },
	}, func() error {
		calls++
		return permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestRetryCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	boom := errors.New("boom")
	calls := 0
	err := Retry(ctx, RetryPolicy{}, func() error {
		calls++
		return boom
	})
	// The original failure wins over the context error.
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}
