package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")
var errPermanent = errors.New("permanent")

func fastConfig(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:   attempts,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2,
	}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	got, err := RetryWithResult(context.Background(), fastConfig(3), func() (int, error) {
		calls++
		if calls < 3 {
			return 0, errTransient
		}
		return 42, nil
	})
	require.NoError(t, err)
	require.Equal(t, 42, got)
	require.Equal(t, 3, calls)
}

func TestRetryReturnsLastError(t *testing.T) {
	calls := 0
	_, err := RetryWithResult(context.Background(), fastConfig(2), func() (int, error) {
		calls++
		return 0, errTransient
	})
	require.ErrorIs(t, err, errTransient)
	require.Equal(t, 2, calls)
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	cfg := fastConfig(5)
	cfg.Retryable = func(err error) bool { return errors.Is(err, errTransient) }

	calls := 0
	_, err := RetryWithResult(context.Background(), cfg, func() (int, error) {
		calls++
		return 0, errPermanent
	})
	require.ErrorIs(t, err, errPermanent)
	require.Equal(t, 1, calls)
}

func TestRetryHonoursContext(t *testing.T) {
	cfg := fastConfig(10)
	cfg.InitialDelay = time.Hour
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	done := make(chan error, 1)
	go func() {
		_, err := RetryWithResult(ctx, cfg, func() (int, error) {
			calls++
			return 0, errTransient
		})
		done <- err
	}()
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, errTransient)
		require.Equal(t, 1, calls)
	case <-time.After(time.Second):
		t.Fatal("retry did not observe context cancellation")
	}
}

func TestBackoff(t *testing.T) {
	cfg := RetryConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, BackoffFactor: 2}
	require.Equal(t, 100*time.Millisecond, backoff(0, cfg))
	require.Equal(t, 400*time.Millisecond, backoff(2, cfg))
	require.Equal(t, time.Second, backoff(10, cfg))
}
