package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/outreach-pipeline/internal/apperr"
)

func noSleep(context.Context, time.Duration) error { return nil }

func TestDoRetriesTransientThenSucceeds(t *testing.T) {
	t.Parallel()

	p := Default().WithSleep(noSleep)
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return &apperr.TransientError{API: "places", Op: "search", StatusCode: 429, Err: errors.New("slow down")}
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestDoStopsAtMaxAttempts(t *testing.T) {
	t.Parallel()

	var retries []int
	p := Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, OnRetry: func(attempt int, _ time.Duration, _ error) {
		retries = append(retries, attempt)
	}}.WithSleep(noSleep)
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return &apperr.TransientError{API: "hunter", Op: "verify", StatusCode: 503, Err: errors.New("down")}
	})
	require.True(t, apperr.IsTransient(err))
	require.Equal(t, 2, calls)
	require.Equal(t, []int{1}, retries)
}

func TestDoDoesNotRetryPermanentErrors(t *testing.T) {
	t.Parallel()

	p := Default().WithSleep(noSleep)
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return apperr.Invalid("email", "x", "format")
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestDoAbortsWhenContextEnds(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := Policy{MaxAttempts: 5, BaseDelay: time.Hour}
	err := p.Do(ctx, func(context.Context) error {
		return &apperr.TransientError{API: "places", Op: "search", Err: errors.New("timeout")}
	})
	require.ErrorContains(t, err, "retry aborted after attempt 1")
}

func TestBackoffIsBounded(t *testing.T) {
	t.Parallel()

	p := Policy{MaxAttempts: 10, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}
	for attempt := 1; attempt <= 8; attempt++ {
		d := p.Backoff(attempt)
		require.GreaterOrEqual(t, d, time.Duration(0))
		require.LessOrEqual(t, d, time.Second)
	}
	first := p.Backoff(1)
	require.GreaterOrEqual(t, first, 50*time.Millisecond)
	require.Less(t, first, 100*time.Millisecond)
}
