package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterThrottlesConfiguredAPI(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: map[string]float64{"places": 10}, Burst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "places"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "places"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiterKeepsAPIsIndependent(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: map[string]float64{"places": 1, "hunter": 1}})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "places"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "hunter"))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterUnlimitedByDefault(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	start := time.Now()
	for i := 0; i < 20; i++ {
		require.NoError(t, l.Wait(context.Background(), "mailgun"))
	}
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterHonorsContext(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: map[string]float64{"places": 0.01}})
	require.NoError(t, l.Wait(context.Background(), "places"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "places"))
}

func TestNilLimiterIsNoop(t *testing.T) {
	t.Parallel()

	var l *Limiter
	require.NoError(t, l.Wait(context.Background(), "places"))
}
