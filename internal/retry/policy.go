// Package retry implements the bounded exponential backoff shared by the
// discovery and enrichment stages.
package retry

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/JakeFAU/outreach-pipeline/internal/apperr"
)

// Policy retries an operation with jittered exponential backoff.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Retryable classifies errors; nil means apperr.IsTransient.
	Retryable func(error) bool
	// OnRetry is called before each backoff sleep.
	OnRetry func(attempt int, wait time.Duration, err error)

	sleep func(context.Context, time.Duration) error
}

// Default returns the policy used when config leaves retry settings unset.
func Default() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
	}
}

// ShouldRetry decides whether the error is retryable at the given 1-based attempt.
func (p Policy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.attempts() {
		return false
	}
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return apperr.IsTransient(err)
}

// Backoff returns the wait before the attempt following attempt.
func (p Policy) Backoff(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	half := time.Duration(delay / 2)
	return half + jitter(half)
}

// Do runs op until it succeeds, returns a non-retryable error, or attempts run out.
func (p Policy) Do(ctx context.Context, op func(context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if !p.ShouldRetry(err, attempt) {
			return err
		}
		wait := p.Backoff(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, wait, err)
		}
		if sleepErr := p.doSleep(ctx, wait); sleepErr != nil {
			return fmt.Errorf("retry aborted after attempt %d: %w", attempt, err)
		}
	}
}

// WithSleep swaps the backoff sleeper; tests use it to skip real waits.
func (p Policy) WithSleep(fn func(context.Context, time.Duration) error) Policy {
	p.sleep = fn
	return p
}

func (p Policy) attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

func (p Policy) doSleep(ctx context.Context, d time.Duration) error {
	if p.sleep != nil {
		return p.sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func jitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
