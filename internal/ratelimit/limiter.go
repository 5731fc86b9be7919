// Package ratelimit throttles outbound calls per external API with token buckets.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/outreach-pipeline/internal/metrics"
)

// Config holds rate limiter configuration.
type Config struct {
	// RPS per API; zero or negative disables throttling for that API.
	RPS   map[string]float64
	Burst int
}

// Limiter manages one token bucket per API name.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      map[string]float64
	burst    int
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	rps := make(map[string]float64, len(cfg.RPS))
	for k, v := range cfg.RPS {
		rps[k] = v
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rps,
		burst:    burst,
	}
}

// Wait blocks until the named API may be called again.
func (l *Limiter) Wait(ctx context.Context, api string) error {
	if l == nil {
		return nil
	}
	limiter := l.limiterFor(api)
	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(api, waited)
	}
	return nil
}

func (l *Limiter) limiterFor(api string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[api]
	if !ok {
		limit := rate.Inf
		if r := l.rps[api]; r > 0 {
			limit = rate.Limit(r)
		}
		limiter = rate.NewLimiter(limit, l.burst)
		l.limiters[api] = limiter
	}
	return limiter
}
