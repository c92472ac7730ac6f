package metadata

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/echo-music/echo-server/internal/errors"
)

// RateLimiter enforces a minimum interval between requests per source. Burst
// is 1, so the first call on a fresh limiter proceeds immediately and each
// subsequent call waits out the remainder of the interval.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	interval map[string]time.Duration
	fallback time.Duration // interval for sources never configured
}

// NewRateLimiter returns a limiter that applies fallbackInterval to sources
// without an explicit configuration.
func NewRateLimiter(fallbackInterval time.Duration) *RateLimiter {
	if fallbackInterval <= 0 {
		fallbackInterval = 500 * time.Millisecond
	}
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		interval: make(map[string]time.Duration),
		fallback: fallbackInterval,
	}
}

// Configure sets the minimum interval for a source. Reconfiguring an existing
// source replaces its limiter.
func (l *RateLimiter) Configure(source string, interval time.Duration) {
	if interval <= 0 {
		interval = l.fallback
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.interval[source] = interval
	l.limiters[source] = rate.NewLimiter(rate.Every(interval), 1)
}

// WaitForSlot blocks until the source may issue its next request or the
// context is done.
func (l *RateLimiter) WaitForSlot(ctx context.Context, source string) error {
	l.mu.Lock()
	lim, ok := l.limiters[source]
	if !ok {
		lim = rate.NewLimiter(rate.Every(l.fallback), 1)
		l.limiters[source] = lim
		l.interval[source] = l.fallback
	}
	l.mu.Unlock()

	if err := lim.Wait(ctx); err != nil {
		return errors.New(err).
			Component("metadata").
			Category(errors.CategoryLimit).
			Context("source", source).
			Build()
	}
	return nil
}

// Interval returns the configured interval for a source.
func (l *RateLimiter) Interval(source string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if iv, ok := l.interval[source]; ok {
		return iv
	}
	return l.fallback
}
