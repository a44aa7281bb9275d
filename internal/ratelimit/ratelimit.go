// Package ratelimit spaces out requests per endpoint so a run stays inside
// the platform's requests-per-minute budget.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultRPM is the per-endpoint budget used when none is configured.
const DefaultRPM = 30

// Limiter holds one token bucket per endpoint key. A key is typically
// "METHOD path" so that list and create calls on the same resource are
// budgeted independently.
type Limiter struct {
	mu        sync.Mutex
	interval  time.Duration
	overrides map[string]time.Duration
	limiters  map[string]*rate.Limiter
}

// New returns a Limiter allowing rpm requests per minute on each endpoint.
// rpm <= 0 disables limiting.
func New(rpm int) *Limiter {
	return &Limiter{
		interval:  intervalFor(rpm),
		overrides: make(map[string]time.Duration),
		limiters:  make(map[string]*rate.Limiter),
	}
}

// SetRPM overrides the budget for a single endpoint key.
func (l *Limiter) SetRPM(endpoint string, rpm int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.overrides[endpoint] = intervalFor(rpm)
	delete(l.limiters, endpoint)
}

// Interval returns the minimum spacing enforced for endpoint.
func (l *Limiter) Interval(endpoint string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if d, ok := l.overrides[endpoint]; ok {
		return d
	}
	return l.interval
}

// Wait blocks until a request to endpoint may be issued. The first call per
// endpoint never blocks.
func (l *Limiter) Wait(ctx context.Context, endpoint string) error {
	lim := l.limiter(endpoint)
	if lim == nil {
		return nil
	}
	return lim.Wait(ctx)
}

func (l *Limiter) limiter(endpoint string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if lim, ok := l.limiters[endpoint]; ok {
		return lim
	}

	interval := l.interval
	if d, ok := l.overrides[endpoint]; ok {
		interval = d
	}
	if interval <= 0 {
		return nil
	}

	lim := rate.NewLimiter(rate.Every(interval), 1)
	l.limiters[endpoint] = lim
	return lim
}

func intervalFor(rpm int) time.Duration {
	if rpm <= 0 {
		return 0
	}
	return time.Minute / time.Duration(rpm)
}
