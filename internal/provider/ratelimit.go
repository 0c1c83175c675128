package provider

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per vendor host.
type RateLimiter struct {
	limiters   map[string]*rate.Limiter
	mu         sync.RWMutex
	rateLimit  rate.Limit
	burstLimit int
}

// NewRateLimiter creates a limiter allowing ratePerSecond requests per host
// with the given burst.
func NewRateLimiter(ratePerSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiters:   make(map[string]*rate.Limiter),
		rateLimit:  rate.Limit(ratePerSecond),
		burstLimit: burst,
	}
}

// DefaultRateLimiter allows 2 requests/second per host, burst of 4.
// Balance endpoints are cheap but vendors throttle them aggressively.
func DefaultRateLimiter() *RateLimiter {
	return NewRateLimiter(2, 4)
}

// Allow reports whether a request to host may proceed now.
func (r *RateLimiter) Allow(host string) bool {
	return r.limiter(host).Allow()
}

// Wait blocks until a request to host is allowed or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context, host string) error {
	return r.limiter(host).Wait(ctx)
}

func (r *RateLimiter) limiter(host string) *rate.Limiter {
	r.mu.RLock()
	l, ok := r.limiters[host]
	r.mu.RUnlock()
	if ok {
		return l
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if l, ok = r.limiters[host]; ok {
		return l
	}
	l = rate.NewLimiter(r.rateLimit, r.burstLimit)
	r.limiters[host] = l
	return l
}
