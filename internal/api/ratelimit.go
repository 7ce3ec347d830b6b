package api

import (
	"sync"

	"golang.org/x/time/rate"
)

const maxTrackedRequesters = 10000

// RateLimiter keeps one token bucket per requester
type RateLimiter struct {
	mu                sync.Mutex
	limiters          map[string]*rate.Limiter
	requestsPerSecond int
	burstSize         int
}

// NewRateLimiter creates a limiter; non-positive values fall back to 100/s with a burst of 200
func NewRateLimiter(requestsPerSecond, burst int) *RateLimiter {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 100
	}
	if burst <= 0 {
		burst = 2 * requestsPerSecond
	}
	return &RateLimiter{
		limiters:          make(map[string]*rate.Limiter),
		requestsPerSecond: requestsPerSecond,
		burstSize:         burst,
	}
}

// Allow reports whether requester may allocate now
func (rl *RateLimiter) Allow(requester string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	// MEMORY PROTECTION: Prevent unlimited growth
	if len(rl.limiters) >= maxTrackedRequesters {
		rl.limiters = make(map[string]*rate.Limiter)
	}

	limiter, exists := rl.limiters[requester]
	if !exists {
		limiter = rate.NewLimiter(rate.Limit(rl.requestsPerSecond), rl.burstSize)
		rl.limiters[requester] = limiter
	}

	return limiter.Allow()
}

// Limit returns the configured requests per second
func (rl *RateLimiter) Limit() int {
	return rl.requestsPerSecond
}
