package common

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter paces calls to a remote service. A non-positive rate disables
// pacing entirely.
type RateLimiter struct {
	limiter *rate.Limiter
	mu      sync.RWMutex // Protects concurrent access to the limiter
}

// NewRateLimiter creates a RateLimiter with the specified requests per second (rps)
// and burst size.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{limiter: rate.NewLimiter(toLimit(rps), max(burst, 1))}
}

// Wait blocks until the rate limiter allows an event or the context is canceled.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return rl.limiter.Wait(ctx)
}

// UpdateLimits adjusts the requests per second and burst size at runtime.
func (rl *RateLimiter) UpdateLimits(rps float64, burst int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.limiter.SetLimit(toLimit(rps))
	rl.limiter.SetBurst(max(burst, 1))
}

func toLimit(rps float64) rate.Limit {
	if rps <= 0 {
		return rate.Inf
	}
	return rate.Limit(rps)
}
