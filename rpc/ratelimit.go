package rpc

import (
	"sync"

	"golang.org/x/time/rate"
)

// rateLimiter keeps a token bucket per client address.
type rateLimiter struct {
	mu       sync.Mutex
	rps      float64
	burst    int
	visitors map[string]*rate.Limiter
}

func newRateLimiter(rps float64, burst int) *rateLimiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	return &rateLimiter{
		rps:      rps,
		burst:    burst,
		visitors: make(map[string]*rate.Limiter),
	}
}

func (l *rateLimiter) allow(source string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	limiter, ok := l.visitors[source]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(l.rps), l.burst)
		l.visitors[source] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow()
}
