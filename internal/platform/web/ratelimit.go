package web

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// Default cleanup intervals.
const (
	cleanupInterval = 1 * time.Minute
	visitorTimeout  = 3 * time.Minute
)

// visitor is the token bucket state of one client key (usually an IP).
type visitor struct {
	// mu protects this visitor's state so different clients never contend.
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// RateLimiter manages rate limiting for multiple clients using a Token Bucket algorithm.
type RateLimiter struct {
	// mu protects the visitors map (adding/removing clients).
	mu       sync.RWMutex
	visitors map[string]*visitor

	// rate is the number of tokens added per second.
	rate float64
	// capacity is the max burst size.
	capacity float64

	now func() time.Time
}

// NewRateLimiter creates a RateLimiter. Call Run to evict idle visitors.
func NewRateLimiter(rate, capacity float64) *RateLimiter {
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate,
		capacity: capacity,
		now:      time.Now,
	}
}

// getVisitor retrieves or creates the bucket for key.
func (rl *RateLimiter) getVisitor(key string) *visitor {
	// 1. Fast Path: Read Lock
	rl.mu.RLock()
	v, exists := rl.visitors[key]
	rl.mu.RUnlock()

	if exists {
		return v
	}

	// 2. Slow Path: Write Lock (Create new visitor)
	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Double-check
	if v, exists = rl.visitors[key]; !exists {
		v = &visitor{
			tokens:     rl.capacity, // Start full
			lastRefill: rl.now(),
		}
		rl.visitors[key] = v
	}
	return v
}

// Allow reports whether key may perform one more action now.
// Implements the "Lazy Refill" algorithm.
func (rl *RateLimiter) Allow(key string) bool {
	v := rl.getVisitor(key)

	v.mu.Lock()
	defer v.mu.Unlock()

	now := rl.now()

	// 1. Refill tokens based on elapsed time (Lazy Refill)
	tokensToAdd := now.Sub(v.lastRefill).Seconds() * rl.rate
	if tokensToAdd > 0 {
		v.tokens += tokensToAdd
		if v.tokens > rl.capacity {
			v.tokens = rl.capacity
		}
		v.lastRefill = now
	}

	// 2. Consume token
	if v.tokens >= 1.0 {
		v.tokens--
		return true
	}
	return false
}

// Run evicts idle visitors every minute until ctx is done.
func (rl *RateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.evictIdle(visitorTimeout)
		}
	}
}

// evictIdle removes visitors that have not been refilled within idle.
func (rl *RateLimiter) evictIdle(idle time.Duration) {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, v := range rl.visitors {
		v.mu.Lock()
		if now.Sub(v.lastRefill) > idle {
			delete(rl.visitors, key)
		}
		v.mu.Unlock()
	}
}

// Middleware wraps an http.HandlerFunc to enforce rate limits per client IP.
func (rl *RateLimiter) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(ClientIP(r)) {
			WriteError(w, http.StatusTooManyRequests, "Too Many Requests")
			return
		}
		next(w, r)
	}
}
