package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// ──────────────────────────────────────────────────────────────────────────────
// Token Bucket Rate Limiter
// ──────────────────────────────────────────────────────────────────────────────

// bucket is a simple in-memory token bucket for one caller.
type bucket struct {
	tokens    float64
	lastRefil time.Time
	mu        sync.Mutex
}

// RateLimiter holds per-caller buckets and the shared read-write lock.
type RateLimiter struct {
	mu      sync.RWMutex
	buckets map[string]*bucket
	rate    float64 // tokens per second
	burst   float64 // maximum token capacity
	now     func() time.Time
}

// NewRateLimiter creates a rate limiter with the given requests-per-second
// allowance. The burst capacity is max(10, rps) so short spikes are absorbed.
func NewRateLimiter(rps int) *RateLimiter {
	if rps < 1 {
		rps = 1
	}
	burst := float64(rps)
	if burst < 10 {
		burst = 10
	}
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		rate:    float64(rps),
		burst:   burst,
		now:     time.Now,
	}
}

// Allow reports whether key may proceed and deducts one token from its
// bucket. When denied, wait is how long until the next token.
func (rl *RateLimiter) Allow(key string) (ok bool, wait time.Duration) {
	// Fast path: bucket exists
	rl.mu.RLock()
	b, found := rl.buckets[key]
	rl.mu.RUnlock()

	now := rl.now()
	if !found {
		// Slow path: create a new full bucket for this caller
		rl.mu.Lock()
		if b, found = rl.buckets[key]; !found {
			b = &bucket{tokens: rl.burst, lastRefil: now}
			rl.buckets[key] = b
		}
		rl.mu.Unlock()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := now.Sub(b.lastRefil).Seconds()
	b.tokens = math.Min(rl.burst, b.tokens+elapsed*rl.rate)
	b.lastRefil = now

	if b.tokens < 1 {
		return false, time.Duration((1 - b.tokens) / rl.rate * float64(time.Second))
	}
	b.tokens--
	return true, 0
}

// Evict drops buckets idle for longer than idle.
func (rl *RateLimiter) Evict(idle time.Duration) {
	cutoff := rl.now().Add(-idle)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, b := range rl.buckets {
		b.mu.Lock()
		if b.lastRefil.Before(cutoff) {
			delete(rl.buckets, key)
		}
		b.mu.Unlock()
	}
}

// RunEvictor evicts stale buckets every 5 minutes until ctx is cancelled, so
// the map cannot grow without bound.
func (rl *RateLimiter) RunEvictor(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.Evict(10 * time.Minute)
		}
	}
}

// callerKey prefers the authenticated identity so that callers behind one
// NAT do not share a bucket; anonymous requests are keyed by IP.
func callerKey(c *gin.Context) string {
	if id := GetIdentity(c); id != "" {
		return "id:" + id
	}
	return "ip:" + c.ClientIP()
}

// RateLimitMiddleware enforces rl per caller. Clients exceeding the limit
// receive 429 Too Many Requests with a Retry-After hint.
func RateLimitMiddleware(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, wait := rl.Allow(callerKey(c))
		if !ok {
			secs := int(math.Ceil(wait.Seconds()))
			if secs < 1 {
				secs = 1
			}
			c.Header("Retry-After", strconv.Itoa(secs))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"error":   "too many requests, please slow down",
				"code":    "ERR_RATE_LIMITED",
			})
			return
		}
		c.Next()
	}
}
