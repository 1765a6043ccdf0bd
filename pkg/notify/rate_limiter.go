package notify

import (
	"sync"
	"time"
)

// TokenBucket implements token bucket rate limiting for notifications.
// A burst of matches may spend up to maxMessages tokens at once; tokens
// refill evenly over the configured window.
type TokenBucket struct {
	capacity   int
	tokens     int
	refillRate time.Duration
	lastRefill time.Time
	mu         sync.Mutex
}

// NewTokenBucket creates a rate limiter allowing maxMessages per window.
func NewTokenBucket(maxMessages int, window time.Duration) *TokenBucket {
	refill := window
	if maxMessages > 0 {
		refill = window / time.Duration(maxMessages)
	}
	return &TokenBucket{
		capacity:   maxMessages,
		tokens:     maxMessages,
		refillRate: refill,
		lastRefill: time.Now(),
	}
}

// Allow reports whether one more notification fits under the rate limit,
// consuming a token when it does.
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	if tb.refillRate > 0 {
		elapsed := time.Since(tb.lastRefill)
		if refilled := int(elapsed / tb.refillRate); refilled > 0 {
			tb.tokens = min(tb.capacity, tb.tokens+refilled)
			tb.lastRefill = time.Now()
		}
	}

	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

// Reset restores the bucket to full capacity.
func (tb *TokenBucket) Reset() {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.tokens = tb.capacity
	tb.lastRefill = time.Now()
}
