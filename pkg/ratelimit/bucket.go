// Package ratelimit provides token-bucket rate limiting primitives.
//
// It offers two levels of abstraction:
//   - Bucket: a single token bucket with lazy, time-based refill.
//   - KeyedLimiter: one Bucket per key, created on first use and kept for
//     the limiter's lifetime.
//
// ClientIPResolver extracts the client identity used as a key from HTTP
// requests, honouring X-Forwarded-For only from trusted proxies.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

// Bucket is a single token bucket rate limiter.
// It is safe for concurrent use.
type Bucket struct {
	tokens     float64
	maxTokens  float64
	rate       float64 // tokens per second
	lastUpdate time.Time
	now        func() time.Time
	mu         sync.Mutex
}

// BucketStats contains token bucket statistics.
type BucketStats struct {
	Available float64 `json:"available"`
	Max       float64 `json:"max"`
	Rate      float64 `json:"rate"`
}

// Decision is the result of one Take.
type Decision struct {
	Allowed bool
	// Limit is the bucket capacity.
	Limit int
	// Remaining is the whole number of tokens left after this decision.
	Remaining int
	// RetryAfter is how long until one token is available. Zero when allowed.
	RetryAfter time.Duration
	// Reset is how long until the bucket is full again.
	Reset time.Duration
}

// newBucket creates a full token bucket with the given rate (tokens/second)
// and burst (maximum tokens). A burst of zero defaults to the rate rounded
// up, and never less than one token.
func newBucket(rate float64, burst int, now func() time.Time) *Bucket {
	maxTokens := float64(burst)
	if maxTokens <= 0 {
		maxTokens = math.Max(1, math.Ceil(rate))
	}
	return &Bucket{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		rate:       rate,
		lastUpdate: now(),
		now:        now,
	}
}

// refill adds tokens based on elapsed time. Caller must hold b.mu.
func (b *Bucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastUpdate).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.rate
		if b.tokens > b.maxTokens {
			b.tokens = b.maxTokens
		}
	}
	b.lastUpdate = now
}

// untilTokens returns how long it takes to accumulate n more tokens.
// Caller must hold b.mu.
func (b *Bucket) untilTokens(n float64) time.Duration {
	if n <= 0 {
		return 0
	}
	if b.rate <= 0 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(n / b.rate * float64(time.Second))
}

// Take refills the bucket and tries to consume one token. Refill and
// consume happen in one critical section.
func (b *Bucket) Take() Decision {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill(b.now())

	d := Decision{Limit: int(b.maxTokens)}
	if b.tokens >= 1 {
		b.tokens--
		d.Allowed = true
	} else {
		d.RetryAfter = b.untilTokens(1 - b.tokens)
	}
	d.Remaining = int(b.tokens)
	d.Reset = b.untilTokens(b.maxTokens - b.tokens)
	return d
}

// Available returns the current number of tokens (including time-based refill).
func (b *Bucket) Available() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := b.now().Sub(b.lastUpdate).Seconds()
	return math.Min(b.tokens+elapsed*b.rate, b.maxTokens)
}

// Stats returns the current bucket statistics.
func (b *Bucket) Stats() BucketStats {
	return BucketStats{
		Available: b.Available(),
		Max:       b.maxTokens,
		Rate:      b.rate,
	}
}
