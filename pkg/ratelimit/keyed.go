package ratelimit

import (
	"sync"
	"time"
)

// KeyedLimiter keeps one token bucket per key. Buckets are created lazily
// on first use and are never expired.
type KeyedLimiter struct {
	rate    float64
	burst   int
	now     func() time.Time
	buckets map[string]*Bucket
	mu      sync.RWMutex
}

// NewKeyedLimiter creates a limiter whose buckets refill at rate tokens per
// second and hold at most burst tokens. A burst of zero defaults to the rate
// rounded up, and at least one token.
func NewKeyedLimiter(rate float64, burst int) *KeyedLimiter {
	return NewKeyedLimiterWithClock(rate, burst, time.Now)
}

// NewKeyedLimiterWithClock is NewKeyedLimiter with an injectable time source.
func NewKeyedLimiterWithClock(rate float64, burst int, now func() time.Time) *KeyedLimiter {
	return &KeyedLimiter{
		rate:    rate,
		burst:   burst,
		now:     now,
		buckets: make(map[string]*Bucket),
	}
}

// bucket returns the bucket for key, creating it on first use.
func (l *KeyedLimiter) bucket(key string) *Bucket {
	l.mu.RLock()
	b, ok := l.buckets[key]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	// Double-check after acquiring write lock
	if b, ok = l.buckets[key]; !ok {
		b = newBucket(l.rate, l.burst, l.now)
		l.buckets[key] = b
	}
	return b
}

// Take consumes one token from the bucket for key.
func (l *KeyedLimiter) Take(key string) Decision {
	return l.bucket(key).Take()
}

// Len returns the number of keys that have a bucket.
func (l *KeyedLimiter) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.buckets)
}

// Stats returns a snapshot of every bucket by key.
func (l *KeyedLimiter) Stats() map[string]BucketStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]BucketStats, len(l.buckets))
	for key, b := range l.buckets {
		out[key] = b.Stats()
	}
	return out
}
