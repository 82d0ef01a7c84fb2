package chaos

import (
	"time"

	"github.com/getmockd/mockd-chaos/pkg/ratelimit"
)

// GlobalRateLimitKey is the bucket key used when neither a client nor a
// route identity is available (or both are disabled in config).
const GlobalRateLimitKey = "global"

// RateLimiter applies per-key token-bucket admission control.
type RateLimiter struct {
	limiter   *ratelimit.KeyedLimiter
	perClient bool
	perRoute  bool
}

// NewRateLimiter creates a rate limiter. A nil or disabled config yields a
// limiter that admits everything.
func NewRateLimiter(cfg *RateLimitConfig) *RateLimiter {
	return newRateLimiter(cfg, time.Now)
}

func newRateLimiter(cfg *RateLimitConfig, now func() time.Time) *RateLimiter {
	if cfg == nil || !cfg.Enabled {
		return &RateLimiter{}
	}
	return &RateLimiter{
		limiter:   ratelimit.NewKeyedLimiterWithClock(cfg.RequestsPerSecond, cfg.BurstSize, now),
		perClient: boolOrDefault(cfg.PerClient, true),
		perRoute:  boolOrDefault(cfg.PerRoute, true),
	}
}

// IsEnabled reports whether the limiter restricts anything.
func (rl *RateLimiter) IsEnabled() bool {
	return rl != nil && rl.limiter != nil
}

// Key builds the composite bucket key for a client and route.
func (rl *RateLimiter) Key(clientKey, routeKey string) string {
	if !rl.perClient {
		clientKey = ""
	}
	if !rl.perRoute {
		routeKey = ""
	}
	if clientKey == "" && routeKey == "" {
		return GlobalRateLimitKey
	}
	return clientKey + "|" + routeKey
}

// Check consumes one token for the client/route pair. An empty bucket
// yields a *Rejection with ReasonRateLimitExceeded and a retry-after hint.
func (rl *RateLimiter) Check(clientKey, routeKey string) error {
	_, err := rl.Take(clientKey, routeKey)
	return err
}

// Take is Check that also returns the bucket decision, for adapters that
// report limit headers.
func (rl *RateLimiter) Take(clientKey, routeKey string) (ratelimit.Decision, error) {
	if !rl.IsEnabled() {
		return ratelimit.Decision{Allowed: true}, nil
	}
	key := rl.Key(clientKey, routeKey)
	d := rl.limiter.Take(key)
	if !d.Allowed {
		return d, newRateLimitRejection(key, d.RetryAfter)
	}
	return d, nil
}

// Keys returns the number of buckets created so far.
func (rl *RateLimiter) Keys() int {
	if !rl.IsEnabled() {
		return 0
	}
	return rl.limiter.Len()
}

// Buckets returns a snapshot of every bucket by composite key.
func (rl *RateLimiter) Buckets() map[string]ratelimit.BucketStats {
	if !rl.IsEnabled() {
		return nil
	}
	return rl.limiter.Stats()
}
