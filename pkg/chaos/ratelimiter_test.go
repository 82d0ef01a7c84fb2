package chaos

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool { return &b }

func TestRateLimiter_BurstThenReject(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	rl := newRateLimiter(&RateLimitConfig{Enabled: true, RequestsPerSecond: 1, BurstSize: 2}, clock.Now)

	require.NoError(t, rl.Check("10.0.0.1", "/orders"))
	require.NoError(t, rl.Check("10.0.0.1", "/orders"))

	err := rl.Check("10.0.0.1", "/orders")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRateLimitExceeded))

	rej, ok := AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, time.Second, rej.RetryAfter)

	clock.Advance(time.Second)
	assert.NoError(t, rl.Check("10.0.0.1", "/orders"))
}

func TestRateLimiter_Keys(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		perClient *bool
		perRoute  *bool
		client    string
		route     string
		want      string
	}{
		{name: "client and route", client: "c", route: "/r", want: "c|/r"},
		{name: "client only", client: "c", want: "c|"},
		{name: "route only", route: "/r", want: "|/r"},
		{name: "both absent", want: GlobalRateLimitKey},
		{name: "per route disabled", perRoute: boolPtr(false), client: "c", route: "/r", want: "c|"},
		{name: "all disabled", perClient: boolPtr(false), perRoute: boolPtr(false), client: "c", route: "/r", want: GlobalRateLimitKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rl := NewRateLimiter(&RateLimitConfig{
				Enabled:           true,
				RequestsPerSecond: 1,
				PerClient:         tt.perClient,
				PerRoute:          tt.perRoute,
			})
			assert.Equal(t, tt.want, rl.Key(tt.client, tt.route))
		})
	}
}

func TestRateLimiter_KeysAreIsolated(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	rl := newRateLimiter(&RateLimitConfig{Enabled: true, RequestsPerSecond: 1, BurstSize: 1}, clock.Now)

	require.NoError(t, rl.Check("a", "/x"))
	require.Error(t, rl.Check("a", "/x"))
	assert.NoError(t, rl.Check("b", "/x"))
	assert.NoError(t, rl.Check("a", "/y"))
	assert.Equal(t, 3, rl.Keys())
}

func TestRateLimiter_Disabled(t *testing.T) {
	t.Parallel()
	for _, cfg := range []*RateLimitConfig{nil, {Enabled: false, RequestsPerSecond: 1, BurstSize: 1}} {
		rl := NewRateLimiter(cfg)
		for i := 0; i < 10; i++ {
			require.NoError(t, rl.Check("c", "/r"))
		}
		assert.Zero(t, rl.Keys())
	}
}

func TestRateLimiter_FractionalRateWithoutBurst(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	rl := newRateLimiter(&RateLimitConfig{Enabled: true, RequestsPerSecond: 0.5}, clock.Now)

	require.NoError(t, rl.Check("c", "/r"), "first request fits a one-token bucket")
	rej, ok := AsRejection(rl.Check("c", "/r"))
	require.True(t, ok)
	assert.Equal(t, 2*time.Second, rej.RetryAfter)

	clock.Advance(2 * time.Second)
	assert.NoError(t, rl.Check("c", "/r"))

	buckets := rl.Buckets()
	require.Contains(t, buckets, "c|/r")
	assert.Equal(t, 1.0, buckets["c|/r"].Max)
	assert.Equal(t, 0.5, buckets["c|/r"].Rate)
}
