package chaos

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatencyInjector_Delay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  *LatencyConfig
		rng  *seqRand
		want time.Duration
	}{
		{
			name: "nil config",
			want: 0,
		},
		{
			name: "disabled",
			cfg:  &LatencyConfig{Enabled: false, FixedDelayMs: 100, Probability: 1},
			want: 0,
		},
		{
			name: "fixed delay",
			cfg:  &LatencyConfig{Enabled: true, FixedDelayMs: 100, Probability: 1},
			want: 100 * time.Millisecond,
		},
		{
			name: "probability zero never fires",
			cfg:  &LatencyConfig{Enabled: true, FixedDelayMs: 100, Probability: 0},
			want: 0,
		},
		{
			name: "jitter adds up to percent of base",
			cfg:  &LatencyConfig{Enabled: true, FixedDelayMs: 100, JitterPercent: 10, Probability: 1},
			rng:  &seqRand{ints: []int{7}},
			want: 107 * time.Millisecond,
		},
		{
			name: "random range replaces fixed delay",
			cfg:  &LatencyConfig{Enabled: true, FixedDelayMs: 999, RandomDelayRangeMs: []int{10, 20}, Probability: 1},
			rng:  &seqRand{ints: []int{4}},
			want: 14 * time.Millisecond,
		},
		{
			name: "probability roll misses",
			cfg:  &LatencyConfig{Enabled: true, FixedDelayMs: 100, Probability: 0.5},
			rng:  &seqRand{floats: []float64{0.7}},
			want: 0,
		},
		{
			name: "probability roll hits",
			cfg:  &LatencyConfig{Enabled: true, FixedDelayMs: 100, Probability: 0.5},
			rng:  &seqRand{floats: []float64{0.2}},
			want: 100 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rng Rand
			if tt.rng != nil {
				rng = tt.rng
			}
			li := NewLatencyInjector(tt.cfg, rng)
			assert.Equal(t, tt.want, li.Delay())
		})
	}
}

func TestLatencyInjector_ProbabilityOneAlwaysFires(t *testing.T) {
	t.Parallel()
	li := NewLatencyInjector(&LatencyConfig{Enabled: true, FixedDelayMs: 5, Probability: 1}, nil)
	for i := 0; i < 1000; i++ {
		require.Equal(t, 5*time.Millisecond, li.Delay())
	}
}

func TestLatencyInjector_JitterStaysInRange(t *testing.T) {
	t.Parallel()
	li := NewLatencyInjector(&LatencyConfig{Enabled: true, FixedDelayMs: 100, JitterPercent: 50, Probability: 1}, nil)
	for i := 0; i < 1000; i++ {
		d := li.Delay()
		require.GreaterOrEqual(t, d, 100*time.Millisecond)
		require.LessOrEqual(t, d, 150*time.Millisecond)
	}
}

func TestLatencyInjector_Inject(t *testing.T) {
	t.Parallel()
	li := NewLatencyInjector(&LatencyConfig{Enabled: true, FixedDelayMs: 20, Probability: 1}, nil)

	start := time.Now()
	d, err := li.Inject(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 20*time.Millisecond, d)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestLatencyInjector_InjectCancelled(t *testing.T) {
	t.Parallel()
	li := NewLatencyInjector(&LatencyConfig{Enabled: true, FixedDelayMs: 10_000, Probability: 1}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := li.Inject(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestLatencyInjector_InjectScaled(t *testing.T) {
	t.Parallel()
	li := NewLatencyInjector(&LatencyConfig{Enabled: true, FixedDelayMs: 100, Probability: 1}, nil)

	d, err := li.InjectScaled(context.Background(), 0.1)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Millisecond, d)
}
