package chaos

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrafficShaper_ConnectionLimit(t *testing.T) {
	t.Parallel()
	ts := NewTrafficShaper(&TrafficShapingConfig{Enabled: true, MaxConnections: 1}, nil)

	g1, err := ts.AcquireConnection()
	require.NoError(t, err)

	_, err = ts.AcquireConnection()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConnectionThrottled))

	g1.Release()
	g1.Release()
	assert.Equal(t, int64(0), ts.ActiveConnections(), "double release must decrement once")

	g2, err := ts.AcquireConnection()
	require.NoError(t, err)
	g2.Release()
	assert.Equal(t, int64(1), ts.Stats().ThrottledTotal)
}

func TestTrafficShaper_ZeroMaxConnectionsIsUnlimited(t *testing.T) {
	t.Parallel()
	ts := NewTrafficShaper(&TrafficShapingConfig{Enabled: true}, nil)

	for i := 0; i < 50; i++ {
		_, err := ts.AcquireConnection()
		require.NoError(t, err)
	}
}

func TestTrafficShaper_PacketLossExtremes(t *testing.T) {
	t.Parallel()

	never := NewTrafficShaper(&TrafficShapingConfig{Enabled: true, PacketLossProbability: 0}, nil)
	always := NewTrafficShaper(&TrafficShapingConfig{Enabled: true, PacketLossProbability: 1}, nil)
	for i := 0; i < 1000; i++ {
		assert.False(t, never.ShouldDropPacket())
		assert.True(t, always.ShouldDropPacket())
	}
	assert.Equal(t, int64(1000), always.Stats().DroppedPacketTotal)
}

func TestTrafficShaper_PacketLossUsesRand(t *testing.T) {
	t.Parallel()
	rng := &seqRand{floats: []float64{0.1, 0.9}}
	ts := NewTrafficShaper(&TrafficShapingConfig{Enabled: true, PacketLossProbability: 0.5}, rng)

	assert.True(t, ts.ShouldDropPacket())
	assert.False(t, ts.ShouldDropPacket())
}

func TestTrafficShaper_BandwidthDelay(t *testing.T) {
	t.Parallel()
	ts := NewTrafficShaper(&TrafficShapingConfig{Enabled: true, BandwidthBytesPerSecond: 1000}, nil)

	assert.Equal(t, time.Second, ts.BandwidthDelay(1000))
	assert.Equal(t, 50*time.Millisecond, ts.BandwidthDelay(50))
	assert.Zero(t, ts.BandwidthDelay(0))

	unlimited := NewTrafficShaper(&TrafficShapingConfig{Enabled: true}, nil)
	assert.Zero(t, unlimited.BandwidthDelay(1<<20))
}

func TestTrafficShaper_ThrottleBandwidth(t *testing.T) {
	t.Parallel()
	ts := NewTrafficShaper(&TrafficShapingConfig{Enabled: true, BandwidthBytesPerSecond: 1000}, nil)

	start := time.Now()
	require.NoError(t, ts.ThrottleBandwidth(context.Background(), 20))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestTrafficShaper_ThrottleHonoursCancellation(t *testing.T) {
	t.Parallel()
	ts := NewTrafficShaper(&TrafficShapingConfig{Enabled: true, BandwidthBytesPerSecond: 1}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := ts.ThrottleBandwidth(ctx, 100)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestTrafficShaper_Disabled(t *testing.T) {
	t.Parallel()
	ts := NewTrafficShaper(&TrafficShapingConfig{Enabled: false, MaxConnections: 1, PacketLossProbability: 1}, nil)

	assert.False(t, ts.IsEnabled())
	assert.False(t, ts.ShouldDropPacket())
	for i := 0; i < 5; i++ {
		_, err := ts.AcquireConnection()
		require.NoError(t, err)
	}
}
