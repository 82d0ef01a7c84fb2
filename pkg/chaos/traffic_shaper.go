package chaos

import (
	"context"
	"sync/atomic"
	"time"
)

// TrafficShaper simulates constrained network conditions: a cap on
// concurrent connections, limited bandwidth and random packet loss.
type TrafficShaper struct {
	enabled         bool
	maxConnections  int64
	bytesPerSecond  int64
	lossProbability float64
	rng             Rand

	active    atomic.Int64
	throttled atomic.Int64
	dropped   atomic.Int64
}

// NewTrafficShaper creates a traffic shaper. A nil or disabled config
// yields a shaper that never limits, delays or drops.
func NewTrafficShaper(cfg *TrafficShapingConfig, rng Rand) *TrafficShaper {
	if rng == nil {
		rng = globalRand{}
	}
	ts := &TrafficShaper{rng: rng}
	if cfg != nil && cfg.Enabled {
		ts.enabled = true
		ts.maxConnections = int64(cfg.MaxConnections)
		ts.bytesPerSecond = cfg.BandwidthBytesPerSecond
		ts.lossProbability = cfg.PacketLossProbability
	}
	return ts
}

// IsEnabled reports whether traffic shaping is active.
func (ts *TrafficShaper) IsEnabled() bool {
	return ts != nil && ts.enabled
}

// AcquireConnection counts one connection against the limit without
// blocking. Over the limit it returns a *Rejection with
// ReasonConnectionThrottled. A zero limit means unlimited.
func (ts *TrafficShaper) AcquireConnection() (*ConnectionGuard, error) {
	if !ts.IsEnabled() || ts.maxConnections <= 0 {
		return &ConnectionGuard{}, nil
	}
	for {
		cur := ts.active.Load()
		if cur >= ts.maxConnections {
			ts.throttled.Add(1)
			return nil, newConnectionRejection(cur, ts.maxConnections)
		}
		if ts.active.CompareAndSwap(cur, cur+1) {
			return &ConnectionGuard{shaper: ts}, nil
		}
	}
}

// ShouldDropPacket performs an independent Bernoulli draw against the
// packet loss probability.
func (ts *TrafficShaper) ShouldDropPacket() bool {
	if !ts.IsEnabled() {
		return false
	}
	if roll(ts.rng, ts.lossProbability) {
		ts.dropped.Add(1)
		return true
	}
	return false
}

// BandwidthDelay returns how long transferring n bytes takes at the
// configured bandwidth. Zero bandwidth means unlimited.
func (ts *TrafficShaper) BandwidthDelay(n int) time.Duration {
	if !ts.IsEnabled() || ts.bytesPerSecond <= 0 || n <= 0 {
		return 0
	}
	return time.Duration(float64(n) / float64(ts.bytesPerSecond) * float64(time.Second))
}

// ThrottleBandwidth suspends for the time n bytes take at the configured
// bandwidth. It returns ctx.Err() if ctx is done first.
func (ts *TrafficShaper) ThrottleBandwidth(ctx context.Context, n int) error {
	d := ts.BandwidthDelay(n)
	if d <= 0 {
		return nil
	}
	return sleepContext(ctx, d)
}

// ActiveConnections returns the number of connection guards held.
func (ts *TrafficShaper) ActiveConnections() int64 {
	return ts.active.Load()
}

// TrafficShaperStats contains statistics for a traffic shaper.
type TrafficShaperStats struct {
	ActiveConnections  int64   `json:"activeConnections"`
	MaxConnections     int64   `json:"maxConnections"`
	BytesPerSecond     int64   `json:"bytesPerSecond"`
	PacketLoss         float64 `json:"packetLossProbability"`
	ThrottledTotal     int64   `json:"throttledTotal"`
	DroppedPacketTotal int64   `json:"droppedPacketTotal"`
}

// Stats returns current statistics.
func (ts *TrafficShaper) Stats() TrafficShaperStats {
	return TrafficShaperStats{
		ActiveConnections:  ts.active.Load(),
		MaxConnections:     ts.maxConnections,
		BytesPerSecond:     ts.bytesPerSecond,
		PacketLoss:         ts.lossProbability,
		ThrottledTotal:     ts.throttled.Load(),
		DroppedPacketTotal: ts.dropped.Load(),
	}
}

// ConnectionGuard holds one connection slot of a TrafficShaper.
type ConnectionGuard struct {
	shaper   *TrafficShaper
	released atomic.Bool
}

// Release frees the connection slot exactly once. Safe on a nil guard.
func (g *ConnectionGuard) Release() {
	if g == nil || g.shaper == nil {
		return
	}
	if g.released.CompareAndSwap(false, true) {
		g.shaper.active.Add(-1)
	}
}
