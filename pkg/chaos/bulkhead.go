package chaos

import "sync/atomic"

// Bulkhead caps the number of units of work in flight. Acquisition is a
// single compare-and-increment on the occupancy counter, so occupancy never
// exceeds the maximum under concurrent callers.
type Bulkhead struct {
	maxConcurrency int64
	occupancy      atomic.Int64

	admitted atomic.Int64
	rejected atomic.Int64
}

// NewBulkhead creates a bulkhead. A nil config or a MaxConcurrency of zero
// yields a bulkhead that admits everything and never tracks occupancy.
func NewBulkhead(cfg *BulkheadConfig) *Bulkhead {
	b := &Bulkhead{}
	if cfg != nil && cfg.MaxConcurrency > 0 {
		b.maxConcurrency = int64(cfg.MaxConcurrency)
	}
	return b
}

// IsEnabled reports whether the bulkhead limits concurrency.
func (b *Bulkhead) IsEnabled() bool {
	return b != nil && b.maxConcurrency > 0
}

// TryAcquire takes one slot without blocking. When all slots are occupied it
// returns a *Rejection with ReasonBulkheadRejected carrying the occupancy.
func (b *Bulkhead) TryAcquire() (*Slot, error) {
	if !b.IsEnabled() {
		return &Slot{}, nil
	}
	for {
		cur := b.occupancy.Load()
		if cur >= b.maxConcurrency {
			b.rejected.Add(1)
			return nil, newBulkheadRejection(cur, b.maxConcurrency)
		}
		if b.occupancy.CompareAndSwap(cur, cur+1) {
			b.admitted.Add(1)
			return &Slot{bulkhead: b}, nil
		}
	}
}

// Occupancy returns the number of slots currently held.
func (b *Bulkhead) Occupancy() int64 {
	return b.occupancy.Load()
}

// BulkheadStats contains statistics for a bulkhead.
type BulkheadStats struct {
	Occupancy      int64 `json:"occupancy"`
	MaxConcurrency int64 `json:"maxConcurrency"`
	Admitted       int64 `json:"admitted"`
	Rejected       int64 `json:"rejected"`
}

// Stats returns current statistics.
func (b *Bulkhead) Stats() BulkheadStats {
	return BulkheadStats{
		Occupancy:      b.occupancy.Load(),
		MaxConcurrency: b.maxConcurrency,
		Admitted:       b.admitted.Load(),
		Rejected:       b.rejected.Load(),
	}
}

// Slot is exclusive ownership of one bulkhead occupancy unit.
type Slot struct {
	bulkhead *Bulkhead
	released atomic.Bool
}

// Release gives the slot back. Only the first call decrements occupancy;
// later calls are no-ops. Release on a nil Slot is safe.
func (s *Slot) Release() {
	if s == nil || s.bulkhead == nil {
		return
	}
	if s.released.CompareAndSwap(false, true) {
		s.bulkhead.occupancy.Add(-1)
	}
}
