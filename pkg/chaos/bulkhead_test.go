package chaos

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestBulkhead_AcquireRejectRelease(t *testing.T) {
	t.Parallel()
	b := NewBulkhead(&BulkheadConfig{MaxConcurrency: 2})

	s1, err := b.TryAcquire()
	require.NoError(t, err)
	s2, err := b.TryAcquire()
	require.NoError(t, err)

	_, err = b.TryAcquire()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBulkheadRejected))
	rej, ok := AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, ReasonBulkheadRejected, rej.Reason)
	assert.Contains(t, rej.Detail, "2/2")

	s1.Release()
	s3, err := b.TryAcquire()
	require.NoError(t, err, "a released slot should be reusable")

	s2.Release()
	s3.Release()
	assert.Equal(t, int64(0), b.Occupancy())
}

func TestBulkhead_DoubleReleaseDecrementsOnce(t *testing.T) {
	t.Parallel()
	b := NewBulkhead(&BulkheadConfig{MaxConcurrency: 3})

	s1, _ := b.TryAcquire()
	_, _ = b.TryAcquire()
	require.Equal(t, int64(2), b.Occupancy())

	s1.Release()
	s1.Release()
	s1.Release()
	assert.Equal(t, int64(1), b.Occupancy())
}

func TestBulkhead_DisabledAdmitsEverything(t *testing.T) {
	t.Parallel()
	for _, cfg := range []*BulkheadConfig{nil, {MaxConcurrency: 0}} {
		b := NewBulkhead(cfg)
		assert.False(t, b.IsEnabled())
		for i := 0; i < 100; i++ {
			s, err := b.TryAcquire()
			require.NoError(t, err)
			s.Release()
		}
		assert.Equal(t, int64(0), b.Occupancy())
	}
}

func TestBulkhead_NilSlotReleaseIsSafe(t *testing.T) {
	t.Parallel()
	var s *Slot
	assert.NotPanics(t, s.Release)
}

func TestBulkhead_ConcurrentOccupancyStaysBounded(t *testing.T) {
	t.Parallel()
	const maxConcurrency = 4
	b := NewBulkhead(&BulkheadConfig{MaxConcurrency: maxConcurrency})

	var (
		peak     atomic.Int64
		admitted atomic.Int64
	)
	var g errgroup.Group
	for i := 0; i < 200; i++ {
		g.Go(func() error {
			slot, err := b.TryAcquire()
			if err != nil {
				if !errors.Is(err, ErrBulkheadRejected) {
					return err
				}
				return nil
			}
			defer slot.Release()
			admitted.Add(1)

			occ := b.Occupancy()
			for {
				cur := peak.Load()
				if occ <= cur || peak.CompareAndSwap(cur, occ) {
					break
				}
			}
			if occ < 0 || occ > maxConcurrency {
				return errors.New("occupancy out of bounds")
			}
			time.Sleep(time.Millisecond)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.LessOrEqual(t, peak.Load(), int64(maxConcurrency))
	assert.Positive(t, admitted.Load())
	assert.Equal(t, int64(0), b.Occupancy())

	stats := b.Stats()
	assert.Equal(t, admitted.Load(), stats.Admitted)
	assert.Equal(t, int64(200), stats.Admitted+stats.Rejected)
}
