package ratelimit

import (
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestNewBucket_StartsFull(t *testing.T) {
	t.Parallel()
	b := newBucket(50, 10, newFakeClock().Now)

	stats := b.Stats()
	if stats.Rate != 50 {
		t.Errorf("expected rate 50, got %v", stats.Rate)
	}
	if stats.Max != 10 {
		t.Errorf("expected max 10, got %v", stats.Max)
	}
	if stats.Available < 9.9 {
		t.Errorf("expected bucket to start full (~10), got %v", stats.Available)
	}
}

func TestNewBucket_ZeroBurstDefaultsToRate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		rate float64
		want float64
	}{
		{25, 25},
		{2.5, 3},
		{0.5, 1},
		{0.01, 1},
	}
	for _, tt := range tests {
		b := newBucket(tt.rate, 0, newFakeClock().Now)
		if got := b.Stats().Max; got != tt.want {
			t.Errorf("rate %v: expected max %v, got %v", tt.rate, tt.want, got)
		}
	}
}

func TestTake_FractionalRateWithoutBurstAdmits(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	b := newBucket(0.5, 0, clock.Now)

	if !b.Take().Allowed {
		t.Fatal("first Take should succeed")
	}
	d := b.Take()
	if d.Allowed {
		t.Fatal("second Take should fail")
	}
	if d.RetryAfter != 2*time.Second {
		t.Errorf("expected RetryAfter 2s, got %v", d.RetryAfter)
	}

	clock.Advance(2 * time.Second)
	if !b.Take().Allowed {
		t.Error("Take should succeed after one refill interval")
	}
}

func TestTake_BurstThenReject(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	b := newBucket(1, 2, clock.Now)

	for i := 0; i < 2; i++ {
		if d := b.Take(); !d.Allowed {
			t.Fatalf("Take #%d should have succeeded", i+1)
		}
	}

	d := b.Take()
	if d.Allowed {
		t.Fatal("third Take within the same second should fail")
	}
	if d.RetryAfter <= 0 || d.RetryAfter > time.Second {
		t.Errorf("expected RetryAfter in (0, 1s], got %v", d.RetryAfter)
	}
	if d.Limit != 2 {
		t.Errorf("expected Limit 2, got %d", d.Limit)
	}
	if d.Remaining != 0 {
		t.Errorf("expected Remaining 0, got %d", d.Remaining)
	}
}

func TestTake_RefillsWithElapsedTime(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	b := newBucket(10, 1, clock.Now)

	if !b.Take().Allowed {
		t.Fatal("first Take should succeed")
	}
	if b.Take().Allowed {
		t.Fatal("second Take should fail immediately")
	}

	clock.Advance(100 * time.Millisecond)

	if !b.Take().Allowed {
		t.Error("Take should succeed after one refill interval")
	}
}

func TestTake_NeverExceedsCapacity(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	b := newBucket(100, 3, clock.Now)

	clock.Advance(time.Hour)

	if avail := b.Available(); avail != 3 {
		t.Errorf("expected Available capped at 3, got %v", avail)
	}

	allowed := 0
	for i := 0; i < 10; i++ {
		if b.Take().Allowed {
			allowed++
		}
	}
	if allowed != 3 {
		t.Errorf("expected exactly 3 admissions after long idle, got %d", allowed)
	}
}

func TestTake_AdmissionBoundOverWindow(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	const capacity, rate = 5, 10.0
	b := newBucket(rate, capacity, clock.Now)

	allowed := 0
	// 2 seconds in 10ms steps, 3 attempts per step.
	for step := 0; step < 200; step++ {
		for i := 0; i < 3; i++ {
			if b.Take().Allowed {
				allowed++
			}
		}
		clock.Advance(10 * time.Millisecond)
	}

	limit := capacity + int(2*rate)
	if allowed > limit {
		t.Errorf("admitted %d, bound is %d", allowed, limit)
	}
	if allowed < limit-1 {
		t.Errorf("admitted %d, expected close to %d", allowed, limit)
	}
}

func TestBucket_ConcurrentTakeNeverOverAdmits(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	b := newBucket(1, 50, clock.Now)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.Take().Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 50 {
		t.Errorf("expected exactly 50 admissions, got %d", allowed)
	}
	if avail := b.Available(); avail < 0 {
		t.Errorf("tokens went negative: %v", avail)
	}
}
