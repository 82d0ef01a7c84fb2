package chaos

import (
	"sync"
	"time"
)

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

// seqRand returns queued values, then repeats the last one.
type seqRand struct {
	mu     sync.Mutex
	floats []float64
	ints   []int
}

func (r *seqRand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.floats) == 0 {
		return 0
	}
	v := r.floats[0]
	if len(r.floats) > 1 {
		r.floats = r.floats[1:]
	}
	return v
}

func (r *seqRand) IntN(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.ints) == 0 {
		return 0
	}
	v := r.ints[0]
	if len(r.ints) > 1 {
		r.ints = r.ints[1:]
	}
	return v % n
}

func newTestBreaker(cfg CircuitBreakerConfig, clock *fakeClock) *CircuitBreaker {
	cb := NewCircuitBreaker(cfg)
	cb.now = clock.Now
	cb.lastStateChange = clock.Now()
	return cb
}
