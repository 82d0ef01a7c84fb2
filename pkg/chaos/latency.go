package chaos

import (
	"context"
	"time"
)

// LatencyInjector adds configured delay before a unit of work proceeds.
// It holds no state besides its config snapshot and random source.
type LatencyInjector struct {
	config LatencyConfig
	rng    Rand
}

// NewLatencyInjector creates a latency injector. A nil config yields a
// disabled injector.
func NewLatencyInjector(cfg *LatencyConfig, rng Rand) *LatencyInjector {
	if rng == nil {
		rng = globalRand{}
	}
	li := &LatencyInjector{rng: rng}
	if cfg != nil {
		li.config = *cfg
	}
	return li
}

// IsEnabled reports whether the injector can add delay.
func (li *LatencyInjector) IsEnabled() bool {
	return li != nil && li.config.Enabled
}

// Delay draws the delay for one unit of work. It returns zero when the
// injector is disabled or the probability roll misses.
func (li *LatencyInjector) Delay() time.Duration {
	if !li.IsEnabled() || !roll(li.rng, li.config.Probability) {
		return 0
	}

	base := li.config.FixedDelayMs
	if r := li.config.RandomDelayRangeMs; len(r) == 2 {
		base = r[0]
		if span := r[1] - r[0]; span > 0 {
			base += li.rng.IntN(span + 1)
		}
	}

	delay := time.Duration(base) * time.Millisecond
	if li.config.JitterPercent > 0 && base > 0 {
		jitterMs := int(float64(base) * li.config.JitterPercent / 100)
		if jitterMs > 0 {
			delay += time.Duration(li.rng.IntN(jitterMs+1)) * time.Millisecond
		}
	}
	return delay
}

// Inject suspends for a freshly drawn delay and returns it. If ctx is
// cancelled first, Inject returns ctx.Err().
func (li *LatencyInjector) Inject(ctx context.Context) (time.Duration, error) {
	return li.InjectScaled(ctx, 1)
}

// InjectScaled is Inject with the drawn delay multiplied by fraction. Field
// resolvers use it, since many of them run per top-level operation.
func (li *LatencyInjector) InjectScaled(ctx context.Context, fraction float64) (time.Duration, error) {
	delay := li.Delay()
	if fraction != 1 {
		delay = time.Duration(float64(delay) * fraction)
	}
	if delay <= 0 {
		return 0, nil
	}
	return delay, sleepContext(ctx, delay)
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
