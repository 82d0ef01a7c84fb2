package chaos

import (
	"fmt"
	"net/http"
	"sync"
	"time"
)

// FaultInjector synthesizes error outcomes before the real handler runs and
// decides whether a real response should be truncated afterwards.
type FaultInjector struct {
	config FaultInjectionConfig
	rng    Rand
	now    func() time.Time

	// pattern state, only touched when config.ErrorPattern is set
	mu            sync.Mutex
	burstStart    time.Time
	burstInjected int
	sequenceIndex int
}

// NewFaultInjector creates a fault injector. A nil config yields a disabled
// injector. Configured statuses outside 400-599 are dropped so a fault can
// never produce a status the HTTP server refuses to write.
func NewFaultInjector(cfg *FaultInjectionConfig, rng Rand) *FaultInjector {
	if rng == nil {
		rng = globalRand{}
	}
	fi := &FaultInjector{rng: rng, now: time.Now}
	if cfg != nil {
		fi.config = *cfg
		fi.config.HTTPErrors = errorStatuses(cfg.HTTPErrors)
		if p := cfg.ErrorPattern; p != nil {
			pattern := *p
			pattern.Sequence = errorStatuses(p.Sequence)
			fi.config.ErrorPattern = &pattern
		}
	}
	return fi
}

// IsEnabled reports whether the injector can produce faults.
func (fi *FaultInjector) IsEnabled() bool {
	return fi != nil && fi.config.Enabled
}

// Inject returns a *Rejection with ReasonInjectedFault or ReasonTimeout when
// a fault fires, and nil otherwise.
func (fi *FaultInjector) Inject() error {
	if !fi.IsEnabled() {
		return nil
	}

	// A configured pattern decides alone; a miss injects nothing.
	if fi.config.ErrorPattern != nil {
		if code, ok := fi.checkPattern(*fi.config.ErrorPattern); ok {
			return newFaultRejection(code, fmt.Sprintf("injected HTTP error %d (%s pattern)", code, fi.config.ErrorPattern.Type))
		}
		return nil
	}

	if len(fi.config.HTTPErrors) > 0 && roll(fi.rng, fi.config.HTTPErrorProbability) {
		code := fi.pickErrorCode()
		return newFaultRejection(code, fmt.Sprintf("injected HTTP error %d", code))
	}

	if fi.config.ConnectionErrors && roll(fi.rng, fi.config.ConnectionErrorProbability) {
		return newFaultRejection(http.StatusServiceUnavailable, "injected connection error")
	}

	if fi.config.TimeoutErrors && roll(fi.rng, fi.config.TimeoutProbability) {
		return newTimeoutRejection(fi.config.TimeoutMs)
	}

	return nil
}

// ShouldTruncateResponse reports whether the current response should be cut
// at its midpoint to simulate a partial transfer.
func (fi *FaultInjector) ShouldTruncateResponse() bool {
	if !fi.IsEnabled() {
		return false
	}
	return roll(fi.rng, fi.config.TruncateProbability)
}

// pickErrorCode selects one configured status uniformly at random.
func (fi *FaultInjector) pickErrorCode() int {
	if len(fi.config.HTTPErrors) == 0 {
		return http.StatusInternalServerError
	}
	return fi.config.HTTPErrors[fi.rng.IntN(len(fi.config.HTTPErrors))]
}

// checkPattern evaluates the error pattern. Burst and sequential patterns
// carry state across requests, so they run under fi.mu.
func (fi *FaultInjector) checkPattern(p ErrorPattern) (int, bool) {
	switch p.Type {
	case PatternBurst:
		fi.mu.Lock()
		defer fi.mu.Unlock()

		now := fi.now()
		window := time.Duration(p.IntervalMs) * time.Millisecond
		if fi.burstStart.IsZero() || now.Sub(fi.burstStart) >= window {
			fi.burstStart = now
			fi.burstInjected = 0
		}
		if fi.burstInjected >= p.Count {
			return 0, false
		}
		fi.burstInjected++
		return fi.pickErrorCode(), true

	case PatternSequential:
		if len(p.Sequence) == 0 {
			return 0, false
		}
		fi.mu.Lock()
		defer fi.mu.Unlock()

		code := p.Sequence[fi.sequenceIndex%len(p.Sequence)]
		fi.sequenceIndex = (fi.sequenceIndex + 1) % len(p.Sequence)
		return code, true

	case PatternRandom:
		if roll(fi.rng, p.Probability) {
			return fi.pickErrorCode(), true
		}
	}
	return 0, false
}
