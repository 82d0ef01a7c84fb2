package chaos

import (
	"sync"
	"time"
)

// CircuitState represents the current state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed is the normal operating state; requests pass through.
	CircuitClosed CircuitState = iota
	// CircuitOpen is the tripped state; all requests are rejected.
	CircuitOpen
	// CircuitHalfOpen is the recovery-testing state; probation requests pass through.
	CircuitHalfOpen
)

// String returns the human-readable state name.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// StateChangeFunc is called after every circuit state transition, outside
// the breaker's lock.
type StateChangeFunc func(from, to CircuitState)

// CircuitBreaker implements a consecutive-failure circuit breaker.
//
// States:
//   - CLOSED: Requests pass through. failureThreshold consecutive failures → OPEN.
//   - OPEN: All requests rejected. After openDuration, the next Allow → HALF_OPEN.
//   - HALF_OPEN: Up to halfOpenMaxRequests trials in flight. successThreshold
//     consecutive successes → CLOSED. Any failure → OPEN.
//
// All compound state lives under one mutex; Allow and Record* are short
// critical sections with no I/O.
type CircuitBreaker struct {
	mu     sync.Mutex
	config CircuitBreakerConfig
	now    func() time.Time

	onStateChange StateChangeFunc

	state                CircuitState
	consecutiveFailures  int
	consecutiveSuccesses int
	halfOpenInFlight     int
	lastStateChange      time.Time
	generation           uint64

	// Stats
	totalRequests      int64
	successfulRequests int64
	failedRequests     int64
	rejectedRequests   int64
	totalTrips         int64
	stateChanges       int64
}

// NewCircuitBreaker creates a closed circuit breaker. cfg is expected to be
// clamped; zero thresholds fall back to defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.SuccessThreshold < 1 {
		cfg.SuccessThreshold = DefaultSuccessThreshold
	}
	if cfg.OpenDurationMs <= 0 {
		cfg.OpenDurationMs = DefaultOpenDurationMs
	}
	if cfg.HalfOpenMaxRequests < 1 {
		cfg.HalfOpenMaxRequests = DefaultHalfOpenMaxRequests
	}
	return &CircuitBreaker{
		config: cfg,
		now:    time.Now,
		state:  CircuitClosed,
	}
}

// OnStateChange registers fn to observe transitions. It must be called
// before the breaker is shared.
func (cb *CircuitBreaker) OnStateChange(fn StateChangeFunc) {
	cb.onStateChange = fn
}

// OpenDuration returns how long the breaker stays open before probing.
func (cb *CircuitBreaker) OpenDuration() time.Duration {
	return time.Duration(cb.config.OpenDurationMs) * time.Millisecond
}

// Permit identifies one admission by the state generation it was issued
// in. Every transition starts a new generation, so outcomes and releases of
// calls admitted before a transition never touch the new state.
type Permit struct {
	generation uint64
	trial      bool
}

// Trial reports whether the permit holds one of the half-open trial slots.
func (p Permit) Trial() bool { return p.trial }

// Allow reports whether a call may be dispatched. Rejections are not
// counted as failures.
func (cb *CircuitBreaker) Allow() bool {
	_, ok := cb.Admit()
	return ok
}

// Admit is Allow returning the permit the caller later passes to Complete
// or Release.
func (cb *CircuitBreaker) Admit() (Permit, bool) {
	cb.mu.Lock()

	var changed bool
	var from CircuitState
	allowed := false

	switch cb.state {
	case CircuitClosed:
		allowed = true

	case CircuitOpen:
		if cb.now().Sub(cb.lastStateChange) >= cb.OpenDuration() {
			from, changed = cb.state, true
			cb.setState(CircuitHalfOpen)
			cb.halfOpenInFlight = 1
			allowed = true
		}

	case CircuitHalfOpen:
		if cb.halfOpenInFlight < cb.config.HalfOpenMaxRequests {
			cb.halfOpenInFlight++
			allowed = true
		}
	}

	permit := Permit{generation: cb.generation, trial: allowed && cb.state == CircuitHalfOpen}
	if !allowed {
		cb.rejectedRequests++
	}
	cb.mu.Unlock()

	if changed {
		cb.notify(from, CircuitHalfOpen)
	}
	return permit, allowed
}

// RecordSuccess records a completed successful call against the current state.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.record(nil, true)
}

// RecordFailure records a completed failed call against the current state.
func (cb *CircuitBreaker) RecordFailure() {
	cb.record(nil, false)
}

// Complete records the outcome of the call admitted with p. Outcomes from
// an earlier generation are counted in the stats but change no state.
func (cb *CircuitBreaker) Complete(p Permit, success bool) {
	cb.record(&p, success)
}

func (cb *CircuitBreaker) record(p *Permit, success bool) {
	cb.mu.Lock()

	cb.totalRequests++
	if success {
		cb.successfulRequests++
	} else {
		cb.failedRequests++
	}
	if p != nil && p.generation != cb.generation {
		cb.mu.Unlock()
		return
	}

	var changed bool
	from := cb.state
	switch cb.state {
	case CircuitClosed:
		if success {
			cb.consecutiveFailures = 0
		} else {
			cb.consecutiveFailures++
			if cb.consecutiveFailures >= cb.config.FailureThreshold {
				changed = true
				cb.tripToOpen()
			}
		}

	case CircuitHalfOpen:
		if !success {
			changed = true
			cb.tripToOpen()
			break
		}
		cb.releaseTrialLocked()
		cb.consecutiveSuccesses++
		if cb.consecutiveSuccesses >= cb.config.SuccessThreshold {
			changed = true
			cb.transitionToClosed()
		}

	case CircuitOpen:
		// Late result from a call admitted before the trip; ignored.
	}
	to := cb.state
	cb.mu.Unlock()

	if changed {
		cb.notify(from, to)
	}
}

// Release returns the trial slot held by p without recording an outcome.
// Permits from an earlier generation, or issued while closed, hold nothing.
func (cb *CircuitBreaker) Release(p Permit) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if p.trial && p.generation == cb.generation && cb.state == CircuitHalfOpen {
		cb.releaseTrialLocked()
	}
}

// releaseTrial returns a probation permit of the current generation.
func (cb *CircuitBreaker) releaseTrial() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitHalfOpen {
		cb.releaseTrialLocked()
	}
}

func (cb *CircuitBreaker) releaseTrialLocked() {
	if cb.halfOpenInFlight > 0 {
		cb.halfOpenInFlight--
	}
}

// tripToOpen transitions to the OPEN state and restarts the open timer.
func (cb *CircuitBreaker) tripToOpen() {
	cb.setState(CircuitOpen)
	cb.consecutiveFailures = 0
	cb.consecutiveSuccesses = 0
	cb.halfOpenInFlight = 0
	cb.totalTrips++
}

// transitionToClosed transitions to the CLOSED state and resets all counters.
func (cb *CircuitBreaker) transitionToClosed() {
	cb.setState(CircuitClosed)
	cb.consecutiveFailures = 0
	cb.consecutiveSuccesses = 0
	cb.halfOpenInFlight = 0
}

func (cb *CircuitBreaker) setState(s CircuitState) {
	if s == CircuitHalfOpen {
		cb.consecutiveSuccesses = 0
	}
	cb.state = s
	cb.lastStateChange = cb.now()
	cb.stateChanges++
	cb.generation++
}

func (cb *CircuitBreaker) notify(from, to CircuitState) {
	if cb.onStateChange != nil && from != to {
		cb.onStateChange(from, to)
	}
}

// RetryAfter returns the time left until the breaker will admit a trial,
// or zero when it is not open.
func (cb *CircuitBreaker) RetryAfter() time.Duration {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != CircuitOpen {
		return 0
	}
	remaining := cb.OpenDuration() - cb.now().Sub(cb.lastStateChange)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Trip forces the circuit breaker to the OPEN state (for admin API).
func (cb *CircuitBreaker) Trip() {
	cb.mu.Lock()
	from := cb.state
	cb.tripToOpen()
	cb.mu.Unlock()
	cb.notify(from, CircuitOpen)
}

// Reset forces the circuit breaker to the CLOSED state (for admin API).
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.transitionToClosed()
	cb.mu.Unlock()
	cb.notify(from, CircuitClosed)
}

// State returns the current circuit state. It does not advance OPEN to
// HALF_OPEN; only Allow performs that transition.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// CircuitBreakerStats contains statistics for a circuit breaker.
type CircuitBreakerStats struct {
	State                string `json:"state"`
	ConsecutiveFailures  int    `json:"consecutiveFailures"`
	ConsecutiveSuccesses int    `json:"consecutiveSuccesses"`
	TotalRequests        int64  `json:"totalRequests"`
	SuccessfulRequests   int64  `json:"successfulRequests"`
	FailedRequests       int64  `json:"failedRequests"`
	RejectedRequests     int64  `json:"rejectedRequests"`
	TotalTrips           int64  `json:"totalTrips"`
	StateChanges         int64  `json:"stateChanges"`
	LastStateChange      string `json:"lastStateChange,omitempty"`
}

// Stats returns current statistics.
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	stats := CircuitBreakerStats{
		State:                cb.state.String(),
		ConsecutiveFailures:  cb.consecutiveFailures,
		ConsecutiveSuccesses: cb.consecutiveSuccesses,
		TotalRequests:        cb.totalRequests,
		SuccessfulRequests:   cb.successfulRequests,
		FailedRequests:       cb.failedRequests,
		RejectedRequests:     cb.rejectedRequests,
		TotalTrips:           cb.totalTrips,
		StateChanges:         cb.stateChanges,
	}
	if !cb.lastStateChange.IsZero() {
		stats.LastStateChange = cb.lastStateChange.Format(time.RFC3339)
	}
	return stats
}
