package chaos

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Reason identifies why the pipeline refused to run a unit of work.
type Reason string

const (
	// ReasonRateLimitExceeded means the token bucket for the request key was empty.
	ReasonRateLimitExceeded Reason = "rate_limit_exceeded"
	// ReasonConnectionThrottled means the traffic shaper's connection cap was reached.
	ReasonConnectionThrottled Reason = "connection_throttled"
	// ReasonCircuitOpen means the circuit breaker is fast-failing calls.
	ReasonCircuitOpen Reason = "circuit_breaker_open"
	// ReasonBulkheadRejected means every concurrency slot was occupied.
	ReasonBulkheadRejected Reason = "bulkhead_rejected"
	// ReasonInjectedFault means the fault injector synthesized an error.
	ReasonInjectedFault Reason = "injected_fault"
	// ReasonTimeout means the fault injector synthesized a timeout.
	ReasonTimeout Reason = "timeout"
	// ReasonPacketDropped means the traffic shaper simulated a lost packet.
	ReasonPacketDropped Reason = "packet_dropped"
)

// Sentinel errors, one per Reason. A *Rejection matches its sentinel with errors.Is.
var (
	ErrRateLimitExceeded   = errors.New("rate limit exceeded")
	ErrConnectionThrottled = errors.New("connection limit exceeded")
	ErrCircuitOpen         = errors.New("circuit breaker open")
	ErrBulkheadRejected    = errors.New("bulkhead rejected request")
	ErrInjectedFault       = errors.New("injected fault")
	ErrTimeout             = errors.New("injected timeout")
	ErrPacketDropped       = errors.New("packet dropped")
)

var reasonSentinels = map[Reason]error{
	ReasonRateLimitExceeded:   ErrRateLimitExceeded,
	ReasonConnectionThrottled: ErrConnectionThrottled,
	ReasonCircuitOpen:         ErrCircuitOpen,
	ReasonBulkheadRejected:    ErrBulkheadRejected,
	ReasonInjectedFault:       ErrInjectedFault,
	ReasonTimeout:             ErrTimeout,
	ReasonPacketDropped:       ErrPacketDropped,
}

// Rejection is the typed outcome returned by every admission check and
// pre-handler fault. Adapters translate it into a transport-native response.
type Rejection struct {
	Reason Reason
	// Detail is a human-readable explanation of the active chaos setting.
	Detail string
	// StatusCode is the HTTP status suggested for this rejection.
	StatusCode int
	// RetryAfter is a hint for clients, zero when unknown.
	RetryAfter time.Duration
	// TimeoutMs is set for ReasonTimeout.
	TimeoutMs int
}

// Error implements the error interface.
func (r *Rejection) Error() string {
	if r.Detail == "" {
		return string(r.Reason)
	}
	return fmt.Sprintf("%s: %s", r.Reason, r.Detail)
}

// Unwrap returns the sentinel error for the rejection's reason, so
// errors.Is(err, ErrCircuitOpen) works on wrapped rejections.
func (r *Rejection) Unwrap() error {
	return reasonSentinels[r.Reason]
}

// Injected reports whether the rejection is a deliberate fault simulation
// rather than an admission-control decision.
func (r *Rejection) Injected() bool {
	return r.Reason == ReasonInjectedFault || r.Reason == ReasonTimeout
}

// AsRejection extracts a *Rejection from err.
func AsRejection(err error) (*Rejection, bool) {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

func newRateLimitRejection(key string, retryAfter time.Duration) *Rejection {
	return &Rejection{
		Reason:     ReasonRateLimitExceeded,
		Detail:     fmt.Sprintf("token bucket %q is empty", key),
		StatusCode: http.StatusTooManyRequests,
		RetryAfter: retryAfter,
	}
}

func newCircuitOpenRejection(retryAfter time.Duration) *Rejection {
	return &Rejection{
		Reason:     ReasonCircuitOpen,
		Detail:     "service temporarily unavailable",
		StatusCode: http.StatusServiceUnavailable,
		RetryAfter: retryAfter,
	}
}

func newBulkheadRejection(occupancy, maxConcurrency int64) *Rejection {
	return &Rejection{
		Reason:     ReasonBulkheadRejected,
		Detail:     fmt.Sprintf("service overloaded: %d/%d slots in use", occupancy, maxConcurrency),
		StatusCode: http.StatusServiceUnavailable,
	}
}

func newConnectionRejection(active, maxConnections int64) *Rejection {
	return &Rejection{
		Reason:     ReasonConnectionThrottled,
		Detail:     fmt.Sprintf("connection limit exceeded: %d/%d active", active, maxConnections),
		StatusCode: http.StatusServiceUnavailable,
	}
}

func newDropRejection(probability float64) *Rejection {
	return &Rejection{
		Reason:     ReasonPacketDropped,
		Detail:     fmt.Sprintf("connection dropped (packet loss probability %.2f)", probability),
		StatusCode: http.StatusRequestTimeout,
	}
}

func newFaultRejection(statusCode int, detail string) *Rejection {
	return &Rejection{
		Reason:     ReasonInjectedFault,
		Detail:     detail,
		StatusCode: statusCode,
	}
}

func newTimeoutRejection(timeoutMs int) *Rejection {
	return &Rejection{
		Reason:     ReasonTimeout,
		Detail:     fmt.Sprintf("request timed out after %dms", timeoutMs),
		StatusCode: http.StatusGatewayTimeout,
		TimeoutMs:  timeoutMs,
	}
}
