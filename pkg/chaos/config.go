package chaos

import (
	"encoding/json"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Defaults applied by Clamp when a field is missing or out of range.
const (
	DefaultFailureThreshold     = 5
	DefaultSuccessThreshold     = 3
	DefaultOpenDurationMs       = 30000
	DefaultHalfOpenMaxRequests  = 1
	DefaultTimeoutMs            = 30000
	DefaultFieldLatencyFraction = 0.1
)

// Config is the complete resilience and chaos configuration. Every
// sub-config is optional; a nil sub-config disables that stage.
type Config struct {
	Enabled        bool                  `json:"enabled" yaml:"enabled"`
	Latency        *LatencyConfig        `json:"latency,omitempty" yaml:"latency,omitempty"`
	FaultInjection *FaultInjectionConfig `json:"faultInjection,omitempty" yaml:"faultInjection,omitempty"`
	RateLimit      *RateLimitConfig      `json:"rateLimit,omitempty" yaml:"rateLimit,omitempty"`
	TrafficShaping *TrafficShapingConfig `json:"trafficShaping,omitempty" yaml:"trafficShaping,omitempty"`
	CircuitBreaker *CircuitBreakerConfig `json:"circuitBreaker,omitempty" yaml:"circuitBreaker,omitempty"`
	Bulkhead       *BulkheadConfig       `json:"bulkhead,omitempty" yaml:"bulkhead,omitempty"`
	GraphQL        *GraphQLConfig        `json:"graphql,omitempty" yaml:"graphql,omitempty"`
}

// LatencyConfig configures the latency injector.
type LatencyConfig struct {
	Enabled      bool `json:"enabled" yaml:"enabled"`
	FixedDelayMs int  `json:"fixedDelayMs,omitempty" yaml:"fixedDelayMs,omitempty"`
	// RandomDelayRangeMs is an optional [min, max] pair. When set, the base
	// delay is drawn uniformly from it instead of using FixedDelayMs.
	RandomDelayRangeMs []int `json:"randomDelayRangeMs,omitempty" yaml:"randomDelayRangeMs,omitempty"`
	// JitterPercent adds up to this percentage of the base delay on top of it.
	JitterPercent float64 `json:"jitterPercent,omitempty" yaml:"jitterPercent,omitempty"`
	// Probability defaults to 1.0 when omitted.
	Probability float64 `json:"probability" yaml:"probability"`
}

// latencyConfigFields has the same layout as LatencyConfig without its
// unmarshal methods, so decoding into it does not recurse.
type latencyConfigFields LatencyConfig

// UnmarshalYAML decodes a LatencyConfig, defaulting Probability to 1.0.
func (l *LatencyConfig) UnmarshalYAML(node *yaml.Node) error {
	fields := latencyConfigFields{Probability: 1.0}
	if err := node.Decode(&fields); err != nil {
		return err
	}
	*l = LatencyConfig(fields)
	return nil
}

// UnmarshalJSON decodes a LatencyConfig, defaulting Probability to 1.0.
func (l *LatencyConfig) UnmarshalJSON(data []byte) error {
	fields := latencyConfigFields{Probability: 1.0}
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*l = LatencyConfig(fields)
	return nil
}

// FaultInjectionConfig configures the fault injector.
type FaultInjectionConfig struct {
	Enabled              bool    `json:"enabled" yaml:"enabled"`
	HTTPErrors           []int   `json:"httpErrors,omitempty" yaml:"httpErrors,omitempty"`
	HTTPErrorProbability float64 `json:"httpErrorProbability,omitempty" yaml:"httpErrorProbability,omitempty"`
	TruncateProbability  float64 `json:"truncateProbability,omitempty" yaml:"truncateProbability,omitempty"`

	TimeoutErrors      bool    `json:"timeoutErrors,omitempty" yaml:"timeoutErrors,omitempty"`
	TimeoutMs          int     `json:"timeoutMs,omitempty" yaml:"timeoutMs,omitempty"`
	TimeoutProbability float64 `json:"timeoutProbability,omitempty" yaml:"timeoutProbability,omitempty"`

	ConnectionErrors           bool    `json:"connectionErrors,omitempty" yaml:"connectionErrors,omitempty"`
	ConnectionErrorProbability float64 `json:"connectionErrorProbability,omitempty" yaml:"connectionErrorProbability,omitempty"`

	// ErrorPattern replaces the probability-based HTTP error draw when set.
	ErrorPattern *ErrorPattern `json:"errorPattern,omitempty" yaml:"errorPattern,omitempty"`
}

// ErrorPatternType selects how an ErrorPattern decides to inject.
type ErrorPatternType string

const (
	// PatternBurst injects on the first Count requests of every IntervalMs window.
	PatternBurst ErrorPatternType = "burst"
	// PatternSequential cycles through Sequence, injecting on every request.
	PatternSequential ErrorPatternType = "sequential"
	// PatternRandom injects with Probability.
	PatternRandom ErrorPatternType = "random"
)

// ErrorPattern describes a deterministic or random error schedule.
type ErrorPattern struct {
	Type        ErrorPatternType `json:"type" yaml:"type"`
	Count       int              `json:"count,omitempty" yaml:"count,omitempty"`
	IntervalMs  int              `json:"intervalMs,omitempty" yaml:"intervalMs,omitempty"`
	Sequence    []int            `json:"sequence,omitempty" yaml:"sequence,omitempty"`
	Probability float64          `json:"probability,omitempty" yaml:"probability,omitempty"`
}

// RateLimitConfig configures per-key token buckets.
type RateLimitConfig struct {
	Enabled           bool    `json:"enabled" yaml:"enabled"`
	RequestsPerSecond float64 `json:"requestsPerSecond" yaml:"requestsPerSecond"`
	// BurstSize is the bucket capacity. Zero means one second's worth of tokens.
	BurstSize int `json:"burstSize,omitempty" yaml:"burstSize,omitempty"`
	// PerClient and PerRoute select which parts form the bucket key.
	// Both default to true; a nil value means true.
	PerClient *bool `json:"perClient,omitempty" yaml:"perClient,omitempty"`
	PerRoute  *bool `json:"perRoute,omitempty" yaml:"perRoute,omitempty"`
}

// TrafficShapingConfig configures connection limits, bandwidth and packet loss.
type TrafficShapingConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	// MaxConnections of zero means unlimited.
	MaxConnections int `json:"maxConnections,omitempty" yaml:"maxConnections,omitempty"`
	// BandwidthBytesPerSecond of zero means unlimited.
	BandwidthBytesPerSecond int64   `json:"bandwidthBytesPerSecond,omitempty" yaml:"bandwidthBytesPerSecond,omitempty"`
	PacketLossProbability   float64 `json:"packetLossProbability,omitempty" yaml:"packetLossProbability,omitempty"`
}

// CircuitBreakerConfig configures the circuit breaker. A nil config disables it.
type CircuitBreakerConfig struct {
	FailureThreshold    int `json:"failureThreshold,omitempty" yaml:"failureThreshold,omitempty"`
	SuccessThreshold    int `json:"successThreshold,omitempty" yaml:"successThreshold,omitempty"`
	OpenDurationMs      int `json:"openDurationMs,omitempty" yaml:"openDurationMs,omitempty"`
	HalfOpenMaxRequests int `json:"halfOpenMaxRequests,omitempty" yaml:"halfOpenMaxRequests,omitempty"`
}

// BulkheadConfig configures the concurrency bulkhead. A nil config or a
// MaxConcurrency of zero disables it.
type BulkheadConfig struct {
	MaxConcurrency int `json:"maxConcurrency" yaml:"maxConcurrency"`
}

// GraphQLConfig tunes the query-phase adapter.
type GraphQLConfig struct {
	// FieldLatencyFraction scales the top-level delay for field resolvers.
	// Zero means DefaultFieldLatencyFraction.
	FieldLatencyFraction float64 `json:"fieldLatencyFraction,omitempty" yaml:"fieldLatencyFraction,omitempty"`
}

func clampProbability(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// isErrorStatus reports whether code is an HTTP status a fault may inject.
func isErrorStatus(code int) bool {
	return code >= 400 && code <= 599
}

// errorStatuses returns a copy of codes without non-error statuses.
func errorStatuses(codes []int) []int {
	var out []int
	for _, c := range codes {
		if isErrorStatus(c) {
			out = append(out, c)
		}
	}
	return out
}

func clampNonNegative(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

// Clamp normalizes out-of-range values in place: probabilities are clamped to
// [0, 1], negative limits become zero and missing thresholds get defaults.
// It never fails, so request-time code can rely on normalized values.
func (c *Config) Clamp() {
	if c == nil {
		return
	}

	if l := c.Latency; l != nil {
		l.FixedDelayMs = clampNonNegative(l.FixedDelayMs)
		for i := range l.RandomDelayRangeMs {
			l.RandomDelayRangeMs[i] = clampNonNegative(l.RandomDelayRangeMs[i])
		}
		if len(l.RandomDelayRangeMs) == 2 && l.RandomDelayRangeMs[0] > l.RandomDelayRangeMs[1] {
			l.RandomDelayRangeMs[0], l.RandomDelayRangeMs[1] = l.RandomDelayRangeMs[1], l.RandomDelayRangeMs[0]
		}
		if l.JitterPercent < 0 {
			l.JitterPercent = 0
		}
		l.Probability = clampProbability(l.Probability)
	}

	if f := c.FaultInjection; f != nil {
		f.HTTPErrorProbability = clampProbability(f.HTTPErrorProbability)
		f.TruncateProbability = clampProbability(f.TruncateProbability)
		f.TimeoutProbability = clampProbability(f.TimeoutProbability)
		f.ConnectionErrorProbability = clampProbability(f.ConnectionErrorProbability)
		if f.TimeoutMs <= 0 {
			f.TimeoutMs = DefaultTimeoutMs
		}
		if p := f.ErrorPattern; p != nil {
			p.Count = clampNonNegative(p.Count)
			p.IntervalMs = clampNonNegative(p.IntervalMs)
			p.Probability = clampProbability(p.Probability)
		}
	}

	if r := c.RateLimit; r != nil {
		if r.RequestsPerSecond < 0 {
			r.RequestsPerSecond = 0
		}
		r.BurstSize = clampNonNegative(r.BurstSize)
	}

	if t := c.TrafficShaping; t != nil {
		t.MaxConnections = clampNonNegative(t.MaxConnections)
		if t.BandwidthBytesPerSecond < 0 {
			t.BandwidthBytesPerSecond = 0
		}
		t.PacketLossProbability = clampProbability(t.PacketLossProbability)
	}

	if cb := c.CircuitBreaker; cb != nil {
		if cb.FailureThreshold < 1 {
			cb.FailureThreshold = DefaultFailureThreshold
		}
		if cb.SuccessThreshold < 1 {
			cb.SuccessThreshold = DefaultSuccessThreshold
		}
		if cb.OpenDurationMs <= 0 {
			cb.OpenDurationMs = DefaultOpenDurationMs
		}
		if cb.HalfOpenMaxRequests < 1 {
			cb.HalfOpenMaxRequests = DefaultHalfOpenMaxRequests
		}
	}

	if b := c.Bulkhead; b != nil {
		b.MaxConcurrency = clampNonNegative(b.MaxConcurrency)
	}

	if g := c.GraphQL; g != nil {
		if g.FieldLatencyFraction <= 0 || g.FieldLatencyFraction > 1 {
			g.FieldLatencyFraction = DefaultFieldLatencyFraction
		}
	}
}

// Validate reports settings that clamping cannot repair.
func (c *Config) Validate() error {
	if c == nil || !c.Enabled {
		return nil
	}

	var errs []error

	if l := c.Latency; l != nil && len(l.RandomDelayRangeMs) != 0 && len(l.RandomDelayRangeMs) != 2 {
		errs = append(errs, fmt.Errorf("latency: randomDelayRangeMs must have exactly 2 values, got %d", len(l.RandomDelayRangeMs)))
	}

	if f := c.FaultInjection; f != nil {
		for i, code := range f.HTTPErrors {
			if !isErrorStatus(code) {
				errs = append(errs, fmt.Errorf("faultInjection: httpErrors[%d]: status %d is not an error status", i, code))
			}
		}
		if p := f.ErrorPattern; p != nil {
			switch p.Type {
			case PatternBurst:
				if p.Count == 0 || p.IntervalMs == 0 {
					errs = append(errs, errors.New("faultInjection: errorPattern: burst requires count and intervalMs"))
				}
			case PatternSequential:
				if len(p.Sequence) == 0 {
					errs = append(errs, errors.New("faultInjection: errorPattern: sequential requires a sequence"))
				}
				for i, code := range p.Sequence {
					if !isErrorStatus(code) {
						errs = append(errs, fmt.Errorf("faultInjection: errorPattern: sequence[%d]: status %d is not an error status", i, code))
					}
				}
			case PatternRandom:
			default:
				errs = append(errs, fmt.Errorf("faultInjection: errorPattern: unknown type %q", p.Type))
			}
		}
	}

	if r := c.RateLimit; r != nil && r.Enabled && r.RequestsPerSecond == 0 && r.BurstSize == 0 {
		errs = append(errs, errors.New("rateLimit: requestsPerSecond or burstSize must be > 0"))
	}

	return errors.Join(errs...)
}

func boolOrDefault(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
