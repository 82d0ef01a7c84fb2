package chaos

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestLatencyConfig_ProbabilityDefaultsToOne(t *testing.T) {
	t.Parallel()

	t.Run("yaml", func(t *testing.T) {
		var cfg Config
		require.NoError(t, yaml.Unmarshal([]byte("enabled: true\nlatency:\n  enabled: true\n  fixedDelayMs: 50\n"), &cfg))
		require.NotNil(t, cfg.Latency)
		assert.Equal(t, 1.0, cfg.Latency.Probability)
		assert.Equal(t, 50, cfg.Latency.FixedDelayMs)
	})

	t.Run("json", func(t *testing.T) {
		var cfg Config
		require.NoError(t, json.Unmarshal([]byte(`{"enabled":true,"latency":{"enabled":true,"fixedDelayMs":50}}`), &cfg))
		require.NotNil(t, cfg.Latency)
		assert.Equal(t, 1.0, cfg.Latency.Probability)
	})

	t.Run("explicit zero is kept", func(t *testing.T) {
		var cfg Config
		require.NoError(t, json.Unmarshal([]byte(`{"latency":{"enabled":true,"probability":0}}`), &cfg))
		assert.Equal(t, 0.0, cfg.Latency.Probability)
	})
}

func TestConfig_Clamp(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		Enabled: true,
		Latency: &LatencyConfig{
			Enabled:            true,
			FixedDelayMs:       -5,
			RandomDelayRangeMs: []int{200, 100},
			JitterPercent:      -1,
			Probability:        7,
		},
		FaultInjection: &FaultInjectionConfig{
			Enabled:              true,
			HTTPErrorProbability: -0.5,
			TruncateProbability:  1.5,
		},
		RateLimit:      &RateLimitConfig{Enabled: true, RequestsPerSecond: -3, BurstSize: -1},
		TrafficShaping: &TrafficShapingConfig{Enabled: true, MaxConnections: -1, BandwidthBytesPerSecond: -100, PacketLossProbability: 2},
		CircuitBreaker: &CircuitBreakerConfig{FailureThreshold: 0, SuccessThreshold: -1},
		Bulkhead:       &BulkheadConfig{MaxConcurrency: -4},
		GraphQL:        &GraphQLConfig{FieldLatencyFraction: 3},
	}

	cfg.Clamp()

	assert.Equal(t, 0, cfg.Latency.FixedDelayMs)
	assert.Equal(t, []int{100, 200}, cfg.Latency.RandomDelayRangeMs)
	assert.Equal(t, 0.0, cfg.Latency.JitterPercent)
	assert.Equal(t, 1.0, cfg.Latency.Probability)

	assert.Equal(t, 0.0, cfg.FaultInjection.HTTPErrorProbability)
	assert.Equal(t, 1.0, cfg.FaultInjection.TruncateProbability)
	assert.Equal(t, DefaultTimeoutMs, cfg.FaultInjection.TimeoutMs)

	assert.Equal(t, 0.0, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 0, cfg.RateLimit.BurstSize)

	assert.Equal(t, 0, cfg.TrafficShaping.MaxConnections)
	assert.Equal(t, int64(0), cfg.TrafficShaping.BandwidthBytesPerSecond)
	assert.Equal(t, 1.0, cfg.TrafficShaping.PacketLossProbability)

	assert.Equal(t, DefaultFailureThreshold, cfg.CircuitBreaker.FailureThreshold)
	assert.Equal(t, DefaultSuccessThreshold, cfg.CircuitBreaker.SuccessThreshold)
	assert.Equal(t, DefaultOpenDurationMs, cfg.CircuitBreaker.OpenDurationMs)
	assert.Equal(t, DefaultHalfOpenMaxRequests, cfg.CircuitBreaker.HalfOpenMaxRequests)

	assert.Equal(t, 0, cfg.Bulkhead.MaxConcurrency)
	assert.Equal(t, DefaultFieldLatencyFraction, cfg.GraphQL.FieldLatencyFraction)
}

func TestConfig_ClampNil(t *testing.T) {
	t.Parallel()
	var cfg *Config
	assert.NotPanics(t, cfg.Clamp)
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     *Config
		wantErr string
	}{
		{
			name: "valid",
			cfg: &Config{
				Enabled:        true,
				FaultInjection: &FaultInjectionConfig{Enabled: true, HTTPErrors: []int{401, 503}},
			},
		},
		{
			name: "disabled config is not validated",
			cfg: &Config{
				FaultInjection: &FaultInjectionConfig{HTTPErrors: []int{200}},
			},
		},
		{
			name:    "non-error status",
			cfg:     &Config{Enabled: true, FaultInjection: &FaultInjectionConfig{HTTPErrors: []int{200}}},
			wantErr: "httpErrors[0]",
		},
		{
			name:    "unknown pattern",
			cfg:     &Config{Enabled: true, FaultInjection: &FaultInjectionConfig{ErrorPattern: &ErrorPattern{Type: "zigzag"}}},
			wantErr: `unknown type "zigzag"`,
		},
		{
			name:    "burst without count",
			cfg:     &Config{Enabled: true, FaultInjection: &FaultInjectionConfig{ErrorPattern: &ErrorPattern{Type: PatternBurst}}},
			wantErr: "burst requires",
		},
		{
			name:    "sequential without sequence",
			cfg:     &Config{Enabled: true, FaultInjection: &FaultInjectionConfig{ErrorPattern: &ErrorPattern{Type: PatternSequential}}},
			wantErr: "sequential requires",
		},
		{
			name: "sequence with non-error status",
			cfg: &Config{Enabled: true, FaultInjection: &FaultInjectionConfig{
				ErrorPattern: &ErrorPattern{Type: PatternSequential, Sequence: []int{503, 42}},
			}},
			wantErr: "sequence[1]: status 42",
		},
		{
			name:    "range with one value",
			cfg:     &Config{Enabled: true, Latency: &LatencyConfig{RandomDelayRangeMs: []int{10}}},
			wantErr: "exactly 2 values",
		},
		{
			name:    "rate limit without capacity",
			cfg:     &Config{Enabled: true, RateLimit: &RateLimitConfig{Enabled: true}},
			wantErr: "requestsPerSecond or burstSize",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
