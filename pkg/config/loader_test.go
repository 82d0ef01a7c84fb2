package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/mockd-chaos/pkg/chaos"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFromFile_ValidYAML(t *testing.T) {
	path := writeFile(t, "chaos.yaml", `
enabled: true
latency:
  enabled: true
  fixedDelayMs: 50
  jitterPercent: 20
faultInjection:
  enabled: true
  httpErrors: [500, 503]
  httpErrorProbability: 0.1
rateLimit:
  enabled: true
  requestsPerSecond: 1
  burstSize: 2
circuitBreaker:
  failureThreshold: 3
  openDurationMs: 100
bulkhead:
  maxConcurrency: 2
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.True(t, cfg.Enabled)
	assert.Equal(t, 50, cfg.Latency.FixedDelayMs)
	assert.Equal(t, 1.0, cfg.Latency.Probability, "omitted probability defaults to always")
	assert.Equal(t, []int{500, 503}, cfg.FaultInjection.HTTPErrors)
	assert.Equal(t, 2, cfg.RateLimit.BurstSize)
	assert.Equal(t, 3, cfg.CircuitBreaker.FailureThreshold)
	assert.Equal(t, chaos.DefaultSuccessThreshold, cfg.CircuitBreaker.SuccessThreshold)
	assert.Equal(t, 2, cfg.Bulkhead.MaxConcurrency)
}

func TestLoadFromFile_ValidJSON(t *testing.T) {
	path := writeFile(t, "chaos.json", `{
		"enabled": true,
		"latency": {"enabled": true, "fixedDelayMs": 10, "probability": 0.5},
		"trafficShaping": {"enabled": true, "maxConnections": 10, "bandwidthBytesPerSecond": 1024}
	}`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.Latency.Probability)
	assert.Equal(t, 10, cfg.TrafficShaping.MaxConnections)
	assert.EqualValues(t, 1024, cfg.TrafficShaping.BandwidthBytesPerSecond)
	assert.Nil(t, cfg.CircuitBreaker)
}

func TestLoadFromFile_ClampsOutOfRange(t *testing.T) {
	path := writeFile(t, "chaos.yml", `
enabled: true
latency:
  enabled: true
  fixedDelayMs: -5
  probability: 7
trafficShaping:
  enabled: true
  maxConnections: -1
  packetLossProbability: -0.5
bulkhead:
  maxConcurrency: -3
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Latency.FixedDelayMs)
	assert.Equal(t, 1.0, cfg.Latency.Probability)
	assert.Equal(t, 0, cfg.TrafficShaping.MaxConnections)
	assert.Equal(t, 0.0, cfg.TrafficShaping.PacketLossProbability)
	assert.Equal(t, 0, cfg.Bulkhead.MaxConcurrency)
}

func TestLoadFromFile_InvalidJSON(t *testing.T) {
	path := writeFile(t, "invalid.json", `{ invalid json }`)

	cfg, err := LoadFromFile(path)
	assert.Nil(t, cfg)
	assert.ErrorIs(t, err, ErrInvalidJSON)
}

func TestLoadFromFile_InvalidYAML(t *testing.T) {
	path := writeFile(t, "invalid.yaml", "enabled: [unclosed\n")

	cfg, err := LoadFromFile(path)
	assert.Nil(t, cfg)
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestLoadFromFile_FileNotFound(t *testing.T) {
	cfg, err := LoadFromFile("/nonexistent/path/chaos.yaml")
	assert.Nil(t, cfg)
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestLoadFromFile_EmptyFile(t *testing.T) {
	path := writeFile(t, "empty.yaml", "  \n")

	cfg, err := LoadFromFile(path)
	assert.Nil(t, cfg)
	assert.ErrorIs(t, err, ErrEmptyFile)
}

func TestLoadFromFile_Directory(t *testing.T) {
	_, err := LoadFromFile(t.TempDir())
	assert.ErrorContains(t, err, "directory")
}

func TestLoadFromFile_ValidationError(t *testing.T) {
	path := writeFile(t, "bad-pattern.yaml", `
enabled: true
faultInjection:
  enabled: true
  errorPattern:
    type: spiky
`)

	cfg, err := LoadFromFile(path)
	assert.Nil(t, cfg)
	assert.ErrorIs(t, err, ErrValidation)
	assert.ErrorContains(t, err, "spiky")
}

func TestToYAML_ParsesBack(t *testing.T) {
	cfg := &chaos.Config{
		Enabled:  true,
		Bulkhead: &chaos.BulkheadConfig{MaxConcurrency: 4},
		Latency:  &chaos.LatencyConfig{Enabled: true, FixedDelayMs: 20, Probability: 0.25},
	}

	data, err := ToYAML(cfg)
	require.NoError(t, err)
	got, err := ParseYAML(data)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Bulkhead.MaxConcurrency)
	assert.Equal(t, 0.25, got.Latency.Probability)

	data, err = ToJSON(cfg)
	require.NoError(t, err)
	assert.Equal(t, byte('\n'), data[len(data)-1])

	_, err = ToJSON(nil)
	assert.Error(t, err)
}
