// Package config loads the chaos configuration from files.
//
// Files are YAML (.yaml, .yml) or JSON (anything else) and describe a
// chaos.Config directly:
//
//	enabled: true
//	latency:
//	  enabled: true
//	  fixedDelayMs: 50
//	  jitterPercent: 20
//	rateLimit:
//	  enabled: true
//	  requestsPerSecond: 10
//	  burstSize: 20
//	circuitBreaker:
//	  failureThreshold: 5
//	  openDurationMs: 30000
//	bulkhead:
//	  maxConcurrency: 100
//
// Loading clamps out-of-range values (probabilities outside [0,1], negative
// limits) instead of failing, so request handling never sees them. Only
// settings that cannot be interpreted, such as an unknown error pattern
// type, are rejected with ErrValidation.
package config
