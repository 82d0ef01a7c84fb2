// Package chaos provides the resilience and chaos-injection pipeline that
// gates every unit of work handled by the mock server.
//
// A unit of work is an HTTP request, a GraphQL operation, a WebSocket
// message or a gRPC call. Each one passes through the same fixed chain:
//
//	circuit breaker gate → bulkhead acquire → rate limit check →
//	connection limit check → drop check → latency injection →
//	fault pre-check → request bandwidth throttle → handler →
//	breaker outcome → truncation decision → response bandwidth throttle →
//	release of all guards
//
// # Primitives
//
//   - CircuitBreaker: consecutive-failure state machine (closed, open, half-open)
//   - Bulkhead: non-blocking concurrency cap issuing release-once slots
//   - RateLimiter: per client/route token buckets
//   - TrafficShaper: connection cap, bandwidth throttling, packet loss
//   - LatencyInjector: fixed or ranged delay with jitter
//   - FaultInjector: injected HTTP errors, timeouts, connection errors and truncation
//
// # Usage
//
// Build one Pipeline at startup and share it with every adapter:
//
//	cfg := &chaos.Config{
//	    Enabled:  true,
//	    Bulkhead: &chaos.BulkheadConfig{MaxConcurrency: 2},
//	    RateLimit: &chaos.RateLimitConfig{
//	        Enabled:           true,
//	        RequestsPerSecond: 1,
//	        BurstSize:         2,
//	    },
//	}
//	p := chaos.NewPipeline(cfg, chaos.WithLogger(logger))
//	http.Handle("/", chaos.NewMiddleware(myHandler, p))
//
// Adapters for other transports consume the same Gate interface:
//
//	g, err := p.Before(ctx, chaos.RequestInfo{ClientKey: ip, RouteKey: route})
//	if err != nil {
//	    // translate the *chaos.Rejection
//	}
//	defer g.Release()
//	// run the handler
//	decision := p.After(ctx, g, chaos.ResponseInfo{Outcome: chaos.OutcomeSuccess, BodySize: n})
//
// Rejections are *Rejection values and match their sentinel with errors.Is:
//
//	if errors.Is(err, chaos.ErrCircuitOpen) { ... }
package chaos
