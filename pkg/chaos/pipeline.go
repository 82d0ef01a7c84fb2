package chaos

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/getmockd/mockd-chaos/pkg/logging"
	"github.com/getmockd/mockd-chaos/pkg/ratelimit"
)

// Outcome classifies a completed unit of work for the circuit breaker.
type Outcome int

const (
	// OutcomeNeutral results are not recorded (client errors, redirects).
	OutcomeNeutral Outcome = iota
	// OutcomeSuccess counts towards closing the breaker.
	OutcomeSuccess
	// OutcomeFailure counts towards opening the breaker.
	OutcomeFailure
)

// String returns the outcome label used in logs and metrics.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	default:
		return "neutral"
	}
}

// RequestInfo is what an adapter knows about a unit of work before running it.
type RequestInfo struct {
	ClientKey string
	RouteKey  string
	BodySize  int
}

// ResponseInfo is what an adapter knows after the real handler ran.
type ResponseInfo struct {
	Outcome  Outcome
	BodySize int
}

// ResponseDecision tells the adapter how to modify the response.
type ResponseDecision struct {
	// Truncate means the serialized body must be cut at its midpoint byte.
	Truncate bool
}

// Gate is the capability every protocol adapter consumes. Before runs the
// admission and pre-handler stages; on success the caller must release the
// returned guards, normally with defer. After records the outcome and runs
// the post-handler stages.
type Gate interface {
	Before(ctx context.Context, req RequestInfo) (*Guards, error)
	After(ctx context.Context, g *Guards, resp ResponseInfo) ResponseDecision
}

// Observer receives pipeline events. pkg/metrics implements it.
type Observer interface {
	ObserveAdmitted(route string)
	ObserveRejected(route string, reason Reason)
	ObserveOutcome(route string, outcome Outcome, elapsed time.Duration)
	ObserveInjectedLatency(d time.Duration)
	ObserveCircuitState(from, to CircuitState)
}

type nopObserver struct{}

func (nopObserver) ObserveAdmitted(string) {}
func (nopObserver) ObserveRejected(string, Reason) {}
func (nopObserver) ObserveOutcome(string, Outcome, time.Duration) {}
func (nopObserver) ObserveInjectedLatency(time.Duration) {}
func (nopObserver) ObserveCircuitState(CircuitState, CircuitState) {}

// Pipeline composes the resilience and chaos primitives in their fixed
// order. It is built once and shared by pointer across all adapters.
type Pipeline struct {
	config Config

	breaker  *CircuitBreaker
	bulkhead *Bulkhead
	limiter  *RateLimiter
	shaper   *TrafficShaper
	latency  *LatencyInjector
	faults   *FaultInjector

	rng       Rand
	now       func() time.Time
	logger    *slog.Logger
	observer  Observer
	rejectLog rate.Sometimes
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithObserver sets the event observer, typically a *metrics.Collector.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) {
		if o != nil {
			p.observer = o
		}
	}
}

// WithRand sets the random source shared by the injectors and the shaper.
func WithRand(r Rand) Option {
	return func(p *Pipeline) {
		if r != nil {
			p.rng = r
		}
	}
}

// WithClock sets the time source for the breaker and the rate limiter.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// NewPipeline builds a pipeline from cfg. cfg is clamped in place first, so
// out-of-range values never reach request handling. A nil cfg yields a
// pass-through pipeline.
func NewPipeline(cfg *Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		rng:      globalRand{},
		now:      time.Now,
		logger:   logging.Nop(),
		observer: nopObserver{},
		// at most one rejection log line per second after the first few
		rejectLog: rate.Sometimes{First: 5, Interval: time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.Clamp()
	p.config = *cfg

	p.latency = NewLatencyInjector(cfg.Latency, p.rng)
	p.faults = NewFaultInjector(cfg.FaultInjection, p.rng)
	p.faults.now = p.now
	p.limiter = newRateLimiter(cfg.RateLimit, p.now)
	p.shaper = NewTrafficShaper(cfg.TrafficShaping, p.rng)
	p.bulkhead = NewBulkhead(cfg.Bulkhead)
	if cfg.CircuitBreaker != nil {
		p.breaker = NewCircuitBreaker(*cfg.CircuitBreaker)
		p.breaker.now = p.now
		p.breaker.OnStateChange(p.onCircuitStateChange)
	}
	return p
}

func (p *Pipeline) onCircuitStateChange(from, to CircuitState) {
	level := slog.LevelInfo
	if to == CircuitOpen {
		level = slog.LevelWarn
	}
	p.logger.Log(context.Background(), level, "circuit breaker state change",
		"from", from.String(),
		"to", to.String(),
	)
	p.observer.ObserveCircuitState(from, to)
}

// Enabled reports whether the pipeline does anything at all.
func (p *Pipeline) Enabled() bool {
	return p != nil && p.config.Enabled
}

// Config returns the clamped configuration snapshot.
func (p *Pipeline) Config() Config { return p.config }

// CircuitBreaker returns the breaker, or nil when it is not configured.
func (p *Pipeline) CircuitBreaker() *CircuitBreaker { return p.breaker }

// Bulkhead returns the bulkhead.
func (p *Pipeline) Bulkhead() *Bulkhead { return p.bulkhead }

// RateLimiter returns the rate limiter.
func (p *Pipeline) RateLimiter() *RateLimiter { return p.limiter }

// TrafficShaper returns the traffic shaper.
func (p *Pipeline) TrafficShaper() *TrafficShaper { return p.shaper }

// Latency returns the latency injector.
func (p *Pipeline) Latency() *LatencyInjector { return p.latency }

// Faults returns the fault injector.
func (p *Pipeline) Faults() *FaultInjector { return p.faults }

// FieldLatencyFraction is the share of the top-level delay applied to each
// sub-unit such as a GraphQL field resolver.
func (p *Pipeline) FieldLatencyFraction() float64 {
	if p.config.GraphQL != nil && p.config.GraphQL.FieldLatencyFraction > 0 {
		return p.config.GraphQL.FieldLatencyFraction
	}
	return DefaultFieldLatencyFraction
}

// Before runs, in order: circuit breaker gate, bulkhead acquire, rate limit
// check, connection limit check, drop check, latency injection, fault
// pre-check and request bandwidth throttling. On error every guard acquired
// so far has already been released and the returned *Guards is nil. The
// error is a *Rejection, or ctx.Err() if ctx ended during a suspension.
func (p *Pipeline) Before(ctx context.Context, req RequestInfo) (*Guards, error) {
	g := &Guards{pipeline: p, route: req.RouteKey, start: p.now()}
	if !p.Enabled() {
		return g, nil
	}

	if err := p.admit(ctx, g, req); err != nil {
		g.Release()
		var rej *Rejection
		if errors.As(err, &rej) {
			p.logRejection(ctx, req, rej)
			p.observer.ObserveRejected(req.RouteKey, rej.Reason)
		}
		return nil, err
	}

	p.observer.ObserveAdmitted(req.RouteKey)
	return g, nil
}

func (p *Pipeline) admit(ctx context.Context, g *Guards, req RequestInfo) error {
	if p.breaker != nil {
		permit, ok := p.breaker.Admit()
		if !ok {
			return newCircuitOpenRejection(p.breaker.RetryAfter())
		}
		g.permit = permit
		g.breakerAdmitted = true
	}

	slot, err := p.bulkhead.TryAcquire()
	if err != nil {
		return err
	}
	g.slot = slot

	decision, err := p.limiter.Take(req.ClientKey, req.RouteKey)
	g.RateLimit = decision
	if err != nil {
		return err
	}

	conn, err := p.shaper.AcquireConnection()
	if err != nil {
		return err
	}
	g.conn = conn

	if p.shaper.ShouldDropPacket() {
		return newDropRejection(p.shaper.lossProbability)
	}

	delay, err := p.latency.Inject(ctx)
	if err != nil {
		return err
	}
	if delay > 0 {
		g.InjectedLatency = delay
		p.observer.ObserveInjectedLatency(delay)
	}

	if err := p.faults.Inject(); err != nil {
		return err
	}

	return p.shaper.ThrottleBandwidth(ctx, req.BodySize)
}

// After records the breaker outcome, decides truncation and throttles the
// response body. It does not release g; the caller's deferred Release does.
func (p *Pipeline) After(ctx context.Context, g *Guards, resp ResponseInfo) ResponseDecision {
	var decision ResponseDecision
	if g == nil || !p.Enabled() {
		return decision
	}

	g.recordOutcome(resp.Outcome)
	p.observer.ObserveOutcome(g.route, resp.Outcome, p.now().Sub(g.start))

	size := resp.BodySize
	if size > 0 && p.faults.ShouldTruncateResponse() {
		decision.Truncate = true
		size /= 2
	}

	if err := p.shaper.ThrottleBandwidth(ctx, size); err != nil {
		p.logger.Debug("response throttling interrupted", "route", g.route, "error", err)
	}
	return decision
}

func (p *Pipeline) logRejection(ctx context.Context, req RequestInfo, rej *Rejection) {
	p.rejectLog.Do(func() {
		p.logger.WarnContext(ctx, "request rejected",
			"reason", string(rej.Reason),
			"detail", rej.Detail,
			"status", rej.StatusCode,
			"client", req.ClientKey,
			"route", req.RouteKey,
		)
	})
}

// PipelineStats is a point-in-time view of every stateful primitive.
type PipelineStats struct {
	Enabled        bool                 `json:"enabled"`
	CircuitBreaker *CircuitBreakerStats `json:"circuitBreaker,omitempty"`
	Bulkhead       BulkheadStats        `json:"bulkhead"`
	TrafficShaper  TrafficShaperStats   `json:"trafficShaper"`
	RateLimitKeys  int                  `json:"rateLimitKeys"`
	// RateLimitBuckets holds each rate limit bucket by composite key.
	RateLimitBuckets map[string]ratelimit.BucketStats `json:"rateLimitBuckets,omitempty"`
}

// Stats returns current statistics.
func (p *Pipeline) Stats() PipelineStats {
	stats := PipelineStats{
		Enabled:       p.Enabled(),
		Bulkhead:      p.bulkhead.Stats(),
		TrafficShaper: p.shaper.Stats(),
		RateLimitKeys: p.limiter.Keys(),

		RateLimitBuckets: p.limiter.Buckets(),
	}
	if p.breaker != nil {
		cb := p.breaker.Stats()
		stats.CircuitBreaker = &cb
	}
	return stats
}

// Guards is everything one admitted unit of work holds: breaker admission,
// bulkhead slot and connection guard. Release is idempotent and safe to
// defer on every path.
type Guards struct {
	pipeline *Pipeline
	route    string
	start    time.Time

	breakerAdmitted bool
	permit          Permit
	slot            *Slot
	conn            *ConnectionGuard

	recorded atomic.Bool
	released atomic.Bool

	// RateLimit is the bucket decision for this request, for limit headers.
	RateLimit ratelimit.Decision
	// InjectedLatency is the delay added by the latency injector.
	InjectedLatency time.Duration
}

// recordOutcome reports the outcome to the breaker exactly once. A neutral
// outcome returns a half-open trial slot without counting either way.
// Outcomes of calls admitted before a state change are ignored.
func (g *Guards) recordOutcome(o Outcome) {
	if !g.breakerAdmitted || !g.recorded.CompareAndSwap(false, true) {
		return
	}
	cb := g.pipeline.breaker
	switch o {
	case OutcomeSuccess:
		cb.Complete(g.permit, true)
	case OutcomeFailure:
		cb.Complete(g.permit, false)
	default:
		cb.Release(g.permit)
	}
}

// Release frees every guard exactly once. A breaker admission that never
// produced an outcome gives its trial permit back.
func (g *Guards) Release() {
	if g == nil || !g.released.CompareAndSwap(false, true) {
		return
	}
	if g.breakerAdmitted && g.recorded.CompareAndSwap(false, true) {
		g.pipeline.breaker.Release(g.permit)
	}
	g.conn.Release()
	g.slot.Release()
}

type guardsKey struct{}

// ContextWithGuards stores g in ctx so nested hooks (field resolvers,
// stream handlers) can reach the pipeline.
func ContextWithGuards(ctx context.Context, g *Guards) context.Context {
	return context.WithValue(ctx, guardsKey{}, g)
}

// GuardsFromContext returns the guards stored by ContextWithGuards.
func GuardsFromContext(ctx context.Context) *Guards {
	g, _ := ctx.Value(guardsKey{}).(*Guards)
	return g
}

// Pipeline returns the pipeline that issued g.
func (g *Guards) Pipeline() *Pipeline {
	if g == nil {
		return nil
	}
	return g.pipeline
}
