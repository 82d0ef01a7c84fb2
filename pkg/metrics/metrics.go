package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/getmockd/mockd-chaos/pkg/chaos"
)

const namespace = "mockd_chaos"

// Collector holds the pipeline's Prometheus metrics. It implements
// chaos.Observer.
type Collector struct {
	AdmittedTotal   *prometheus.CounterVec
	RejectedTotal   *prometheus.CounterVec
	OutcomesTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	InjectedLatency prometheus.Histogram
	CircuitState    prometheus.Gauge
	CircuitChanges  *prometheus.CounterVec

	reg prometheus.Registerer
}

var _ chaos.Observer = (*Collector)(nil)

// New creates and registers all pipeline metrics on reg.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		reg: reg,
		AdmittedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "admitted_total",
				Help:      "Units of work admitted past every pipeline stage.",
			},
			[]string{"route"},
		),
		RejectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rejected_total",
				Help:      "Units of work rejected by the pipeline, by reason.",
			},
			[]string{"route", "reason"},
		),
		OutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outcomes_total",
				Help:      "Completed units of work by breaker outcome.",
			},
			[]string{"route", "outcome"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Time from admission to outcome, including injected delay.",
				// 5ms .. 10s
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"route"},
		),
		InjectedLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "injected_latency_seconds",
				Help:      "Delay added by the latency injector.",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
			},
		),
		CircuitState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_state",
				Help:      "Circuit breaker state: 0=closed, 1=open, 2=half-open.",
			},
		),
		CircuitChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_state_changes_total",
				Help:      "Circuit breaker transitions.",
			},
			[]string{"from", "to"},
		),
	}

	reg.MustRegister(
		c.AdmittedTotal,
		c.RejectedTotal,
		c.OutcomesTotal,
		c.RequestDuration,
		c.InjectedLatency,
		c.CircuitState,
		c.CircuitChanges,
	)
	return c
}

// NewRegistry returns a registry with the Go runtime and process collectors
// already registered.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// WatchPipeline registers gauges that read bulkhead occupancy, active
// connections and rate-limit keys from p at scrape time.
func (c *Collector) WatchPipeline(p *chaos.Pipeline) {
	c.reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bulkhead_occupancy",
			Help:      "Bulkhead slots currently held.",
		}, func() float64 { return float64(p.Bulkhead().Occupancy()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Connections counted by the traffic shaper.",
		}, func() float64 { return float64(p.TrafficShaper().ActiveConnections()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rate_limit_keys",
			Help:      "Token buckets created by the rate limiter.",
		}, func() float64 { return float64(p.RateLimiter().Keys()) }),
	)
}

// ObserveAdmitted implements chaos.Observer.
func (c *Collector) ObserveAdmitted(route string) {
	c.AdmittedTotal.WithLabelValues(route).Inc()
}

// ObserveRejected implements chaos.Observer.
func (c *Collector) ObserveRejected(route string, reason chaos.Reason) {
	c.RejectedTotal.WithLabelValues(route, string(reason)).Inc()
}

// ObserveOutcome implements chaos.Observer.
func (c *Collector) ObserveOutcome(route string, outcome chaos.Outcome, elapsed time.Duration) {
	c.OutcomesTotal.WithLabelValues(route, outcome.String()).Inc()
	c.RequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// ObserveInjectedLatency implements chaos.Observer.
func (c *Collector) ObserveInjectedLatency(d time.Duration) {
	c.InjectedLatency.Observe(d.Seconds())
}

// ObserveCircuitState implements chaos.Observer.
func (c *Collector) ObserveCircuitState(from, to chaos.CircuitState) {
	c.CircuitState.Set(float64(to))
	c.CircuitChanges.WithLabelValues(from.String(), to.String()).Inc()
}

// Handler returns the HTTP handler for the /metrics endpoint of reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
