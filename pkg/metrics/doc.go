// Package metrics exposes the resilience pipeline's counters as Prometheus
// metrics.
//
// A Collector is passed to chaos.NewPipeline via chaos.WithObserver and
// receives admission, rejection, outcome and breaker events. Point-in-time
// values such as bulkhead occupancy are read at scrape time through
// WatchPipeline.
//
//	reg := metrics.NewRegistry()
//	m := metrics.New(reg)
//	p := chaos.NewPipeline(cfg, chaos.WithObserver(m))
//	m.WatchPipeline(p)
//	mux.Handle("/metrics", metrics.Handler(reg))
//
// All metric names carry the mockd_chaos_ prefix.
package metrics
