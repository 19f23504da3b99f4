/*
Package monitoring provides Prometheus metrics for the remote object layer.

Metrics are registered on an injected prometheus.Registerer so several
instances (one per test, one per process) can coexist:

	reg := monitoring.NewRegistry()
	metrics := monitoring.NewMetrics(reg)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

Covered concerns:

  - transport calls, latency and failures per interface and method
  - cache hits, misses, coalesced reads, invalidations and stale discards
  - progress pollers and their outcomes
  - sessions, event deliveries and snapshot thaws
  - bridge HTTP requests and progress feed connections

All Record methods are safe on a nil *Metrics.
*/
package monitoring
