package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "vboxremote"

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and
// records nothing, so components can run without instrumentation.
type Metrics struct {
	// Transport metrics
	TransportCalls    *prometheus.CounterVec
	TransportDuration *prometheus.HistogramVec
	TransportErrors   *prometheus.CounterVec

	// Cache metrics
	CacheHits      *prometheus.CounterVec
	CacheMisses    *prometheus.CounterVec
	CoalescedCalls *prometheus.CounterVec
	Invalidations  *prometheus.CounterVec
	StaleDiscards  *prometheus.CounterVec

	// Poller metrics
	PollersActive  prometheus.Gauge
	PollerOutcomes *prometheus.CounterVec

	// Session and event metrics
	SessionsActive  prometheus.Gauge
	SessionsTotal   *prometheus.CounterVec
	EventsReceived  *prometheus.CounterVec
	SnapshotsThawed *prometheus.CounterVec

	// Bridge metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	WSConnections   prometheus.Gauge
	WSMessages      *prometheus.CounterVec
}

// NewRegistry returns a registry with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// NewMetrics registers the metrics on reg. A nil reg gets a private registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	callBuckets := []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

	return &Metrics{
		TransportCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_calls_total",
			Help:      "Remote calls sent through the transport",
		}, []string{"interface", "method", "status"}),
		TransportDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transport_call_duration_seconds",
			Help:      "Remote call round trip time",
			Buckets:   callBuckets,
		}, []string{"interface", "method"}),
		TransportErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_errors_total",
			Help:      "Failed remote calls by fault code or transport failure",
		}, []string{"interface", "method", "code"}),

		CacheHits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Property reads served from the cache",
		}, []string{"interface", "method"}),
		CacheMisses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Property reads that needed a remote call",
		}, []string{"interface", "method"}),
		CoalescedCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_coalesced_total",
			Help:      "Property reads that shared another caller's remote call",
		}, []string{"interface", "method"}),
		Invalidations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_invalidations_total",
			Help:      "Cache invalidations by scope",
		}, []string{"interface", "scope"}),
		StaleDiscards: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_stale_discards_total",
			Help:      "Fetched values dropped because the key was invalidated in flight",
		}, []string{"interface", "method"}),

		PollersActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "progress_pollers_active",
			Help:      "Progress pollers currently running",
		}),
		PollerOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "progress_outcomes_total",
			Help:      "Finished progress polls by terminal state",
		}, []string{"state"}),

		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Open remote sessions",
		}),
		SessionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Session lifecycle transitions",
		}, []string{"event"}),
		EventsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_received_total",
			Help:      "Event notifications delivered to listeners",
		}, []string{"name", "status"}),
		SnapshotsThawed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_thawed_total",
			Help:      "Snapshot containers thawed",
		}, []string{"status"}),

		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Bridge HTTP requests",
		}, []string{"method", "path", "status"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Bridge HTTP request duration",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		WSConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections",
			Help:      "Open progress feed connections",
		}),
		WSMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "Progress feed messages",
		}, []string{"direction", "type"}),
	}
}

// RecordTransportCall records a finished remote call.
func (m *Metrics) RecordTransportCall(iface, method, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.TransportCalls.WithLabelValues(iface, method, status).Inc()
	m.TransportDuration.WithLabelValues(iface, method).Observe(duration.Seconds())
}

// RecordTransportError records a failed remote call.
func (m *Metrics) RecordTransportError(iface, method, code string) {
	if m == nil {
		return
	}
	m.TransportErrors.WithLabelValues(iface, method, code).Inc()
}

// RecordCacheHit records a read served from the cache.
func (m *Metrics) RecordCacheHit(iface, method string) {
	if m == nil {
		return
	}
	m.CacheHits.WithLabelValues(iface, method).Inc()
}

// RecordCacheMiss records a read that went remote.
func (m *Metrics) RecordCacheMiss(iface, method string) {
	if m == nil {
		return
	}
	m.CacheMisses.WithLabelValues(iface, method).Inc()
}

// RecordCoalesced records a read that shared an in-flight call.
func (m *Metrics) RecordCoalesced(iface, method string) {
	if m == nil {
		return
	}
	m.CoalescedCalls.WithLabelValues(iface, method).Inc()
}

// RecordInvalidation records an invalidation; scope is "named" or "object".
func (m *Metrics) RecordInvalidation(iface, scope string) {
	if m == nil {
		return
	}
	m.Invalidations.WithLabelValues(iface, scope).Inc()
}

// RecordStaleDiscard records a fetched value dropped after an invalidation.
func (m *Metrics) RecordStaleDiscard(iface, method string) {
	if m == nil {
		return
	}
	m.StaleDiscards.WithLabelValues(iface, method).Inc()
}

// PollerStarted increments the active poller gauge.
func (m *Metrics) PollerStarted() {
	if m == nil {
		return
	}
	m.PollersActive.Inc()
}

// PollerFinished decrements the active poller gauge and counts the outcome.
func (m *Metrics) PollerFinished(state string) {
	if m == nil {
		return
	}
	m.PollersActive.Dec()
	m.PollerOutcomes.WithLabelValues(state).Inc()
}

// SessionOpened records a logon, reattach or resume.
func (m *Metrics) SessionOpened(event string) {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
	m.SessionsTotal.WithLabelValues(event).Inc()
}

// SessionClosed records a logoff.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
	m.SessionsTotal.WithLabelValues("logoff").Inc()
}

// RecordEvent records an event delivered to a listener.
func (m *Metrics) RecordEvent(name, status string) {
	if m == nil {
		return
	}
	m.EventsReceived.WithLabelValues(name, status).Inc()
}

// RecordThaw records a snapshot thaw attempt.
func (m *Metrics) RecordThaw(status string) {
	if m == nil {
		return
	}
	m.SnapshotsThawed.WithLabelValues(status).Inc()
}

// RecordHTTPRequest records a bridge request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordWSMessage records a progress feed message.
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments open feed connections.
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
}

// DecWSConnections decrements open feed connections.
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
}
