// Package metrics provides Prometheus instrumentation for the proxy,
// grounded on absmach-mproxy's pkg/metrics (prometheus.NewRegistry +
// promauto.With(reg) construction).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every counter/gauge the proxy engine reports.
type Metrics struct {
	Registry *prometheus.Registry

	ActiveConnections prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	DialFailuresTotal prometheus.Counter

	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter

	FilterErrorsTotal    *prometheus.CounterVec
	FilterCorruptedTotal prometheus.Counter

	StartTLSRejectedTotal prometheus.Counter
}

// New builds a fresh registry and its metrics, mirroring mproxy's
// once-at-startup Metrics construction.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ldapdoxy_active_connections",
			Help: "Number of Connection Pairs currently open.",
		}),
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "ldapdoxy_connections_total",
			Help: "Total number of client connections accepted.",
		}),
		DialFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "ldapdoxy_upstream_dial_failures_total",
			Help: "Total number of failed upstream dial attempts.",
		}),
		CacheHitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "ldapdoxy_cache_hits_total",
			Help: "Total number of search requests answered from cache.",
		}),
		CacheMissesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "ldapdoxy_cache_misses_total",
			Help: "Total number of search requests forwarded upstream.",
		}),
		FilterErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ldapdoxy_filter_errors_total",
			Help: "Total number of filter invocations that raised an error.",
		}, []string{"direction"}),
		FilterCorruptedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "ldapdoxy_filter_corrupted_encoding_total",
			Help: "Total number of pairs closed due to filtervalidate re-encode failure.",
		}),
		StartTLSRejectedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "ldapdoxy_starttls_rejected_total",
			Help: "Total number of StartTLS extended requests rejected.",
		}),
	}
}
