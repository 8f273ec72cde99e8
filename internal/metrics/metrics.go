// Package metrics exposes Prometheus collectors for index sync, search and chat.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors. A nil *Metrics is valid and records nothing,
// so components can take one optionally.
//
// Metrics:
//   - neurobot_sync_total{result} - syncs by outcome (noop, applied, error)
//   - neurobot_sync_duration_seconds - sync latency
//   - neurobot_sync_embedded_total - entries embedded by syncs
//   - neurobot_sync_orphans_total - index ids swept because no docstore entry named them
//   - neurobot_search_duration_seconds{kind} - retrieval latency (chat, semantic, hybrid)
//   - neurobot_chat_messages_total{result} - chat turns by outcome
//   - neurobot_chat_duration_seconds - end-to-end chat latency
//   - neurobot_tenant_requests_in_flight - requests holding a tenant context
type Metrics struct {
	registry *prometheus.Registry

	SyncTotal     *prometheus.CounterVec
	SyncDuration  prometheus.Histogram
	SyncEmbedded  prometheus.Counter
	SyncOrphans   prometheus.Counter
	SearchLatency *prometheus.HistogramVec
	ChatTotal     *prometheus.CounterVec
	ChatDuration  prometheus.Histogram
	InFlight      prometheus.Gauge
}

// New creates collectors on a private registry, together with the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		SyncTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "neurobot_sync_total",
			Help: "Knowledge base index syncs by result",
		}, []string{"result"}),
		SyncDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "neurobot_sync_duration_seconds",
			Help:    "Duration of knowledge base index syncs",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		SyncEmbedded: f.NewCounter(prometheus.CounterOpts{
			Name: "neurobot_sync_embedded_total",
			Help: "Entries embedded by syncs",
		}),
		SyncOrphans: f.NewCounter(prometheus.CounterOpts{
			Name: "neurobot_sync_orphans_total",
			Help: "Index ids removed because no docstore entry named them",
		}),
		SearchLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "neurobot_search_duration_seconds",
			Help:    "Retrieval latency",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"kind"}),
		ChatTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "neurobot_chat_messages_total",
			Help: "Chat turns by result",
		}, []string{"result"}),
		ChatDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "neurobot_chat_duration_seconds",
			Help:    "End-to-end chat latency",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		InFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "neurobot_tenant_requests_in_flight",
			Help: "Requests currently holding a tenant context",
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordSync records one sync. result is "noop", "applied" or "error".
func (m *Metrics) RecordSync(result string, embedded, orphans int, d time.Duration) {
	if m == nil {
		return
	}
	m.SyncTotal.WithLabelValues(result).Inc()
	m.SyncDuration.Observe(d.Seconds())
	m.SyncEmbedded.Add(float64(embedded))
	m.SyncOrphans.Add(float64(orphans))
}

// RecordSearch records a retrieval of the given kind.
func (m *Metrics) RecordSearch(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.SearchLatency.WithLabelValues(kind).Observe(d.Seconds())
}

// RecordChat records one chat turn. result is e.g. "answered", "control", "stopped" or "error".
func (m *Metrics) RecordChat(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.ChatTotal.WithLabelValues(result).Inc()
	m.ChatDuration.Observe(d.Seconds())
}

// TrackInFlight increments the in-flight gauge and returns its decrement.
func (m *Metrics) TrackInFlight() func() {
	if m == nil {
		return func() {}
	}
	m.InFlight.Inc()
	return m.InFlight.Dec
}
