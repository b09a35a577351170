package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chatverse"

// Metrics groups the collectors exported on /metrics.
// Components share one instance built by New.
type Metrics struct {
	registry *prometheus.Registry

	// Connections is the number of open websocket connections
	Connections prometheus.Gauge

	// PresenceEntries is the size of the presence registry
	PresenceEntries prometheus.Gauge

	// MessagesAppended counts messages accepted by the store, by origin (ws, http)
	MessagesAppended *prometheus.CounterVec

	// MessagesArchived counts archive operations
	MessagesArchived prometheus.Counter

	// EventsPublished counts hub events by type
	EventsPublished *prometheus.CounterVec

	// SlowConsumers counts subscribers evicted because their queue was full
	SlowConsumers prometheus.Counter

	// StaleSnapshots counts presence snapshots dropped for being older than the last delivered
	StaleSnapshots prometheus.Counter

	// RateLimited counts inbound events dropped by the per-connection limiter
	RateLimited prometheus.Counter

	// UploadBytes observes attachment sizes
	UploadBytes prometheus.Histogram

	// SessionErrors counts error frames sent to clients, by code
	SessionErrors *prometheus.CounterVec
}

// New builds the collectors on a private registry together with the Go runtime
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Open websocket connections.",
		}),
		PresenceEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "presence_entries",
			Help:      "Distinct identities currently present.",
		}),
		MessagesAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_appended_total",
			Help:      "Messages appended to the store.",
		}, []string{"origin"}),
		MessagesArchived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_archived_total",
			Help:      "Archive operations applied.",
		}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Events fanned out by the hub.",
		}, []string{"type"}),
		SlowConsumers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slow_consumers_evicted_total",
			Help:      "Subscribers dropped because their send queue was full.",
		}),
		StaleSnapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_presence_snapshots_total",
			Help:      "Presence snapshots dropped as out of order.",
		}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_events_total",
			Help:      "Inbound events rejected by the rate limiter.",
		}),
		UploadBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_bytes",
			Help:      "Size of uploaded attachments.",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 8),
		}),
		SessionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_errors_total",
			Help:      "Error frames sent to clients.",
		}, []string{"code"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Connections,
		m.PresenceEntries,
		m.MessagesAppended,
		m.MessagesArchived,
		m.EventsPublished,
		m.SlowConsumers,
		m.StaleSnapshots,
		m.RateLimited,
		m.UploadBytes,
		m.SessionErrors,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
