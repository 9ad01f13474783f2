// Package metrics exposes the Prometheus instrumentation shared by the
// ingest and processor binaries. A custom registry keeps the scrape
// surface limited to what we register.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every registered collector.
type Metrics struct {
	registry *prometheus.Registry

	// ingest
	EventsReceived *prometheus.CounterVec
	EventsQueued   prometheus.Counter
	EventsRejected *prometheus.CounterVec
	IngestLatency  prometheus.Histogram
	QueueMode      prometheus.Gauge // 0 = redis, 1 = memory fallback

	// processor
	EventsProcessed *prometheus.CounterVec
	ProcessErrors   prometheus.Counter
	BufferDepth     prometheus.Gauge
	AlertsFired     *prometheus.CounterVec
}

// New builds and registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		EventsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lynex_events_received_total",
			Help: "Events accepted at the ingest boundary, by event type.",
		}, []string{"type"}),
		EventsQueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "lynex_events_queued_total",
			Help: "Events appended to the durable bus.",
		}),
		EventsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lynex_events_rejected_total",
			Help: "Events rejected at the ingest boundary, by reason.",
		}, []string{"reason"}),
		IngestLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "lynex_ingest_duration_seconds",
			Help:    "Wall time of the ingest request path.",
			Buckets: prometheus.DefBuckets,
		}),
		QueueMode: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lynex_queue_memory_mode",
			Help: "1 when the bus has degraded to the in-memory fallback.",
		}),

		EventsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lynex_events_processed_total",
			Help: "Events handled by the processor, by outcome.",
		}, []string{"outcome"}),
		ProcessErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "lynex_process_errors_total",
			Help: "Processor loop errors.",
		}),
		BufferDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lynex_analytics_buffer_depth",
			Help: "Rows currently buffered by the analytics writer.",
		}),
		AlertsFired: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lynex_alerts_fired_total",
			Help: "Alerts fired during evaluation, by severity.",
		}, []string{"severity"}),
	}
}

// Handler returns the scrape endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
