package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for uploads and ordering.
// All methods are safe to call on a nil *Metrics, which records nothing.
type Metrics struct {
	registry            *prometheus.Registry
	requestsTotal       prometheus.Counter
	errorsTotal         prometheus.Counter
	requestDuration     *prometheus.HistogramVec
	uploadsSubmitted    prometheus.Counter
	uploadsRejected     prometheus.Counter
	uploadsCompleted    prometheus.Counter
	uploadsFailed       *prometheus.CounterVec
	activeSessions      prometheus.Gauge
	itemsAppendedTotal  prometheus.Counter
	itemsReorderedTotal prometheus.Counter
	itemsRemovedTotal   prometheus.Counter
}

// New creates and registers Prometheus metrics for the service.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "contentflow_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "contentflow_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "contentflow_request_duration_seconds",
			Help:    "HTTP request latency by route pattern and method",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
		uploadsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "contentflow_uploads_submitted_total",
			Help: "Total number of uploads accepted for background processing",
		}),
		uploadsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "contentflow_uploads_rejected_total",
			Help: "Total number of uploads rejected by validation",
		}),
		uploadsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "contentflow_uploads_completed_total",
			Help: "Total number of uploads that reached the completed stage",
		}),
		uploadsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "contentflow_uploads_failed_total",
			Help: "Total number of accepted uploads that ended in error, by error code",
		}, []string{"code"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "contentflow_upload_sessions_active",
			Help: "Number of upload sessions not yet in a terminal stage",
		}),
		itemsAppendedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "contentflow_items_appended_total",
			Help: "Total number of ordered items appended",
		}),
		itemsReorderedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "contentflow_items_reordered_total",
			Help: "Total number of successful reorder operations",
		}),
		itemsRemovedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "contentflow_items_removed_total",
			Help: "Total number of ordered items removed",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.requestDuration,
		m.uploadsSubmitted,
		m.uploadsRejected,
		m.uploadsCompleted,
		m.uploadsFailed,
		m.activeSessions,
		m.itemsAppendedTotal,
		m.itemsReorderedTotal,
		m.itemsRemovedTotal,
	)

	return m
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	if m != nil {
		m.requestsTotal.Inc()
	}
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	if m != nil {
		m.errorsTotal.Inc()
	}
}

// ObserveRequest records the latency of one request under its route pattern.
func (m *Metrics) ObserveRequest(route, method string, d time.Duration) {
	if m != nil {
		m.requestDuration.WithLabelValues(route, method).Observe(d.Seconds())
	}
}

// IncUploadsSubmitted counts an upload accepted for background processing.
func (m *Metrics) IncUploadsSubmitted() {
	if m != nil {
		m.uploadsSubmitted.Inc()
	}
}

// IncUploadsRejected counts an upload rejected by validation.
func (m *Metrics) IncUploadsRejected() {
	if m != nil {
		m.uploadsRejected.Inc()
	}
}

// IncUploadsCompleted counts an upload that reached the completed stage.
func (m *Metrics) IncUploadsCompleted() {
	if m != nil {
		m.uploadsCompleted.Inc()
	}
}

// IncUploadsFailed counts a background failure under its error code
// (transfer, processing, timeout, cancelled).
func (m *Metrics) IncUploadsFailed(code string) {
	if m != nil {
		m.uploadsFailed.WithLabelValues(code).Inc()
	}
}

// SetActiveSessions sets the active upload sessions gauge.
func (m *Metrics) SetActiveSessions(n int) {
	if m != nil {
		m.activeSessions.Set(float64(n))
	}
}

// IncItemsAppended increments the appended items counter.
func (m *Metrics) IncItemsAppended() {
	if m != nil {
		m.itemsAppendedTotal.Inc()
	}
}

// IncItemsReordered increments the reorder counter.
func (m *Metrics) IncItemsReordered() {
	if m != nil {
		m.itemsReorderedTotal.Inc()
	}
}

// IncItemsRemoved increments the removed items counter.
func (m *Metrics) IncItemsRemoved() {
	if m != nil {
		m.itemsRemovedTotal.Inc()
	}
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. active sessions).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
