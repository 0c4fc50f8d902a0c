// Package metrics exposes Prometheus counters for access decisions,
// notification delivery, moderation and purge, plus HTTP latency.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jobreel/backend/internal/models"
)

// Metrics owns a private registry so tests can build as many as they need.
type Metrics struct {
	registry *prometheus.Registry

	accessOutcomes  *prometheus.CounterVec
	refreshOutcomes *prometheus.CounterVec
	notifications   *prometheus.CounterVec
	resolutions     *prometheus.CounterVec
	purges          *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

// New registers every jobreel collector along with the Go runtime and
// process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		accessOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "jobreel_access_requests_total",
			Help: "Access requests by outcome.",
		}, []string{"outcome"}),
		refreshOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "jobreel_refresh_requests_total",
			Help: "Session refresh requests by outcome.",
		}, []string{"outcome"}),
		notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "jobreel_notifications_total",
			Help: "Notification deliveries by type and final status.",
		}, []string{"type", "status"}),
		resolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "jobreel_complaint_resolutions_total",
			Help: "Complaint resolutions by status and whether the video was blocked.",
		}, []string{"status", "blocked"}),
		purges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "jobreel_video_purges_total",
			Help: "Video object purges by result.",
		}, []string{"result"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "jobreel_http_requests_total",
			Help: "Total HTTP requests handled.",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "jobreel_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) AccessOutcome(outcome string) {
	m.accessOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RefreshOutcome(outcome string) {
	m.refreshOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) NotificationDelivered(kind models.NotificationType, status models.NotificationStatus) {
	m.notifications.WithLabelValues(string(kind), string(status)).Inc()
}

func (m *Metrics) ComplaintResolved(status models.ComplaintStatus, blocked bool) {
	m.resolutions.WithLabelValues(string(status), strconv.FormatBool(blocked)).Inc()
}

func (m *Metrics) VideoPurged(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	m.purges.WithLabelValues(result).Inc()
}

// ObserveHTTP records one completed request. route should be the registered
// pattern, not the raw path, to keep label cardinality bounded.
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
