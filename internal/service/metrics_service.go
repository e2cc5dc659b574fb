package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/casebook-api/internal/models"
)

// MetricsService owns the Prometheus registry for HTTP, cache and workflow
// instrumentation. A nil *MetricsService is valid and records nothing.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheLookups    *prometheus.CounterVec
	authorizations  *prometheus.CounterVec
	refreshes       *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	attachments     *prometheus.CounterVec
	amendments      prometheus.Counter
}

// NewMetricsService registers the collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache lookups",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_lookups_total",
		Help: "Cache lookups by result",
	}, []string{"result"})

	authorizations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "casebook_authorization_decisions_total",
		Help: "Permission matrix lookups by outcome",
	}, []string{"outcome"})

	refreshes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "casebook_permission_refreshes_total",
		Help: "Permission matrix reloads by result",
	}, []string{"result"})

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "casebook_status_transitions_total",
		Help: "Status transition attempts by target status and outcome",
	}, []string{"status", "outcome"})

	attachments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "casebook_attachment_changes_total",
		Help: "Committed attachment changes by type",
	}, []string{"type"})

	amendments := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "casebook_amendments_total",
		Help: "Committed case amendments",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheLookups,
		authorizations, refreshes, transitions, attachments, amendments, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheLatency:    cacheLatency,
		cacheWrite:      cacheWrite,
		cacheLookups:    cacheLookups,
		authorizations:  authorizations,
		refreshes:       refreshes,
		transitions:     transitions,
		attachments:     attachments,
		amendments:      amendments,
	}
}

// Registry exposes the underlying registry for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records a cache lookup.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// ObserveCacheWrite tracks cache write latency.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// RecordAuthorization counts one matrix decision (allowed, denied or stale).
func (m *MetricsService) RecordAuthorization(outcome string) {
	if m == nil {
		return
	}
	m.authorizations.WithLabelValues(outcome).Inc()
}

// RecordPermissionRefresh counts a matrix reload.
func (m *MetricsService) RecordPermissionRefresh(ok bool) {
	if m == nil {
		return
	}
	result := "error"
	if ok {
		result = "ok"
	}
	m.refreshes.WithLabelValues(result).Inc()
}

// RecordTransition counts a transition attempt.
func (m *MetricsService) RecordTransition(status models.CaseStatus, outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(status), outcome).Inc()
}

// RecordAttachmentChanges counts committed attachment changes.
func (m *MetricsService) RecordAttachmentChanges(changes []models.AttachmentChange) {
	if m == nil {
		return
	}
	for _, change := range changes {
		m.attachments.WithLabelValues(string(change.Type)).Inc()
	}
}

// RecordAmendment counts a committed amendment.
func (m *MetricsService) RecordAmendment() {
	if m == nil {
		return
	}
	m.amendments.Inc()
}
