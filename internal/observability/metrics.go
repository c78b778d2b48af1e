package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the application.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	auditFailures   prometheus.Counter
	auditWritten    *prometheus.CounterVec
}

// NewMetrics initializes the registry and base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aegis_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "aegis_identity_cache_hits_total",
		Help: "Identity cache lookups served from memory.",
	})
	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "aegis_identity_cache_misses_total",
		Help: "Identity cache lookups that hit the backing stores.",
	})
	auditFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "aegis_audit_write_failures_total",
		Help: "Audit entries that could not be persisted and were dropped.",
	})
	auditWritten := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_audit_entries_total",
		Help: "Audit entries persisted, by status.",
	}, []string{"status"})
	registry.MustRegister(requests, duration, cacheHits, cacheMisses, auditFailures, auditWritten)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		auditFailures:   auditFailures,
		auditWritten:    auditWritten,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for each HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// IdentityCacheHit counts a cache lookup served from memory.
func (m *Metrics) IdentityCacheHit() {
	if m != nil {
		m.cacheHits.Inc()
	}
}

// IdentityCacheMiss counts a cache lookup that loaded from the stores.
func (m *Metrics) IdentityCacheMiss() {
	if m != nil {
		m.cacheMisses.Inc()
	}
}

// AuditWriteFailure counts a dropped audit entry.
func (m *Metrics) AuditWriteFailure() {
	if m != nil {
		m.auditFailures.Inc()
	}
}

// AuditWritten counts a persisted audit entry by status.
func (m *Metrics) AuditWritten(status string) {
	if m != nil {
		m.auditWritten.WithLabelValues(status).Inc()
	}
}

// Registerer exposes the registry for custom metric registration.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
