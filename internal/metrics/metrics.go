// Package metrics exposes Prometheus counters and histograms for retrieval and the HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Retrieval outcome labels.
const (
	StatusOK        = "ok"
	StatusNoResults = "no_results"
	StatusError     = "error"
)

// RetrievalMetrics owns a private registry so tests and multiple engines do not collide.
// A nil *RetrievalMetrics is valid and records nothing.
type RetrievalMetrics struct {
	registry *prometheus.Registry

	retrievalsTotal   *prometheus.CounterVec
	retrievalDuration *prometheus.HistogramVec
	passagesReturned  *prometheus.HistogramVec
	requestTotal      *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
}

// NewRetrievalMetrics creates and registers all collectors.
func NewRetrievalMetrics() *RetrievalMetrics {
	registry := prometheus.NewRegistry()

	retrievalsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kotae",
			Subsystem: "retrieval",
			Name:      "requests_total",
			Help:      "Total retrievals by mode and outcome.",
		},
		[]string{"mode", "status"},
	)
	retrievalDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kotae",
			Subsystem: "retrieval",
			Name:      "duration_seconds",
			Help:      "Retrieval latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"mode"},
	)
	passagesReturned := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kotae",
			Subsystem: "retrieval",
			Name:      "passages",
			Help:      "Passages returned per successful retrieval.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 10},
		},
		[]string{"mode"},
	)
	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kotae",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kotae",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	registry.MustRegister(
		retrievalsTotal,
		retrievalDuration,
		passagesReturned,
		requestTotal,
		requestDuration,
	)

	return &RetrievalMetrics{
		registry:          registry,
		retrievalsTotal:   retrievalsTotal,
		retrievalDuration: retrievalDuration,
		passagesReturned:  passagesReturned,
		requestTotal:      requestTotal,
		requestDuration:   requestDuration,
	}
}

// Registry returns the underlying registry.
func (m *RetrievalMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *RetrievalMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRetrieval counts one retrieval and observes its latency. passages is only observed
// for successful retrievals.
func (m *RetrievalMetrics) RecordRetrieval(mode, status string, passages int, duration time.Duration) {
	if m == nil {
		return
	}
	if mode == "" {
		mode = "unknown"
	}
	m.retrievalsTotal.WithLabelValues(mode, status).Inc()
	m.retrievalDuration.WithLabelValues(mode).Observe(duration.Seconds())
	if status == StatusOK {
		m.passagesReturned.WithLabelValues(mode).Observe(float64(passages))
	}
}

// unmatchedRoute labels requests no route matched, so arbitrary paths cannot grow the series.
const unmatchedRoute = "unmatched"

// Middleware counts requests by method, chi route pattern, and status code.
func (m *RetrievalMetrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(recorder, r)
		route := routePattern(r)
		m.requestTotal.WithLabelValues(r.Method, route, strconv.Itoa(recorder.statusCode)).Inc()
		m.requestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// routePattern returns the pattern chi matched for r, read after routing has run.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return unmatchedRoute
	}
	if pattern := rctx.RoutePattern(); pattern != "" {
		return pattern
	}
	return unmatchedRoute
}
