// Package observability exposes the daemon's prometheus metrics.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector of the daemon. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry          *prometheus.Registry
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	renders           *prometheus.CounterVec
	renderDuration    *prometheus.HistogramVec
	diagnostics       *prometheus.CounterVec
	statesIngested    *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on a fresh registry
// together with the Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hadash_http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hadash_http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		renders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hadash_graph_renders_total",
			Help: "Total graph renders by graph and result.",
		}, []string{"graph", "result"}),
		renderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hadash_graph_render_duration_seconds",
			Help:    "Histogram of graph render durations, history load included.",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
		}, []string{"graph"}),
		diagnostics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hadash_graph_diagnostics_total",
			Help: "Total composition diagnostics (skipped labels) by graph.",
		}, []string{"graph"}),
		statesIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hadash_states_ingested_total",
			Help: "Total entity states stored by ingestion source.",
		}, []string{"source"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpDuration,
		m.renders,
		m.renderDuration,
		m.diagnostics,
		m.statesIngested,
	)

	return m
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// WrapHandler counts requests and their duration under the route name.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		duration := time.Since(start).Seconds()
		if m != nil {
			m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
			m.httpDuration.WithLabelValues(route).Observe(duration)
		}
	})
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// GraphRendered records one render attempt.
func (m *Metrics) GraphRendered(graphID string, duration time.Duration, diagnostics int, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.renders.WithLabelValues(graphID, result).Inc()
	m.renderDuration.WithLabelValues(graphID).Observe(duration.Seconds())
	if diagnostics > 0 {
		m.diagnostics.WithLabelValues(graphID).Add(float64(diagnostics))
	}
}

// StatesIngested records stored states, source is "http" or "import".
func (m *Metrics) StatesIngested(source string, n int) {
	if m == nil {
		return
	}
	m.statesIngested.WithLabelValues(source).Add(float64(n))
}
