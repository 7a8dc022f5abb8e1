// Package observability wires Prometheus metrics for the HTTP surface and
// the receiving pipeline.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the application's Prometheus metrics.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	receiptsTotal   *prometheus.CounterVec
	costUpdates     prometheus.Histogram
	queueMutations  *prometheus.CounterVec
}

// NewMetrics initialises the registry and base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fbms_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fbms_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	receipts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fbms_receipts_processed_total",
		Help: "Goods receipt submissions by outcome.",
	}, []string{"outcome"})
	costUpdates := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "fbms_cost_update_duration_seconds",
		Help:    "Duration of purchase order cost update transactions.",
		Buckets: prometheus.DefBuckets,
	})
	queueMutations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fbms_receiving_queue_mutations_total",
		Help: "Receiving queue mutations by event kind.",
	}, []string{"event"})
	registry.MustRegister(requests, duration, receipts, costUpdates, queueMutations)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		receiptsTotal:   receipts,
		costUpdates:     costUpdates,
		queueMutations:  queueMutations,
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

// Middleware records request metrics for every HTTP request.
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

// ObserveReceipt counts one receipt submission ending in the given outcome
// (applied, validation_failed, duplicate, failed).
func (m *Metrics) ObserveReceipt(outcome string) {
	if m == nil {
		return
	}
	m.receiptsTotal.WithLabelValues(outcome).Inc()
}

// ObserveCostUpdate records the duration of one cost update transaction.
func (m *Metrics) ObserveCostUpdate(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.costUpdates.Observe(elapsed.Seconds())
}

// ObserveQueueMutation counts one receiving queue mutation per event kind.
func (m *Metrics) ObserveQueueMutation(event string) {
	if m == nil {
		return
	}
	m.queueMutations.WithLabelValues(event).Inc()
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
