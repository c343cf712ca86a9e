// Package metrics exposes Prometheus collectors for the audit service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	runsTotal                  *prometheus.CounterVec
	runsRejectedTotal          *prometheus.CounterVec
	anonymousInFlight          prometheus.Gauge
	runDurationSeconds         prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pageaudit_runs_total",
				Help: "Total number of runs reaching a terminal state, labeled by status and caller class.",
			},
			[]string{"status", "caller"},
		)

		runsRejectedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pageaudit_runs_rejected_total",
				Help: "Total number of rejected run submissions, labeled by reason.",
			},
			[]string{"reason"},
		)

		anonymousInFlight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pageaudit_anonymous_runs_in_flight",
				Help: "Number of anonymous runs currently holding an admission slot.",
			},
		)

		runDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pageaudit_run_duration_seconds",
				Help:    "Histogram of run wall-clock durations from creation to terminal state.",
				Buckets: []float64{1, 2, 5, 10, 20, 45, 90, 180},
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRun increments the terminal-run counter and records the duration.
func ObserveRun(status string, caller string, duration time.Duration) {
	runsTotal.WithLabelValues(status, caller).Inc()
	runDurationSeconds.Observe(duration.Seconds())
}

// ObserveRejection increments the rejection counter for the given reason.
func ObserveRejection(reason string) {
	runsRejectedTotal.WithLabelValues(reason).Inc()
}

// IncAnonymousInFlight increments the anonymous slot gauge.
func IncAnonymousInFlight() {
	anonymousInFlight.Inc()
}

// DecAnonymousInFlight decrements the anonymous slot gauge.
func DecAnonymousInFlight() {
	anonymousInFlight.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
