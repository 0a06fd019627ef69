// Package metrics exposes the named measurement points spec.md §4.6
// names, grounded on
// _examples/replay-api-replay-api/pkg/infra/metrics/prometheus.go's
// promauto-registered package-level collector style and its
// HTTP-middleware/Handler split.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests served by the control surface"},
		[]string{"method", "path", "status"},
	)
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)

	SchedulerTick = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_tick_total", Help: "Total scheduler tick evaluations",
	})
	SchedulerRunStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_run_started_total", Help: "Total recompute runs started",
	}, []string{"scope"})
	SchedulerRunCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_run_completed_total", Help: "Total recompute runs that completed without error",
	}, []string{"scope"})
	SchedulerRunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scheduler_run_duration_seconds",
		Help:    "Recompute run duration in seconds",
		Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 300, 900},
	}, []string{"scope"})
	SchedulerRunPlayersUpdated = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scheduler_run_players_updated",
		Help:    "Players updated per recompute run",
		Buckets: []float64{1, 10, 50, 100, 500, 1000, 5000},
	}, []string{"scope"})
	SchedulerRunFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_run_failed_total", Help: "Total recompute runs that failed",
	}, []string{"kind"})
	KernelNonConvergence = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kernel_non_convergence_total", Help: "Total Glicko-2 volatility solves that failed to converge",
	})
)

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{w, http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware records http_requests_total and http_request_duration_seconds
// for every request except /metrics itself.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		wrapped := newResponseWriter(w)
		next.ServeHTTP(wrapped, r)

		httpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}
