// Package metrics provides Prometheus instrumentation for fly exits.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// DecisionsTotal counts engine decisions by structure and reason ("NONE" when holding).
	DecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flyexit_decisions_total",
		Help: "Exit decisions by structure and reason",
	}, []string{"structure", "reason"})

	// ExitAttemptsTotal counts router attempts by outcome.
	ExitAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flyexit_exit_attempts_total",
		Help: "Split-vertical exit attempts by outcome",
	}, []string{"outcome"})

	// ExitFailuresTotal counts failed attempts by failure kind.
	ExitFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flyexit_exit_failures_total",
		Help: "Failed exit attempts by cause",
	}, []string{"cause"})

	// SpreadSlippage tracks per-spread slippage as a fraction of theo mid.
	SpreadSlippage = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "flyexit_spread_slippage_ratio",
		Help:    "Per-spread slippage as a fraction of theoretical mid",
		Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.015, 0.02, 0.03, 0.05},
	})

	// ExitLatency tracks total attempt latency measured from fill timestamps.
	ExitLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "flyexit_exit_latency_ms",
		Help:    "Total exit latency in milliseconds",
		Buckets: []float64{50, 100, 250, 500, 750, 1000, 1500, 2000, 3000},
	})

	// RealizedPnL tracks realized P&L of successful exits in dollars.
	RealizedPnL = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "flyexit_realized_pnl_dollars",
		Help:    "Realized P&L of successful exits",
		Buckets: []float64{-500, -250, -100, -50, 0, 50, 100, 250, 500, 1000},
	})

	// OpenPositions tracks flies currently held in the ledger.
	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flyexit_open_positions",
		Help: "Number of flies in open or exit_pending state",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flyexit_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "flyexit_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics. Behind chi the path
// label is the route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if pattern := rc.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
