// Package metrics provides Prometheus instrumentation for the matrix engine.
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
	// PositionsCreated counts positions purchased, partitioned by level.
	PositionsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matrix_positions_created_total",
		Help: "Total number of matrix positions purchased",
	}, []string{"level"})

	// FillsTotal counts member placements, partitioned by level.
	FillsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matrix_fills_total",
		Help: "Total number of member fills applied",
	}, []string{"level"})

	// CyclesTotal counts completed cycles, partitioned by level.
	CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matrix_cycles_total",
		Help: "Total number of positions that cycled",
	}, []string{"level"})

	// PayoutVolume accumulates cycle payout value. Metric only — the
	// ledger itself never uses floats.
	PayoutVolume = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matrix_payout_volume_total",
		Help: "Cumulative cycle payout value",
	})

	// ActivePositions tracks the number of not-yet-cycled positions.
	ActivePositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "matrix_active_positions",
		Help: "Number of currently active positions",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "matrix_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matrix_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "matrix_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the raw path for the label; the API surface is small enough
		// that cardinality stays bounded.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
