// Package metrics provides Prometheus instrumentation for the settlement engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SettlementsTotal counts committed settlements by game and result (win/loss).
	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_bets_total",
		Help: "Total number of settled bets",
	}, []string{"game", "result"})

	// SettlementLatency tracks the settlement transaction, lock wait included.
	SettlementLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settlement_latency_seconds",
		Help:    "Settlement transaction latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"game"})

	// SettlementRejections counts bets that did not settle, by reason.
	SettlementRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_rejections_total",
		Help: "Bets rejected before or during settlement",
	}, []string{"reason"})

	// SeedRotations counts retired seeds by trigger (user, exhausted).
	SeedRotations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_seed_rotations_total",
		Help: "Server seeds retired and replaced",
	}, []string{"trigger"})

	// FanoutTasks counts post-settlement tasks by name and outcome (ok, error, panic, timeout).
	FanoutTasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_fanout_tasks_total",
		Help: "Post-settlement tasks executed",
	}, []string{"task", "outcome"})

	// FanoutDropped counts tasks dropped because the queue was full or closed.
	FanoutDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_fanout_dropped_total",
		Help: "Post-settlement tasks dropped without running",
	}, []string{"task"})

	// FanoutQueueDepth tracks queued, not yet running tasks.
	FanoutQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "settlement_fanout_queue_depth",
		Help: "Post-settlement tasks waiting for a worker",
	})

	// CommissionsSkipped counts bets the risk guard excluded from commission.
	CommissionsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_commissions_skipped_total",
		Help: "Bets excluded from affiliate commission as low risk",
	}, []string{"game"})

	// RateLimitEntries tracks users currently tracked by the local rate limiter.
	RateLimitEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "settlement_rate_limit_entries",
		Help: "Users tracked by the in-memory rate limiter",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "settlement_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settlement_http_request_duration_seconds",
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

		// Route pattern, not raw path, to keep user ids out of the labels.
		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			path = rc.RoutePattern()
		}
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

// Hijack lets the websocket upgrade pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
