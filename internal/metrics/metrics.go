// Package metrics provides Prometheus instrumentation for the market engine.
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
	// OrdersTotal counts orders placed, partitioned by kind (BUY,
	// SELL) and side (YES, NO).
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "duskmarket_orders_total",
		Help: "Total number of orders placed",
	}, []string{"kind", "side"})

	// TradesTotal counts fills executed, partitioned by kind (MATCH, MINT).
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "duskmarket_trades_total",
		Help: "Total number of trades executed",
	}, []string{"kind"})

	// CommandLatency is the time a command spends inside the matching
	// engine, from dispatch to reply, partitioned by command kind.
	CommandLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "duskmarket_command_latency_seconds",
		Help:    "MatchingEngine command processing latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	// ActiveMarkets tracks the number of open markets.
	ActiveMarkets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "duskmarket_active_markets",
		Help: "Number of currently open markets",
	})

	// HaltedMarkets tracks markets an actor has halted after a fatal error.
	HaltedMarkets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "duskmarket_halted_markets",
		Help: "Number of markets halted pending admin intervention",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "duskmarket_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// MintedPairsTotal counts YES+NO share pairs minted by crossing two
	// buy orders, partitioned by market.
	MintedPairsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "duskmarket_minted_pairs_total",
		Help: "Total YES+NO share pairs minted by crossing opposing buys",
	}, []string{"market_id"})

	// RiskRejectionsTotal counts trades rejected by the exposure limiter.
	RiskRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "duskmarket_risk_rejections_total",
		Help: "Trades rejected by the pre-trade exposure limiter",
	})

	// MarketVolume tracks cumulative trade volume (quantity) per market.
	MarketVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "duskmarket_market_volume_total",
		Help: "Cumulative trade volume in shares",
	}, []string{"market_id", "side"})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "duskmarket_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "duskmarket_http_request_duration_seconds",
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

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				path = p
			}
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
