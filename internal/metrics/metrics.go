// Package metrics provides Prometheus instrumentation for the price oracle, the ledger and
// the HTTP API.
package metrics

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SourceFetchTotal counts price source calls by source and outcome.
	SourceFetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coincraze_price_source_fetch_total",
		Help: "Price source calls by outcome",
	}, []string{"source", "outcome"})

	// SourceFetchDuration tracks price source latency.
	SourceFetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "coincraze_price_source_fetch_seconds",
		Help:    "Price source call latency in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"source"})

	// OraclePrice is the last live price.
	OraclePrice = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "coincraze_oracle_price",
		Help: "Last successfully fetched price",
	})

	// OracleConsecutiveFailures mirrors the oracle failure counter.
	OracleConsecutiveFailures = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "coincraze_oracle_consecutive_failures",
		Help: "Refreshes in a row where every source failed",
	})

	// OracleRefreshTotal counts refreshes by result (ok, unavailable, dropped).
	OracleRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coincraze_oracle_refresh_total",
		Help: "Oracle refreshes by result",
	}, []string{"result"})

	// LedgerOperationsTotal counts ledger operations by kind and result.
	LedgerOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coincraze_ledger_operations_total",
		Help: "Ledger operations by kind and result",
	}, []string{"kind", "result"})

	// LedgerCashBalance is the current cash balance.
	LedgerCashBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "coincraze_ledger_cash_balance",
		Help: "Current cash balance",
	})

	// LedgerOwnedQuantity is the current held quantity.
	LedgerOwnedQuantity = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "coincraze_ledger_owned_quantity",
		Help: "Current held asset quantity",
	})

	// StreamClients tracks connected SSE and websocket clients.
	StreamClients = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "coincraze_stream_clients",
		Help: "Connected push clients by transport",
	}, []string{"transport"})

	// HTTPRequestsTotal counts HTTP requests by method, route and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coincraze_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "coincraze_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Recorder feeds oracle and ledger events into the package collectors.
type Recorder struct{}

// ObserveFetch records one source call.
func (Recorder) ObserveFetch(source string, err error, took time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	SourceFetchTotal.WithLabelValues(source, outcome).Inc()
	SourceFetchDuration.WithLabelValues(source).Observe(took.Seconds())
}

// ObserveRefresh records a refresh result and the current failure streak.
func (Recorder) ObserveRefresh(result string, price float64, failures int) {
	OracleRefreshTotal.WithLabelValues(result).Inc()
	OracleConsecutiveFailures.Set(float64(failures))
	if price > 0 {
		OraclePrice.Set(price)
	}
}

// ObserveLedger records a ledger operation and the resulting balances.
func (Recorder) ObserveLedger(kind string, err error, cash, owned float64) {
	result := "ok"
	if err != nil {
		result = "rejected"
	}
	LedgerOperationsTotal.WithLabelValues(kind, result).Inc()
	if err == nil {
		LedgerCashBalance.Set(cash)
		LedgerOwnedQuantity.Set(owned)
	}
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// route pattern keeps label cardinality bounded
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
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

// Flush keeps SSE streaming working behind the middleware.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack keeps websocket upgrades working behind the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
