// Package metrics provides Prometheus instrumentation for the marketplace
// daemon.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CatalogLoads counts catalog loads by outcome (ok, error, stale).
	CatalogLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nftmarket_catalog_loads_total",
		Help: "Catalog loads by outcome",
	}, []string{"outcome"})

	CatalogLoadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nftmarket_catalog_load_duration_seconds",
		Help:    "Catalog load duration in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	// CatalogItems tracks the size of the installed catalog by role.
	CatalogItems = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nftmarket_catalog_items",
		Help: "Items in the installed catalog",
	}, []string{"role"})

	// MetadataFailures counts items that degraded to placeholder metadata.
	MetadataFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nftmarket_metadata_failures_total",
		Help: "Metadata resolutions that failed and fell back to placeholders",
	})

	MetadataCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nftmarket_metadata_cache_total",
		Help: "Metadata cache lookups by result",
	}, []string{"result"})

	// Actions counts dispatched marketplace writes by op and outcome.
	Actions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nftmarket_actions_total",
		Help: "Marketplace actions by operation and outcome",
	}, []string{"op", "outcome"})

	ActionLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nftmarket_action_latency_seconds",
		Help:    "Time from submission to settlement of marketplace actions",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 60, 120},
	}, []string{"op"})

	// ActiveClocks tracks running auction countdowns.
	ActiveClocks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nftmarket_auction_clocks",
		Help: "Number of running auction clocks",
	})

	AuctionsEnded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nftmarket_auctions_ended_total",
		Help: "Auctions observed crossing their end time",
	})

	// SalesIngested counts sales rows newly persisted.
	SalesIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nftmarket_sales_ingested_total",
		Help: "Sales records newly written to the history store",
	})

	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nftmarket_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nftmarket_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nftmarket_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request counts and latency. Requests are labelled by
// their matched route pattern to keep cardinality bounded.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		path := r.Pattern
		if path == "" {
			path = "unmatched"
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

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return hj.Hijack()
}
