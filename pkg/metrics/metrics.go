// Package metrics defines the Prometheus metric collectors used across the
// archive and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the archive.
type Metrics struct {
	HTTPRequestsTotal      *prometheus.CounterVec
	HTTPRequestDuration    *prometheus.HistogramVec
	HTTPRequestsInFlight   prometheus.Gauge
	IngestionsTotal        *prometheus.CounterVec
	IngestionDuration      prometheus.Histogram
	IngestionStageDuration *prometheus.HistogramVec
	ConversationBytes      prometheus.Histogram
	ListCacheHitsTotal     prometheus.Counter
	ListCacheMissesTotal   prometheus.Counter
	OrphanBlobsTotal       *prometheus.CounterVec
	CircuitBreakerState    *prometheus.GaugeVec
}

// New creates all collectors and registers them with reg. A nil reg uses the
// default Prometheus registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		IngestionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conversation_ingestions_total",
				Help: "Ingestion attempts by outcome and the stage that failed (empty on success).",
			},
			[]string{"status", "stage"},
		),
		IngestionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "conversation_ingestion_duration_seconds",
				Help:    "End-to-end ingestion latency in seconds.",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
		),
		IngestionStageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conversation_ingestion_stage_duration_seconds",
				Help:    "Latency of each ingestion stage in seconds.",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"stage"},
		),
		ConversationBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "conversation_source_bytes",
				Help:    "Size of submitted conversation payloads in bytes.",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
			},
		),
		ListCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "conversation_list_cache_hits_total",
				Help: "Total number of listing cache hits.",
			},
		),
		ListCacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "conversation_list_cache_misses_total",
				Help: "Total number of listing cache misses.",
			},
		),
		OrphanBlobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orphan_blobs_total",
				Help: "Orphaned blobs found by reconciliation, by action (deleted, reported, failed).",
			},
			[]string{"action"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.IngestionsTotal,
		m.IngestionDuration,
		m.IngestionStageDuration,
		m.ConversationBytes,
		m.ListCacheHitsTotal,
		m.ListCacheMissesTotal,
		m.OrphanBlobsTotal,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
