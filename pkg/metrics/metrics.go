// Package metrics defines the Prometheus collectors used by the pipeline's
// services and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the pipeline. Each process
// only moves the collectors for the stages it runs.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	ContentSubmittedTotal *prometheus.CounterVec
	ContentPublishedTotal prometheus.Counter

	MessagesConsumedTotal *prometheus.CounterVec
	IndexRetriesTotal     prometheus.Counter
	DeadLettersTotal      *prometheus.CounterVec
	IndexWriteDuration    prometheus.Histogram

	SearchQueriesTotal *prometheus.CounterVec
	SearchLatency      *prometheus.HistogramVec
	SearchResultsCount prometheus.Histogram
	CacheHitsTotal     prometheus.Counter
	CacheMissesTotal   prometheus.Counter

	AuthFailuresTotal   prometheus.Counter
	RateLimitedTotal    prometheus.Counter
	CircuitBreakerState *prometheus.GaugeVec
}

// New creates all collectors and registers them with reg. A nil reg means
// the global default registerer.
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
		ContentSubmittedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "content_submitted_total",
				Help: "Content submissions by mode (single, bulk) and outcome (accepted, rejected, unavailable).",
			},
			[]string{"mode", "outcome"},
		),
		ContentPublishedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "content_published_total",
				Help: "Content items handed to the message channel.",
			},
		),
		MessagesConsumedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "messages_consumed_total",
				Help: "Queue messages settled by the indexing consumer, by outcome (indexed, dead_lettered, failed).",
			},
			[]string{"outcome"},
		),
		IndexRetriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "index_retries_total",
				Help: "Index write attempts that failed transiently and were retried.",
			},
		),
		DeadLettersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dead_letters_total",
				Help: "Messages moved to the dead-letter path, by reason (permanent, exhausted).",
			},
			[]string{"reason"},
		),
		IndexWriteDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "index_write_duration_seconds",
				Help:    "Latency of single index write attempts in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_queries_total",
				Help: "Queries by kind (list, search) and result (ok, invalid, error).",
			},
			[]string{"kind", "result"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_latency_seconds",
				Help:    "Query latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"cache_status"},
		),
		SearchResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_results_count",
				Help:    "Number of results returned per query.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of query cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of query cache misses.",
			},
		),
		AuthFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "auth_failures_total",
				Help: "Requests rejected for missing or invalid credentials.",
			},
		),
		RateLimitedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rate_limited_total",
				Help: "Requests rejected by the per-identity rate limiter.",
			},
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
		m.ContentSubmittedTotal,
		m.ContentPublishedTotal,
		m.MessagesConsumedTotal,
		m.IndexRetriesTotal,
		m.DeadLettersTotal,
		m.IndexWriteDuration,
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.SearchResultsCount,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.AuthFailuresTotal,
		m.RateLimitedTotal,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler for the default
// registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
