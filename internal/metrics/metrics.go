// Package metrics exposes Prometheus collectors for the indexer service.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	seedPagesTotal        *prometheus.CounterVec
	itemsSeededTotal      prometheus.Counter
	itemsEnrichedTotal    *prometheus.CounterVec
	enrichmentPending     prometheus.Gauge
	upstreamErrorsTotal   *prometheus.CounterVec
	crawlRunning          prometheus.Gauge
	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDurSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		seedPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexer_seed_pages_total",
				Help: "Listing pages fetched during seeding, labeled by mode.",
			},
			[]string{"mode"},
		)

		itemsSeededTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "indexer_items_seeded_total",
				Help: "Listing items upserted by the seed phase.",
			},
		)

		itemsEnrichedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexer_items_enriched_total",
				Help: "Records processed by enrichment, labeled by outcome (merged, absent).",
			},
			[]string{"outcome"},
		)

		enrichmentPending = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "indexer_enrichment_pending",
				Help: "Records still awaiting enrichment.",
			},
		)

		upstreamErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexer_upstream_errors_total",
				Help: "Transient upstream failures, labeled by source.",
			},
			[]string{"source"},
		)

		crawlRunning = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "indexer_crawl_running",
				Help: "1 while a crawl loop is active.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SeedPageFetched counts one listing page in the given mode (full or
// incremental).
func SeedPageFetched(mode string) {
	if seedPagesTotal != nil {
		seedPagesTotal.WithLabelValues(mode).Inc()
	}
}

// ItemsSeeded adds to the seeded item counter.
func ItemsSeeded(n int) {
	if itemsSeededTotal != nil {
		itemsSeededTotal.Add(float64(n))
	}
}

// ItemEnriched counts one enrichment outcome.
func ItemEnriched(outcome string) {
	ItemsEnriched(outcome, 1)
}

// ItemsEnriched adds n to the enrichment counter for the given outcome.
func ItemsEnriched(outcome string, n int) {
	if itemsEnrichedTotal != nil && n > 0 {
		itemsEnrichedTotal.WithLabelValues(outcome).Add(float64(n))
	}
}

// SetPending records the pending enrichment gauge.
func SetPending(n int) {
	if enrichmentPending != nil {
		enrichmentPending.Set(float64(n))
	}
}

// UpstreamError counts a transient failure for the named source.
func UpstreamError(source string) {
	if upstreamErrorsTotal != nil {
		upstreamErrorsTotal.WithLabelValues(source).Inc()
	}
}

// SetCrawlRunning flips the crawl activity gauge.
func SetCrawlRunning(running bool) {
	if crawlRunning == nil {
		return
	}
	if running {
		crawlRunning.Set(1)
	} else {
		crawlRunning.Set(0)
	}
}

// ObserveHTTPRequest records one served request for the middleware.
func ObserveHTTPRequest(method, code, route string, seconds float64) {
	if httpRequestsTotal != nil {
		httpRequestsTotal.WithLabelValues(method, code).Inc()
	}
	if httpRequestDurSeconds != nil {
		httpRequestDurSeconds.WithLabelValues(method, route).Observe(seconds)
	}
}
