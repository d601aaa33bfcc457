// Package metrics holds the Prometheus collectors for the search cache.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/joshdurbin/product-cache/internal/domain"
)

// Upstream call outcomes
const (
	OutcomeSuccess     = "success"
	OutcomeTransient   = "transient"
	OutcomeRateLimited = "rate_limited"
	OutcomeConfig      = "configuration"
	OutcomeRejected    = "rejected"
	OutcomeBreakerOpen = "breaker_open"
)

var (
	responsesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "product_cache_responses_total",
			Help: "Orchestrated search responses by provenance tier",
		},
		[]string{"source"},
	)

	upstreamCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "product_cache_upstream_calls_total",
			Help: "Upstream search attempts by outcome",
		},
		[]string{"outcome"},
	)

	upstreamDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "product_cache_upstream_duration_seconds",
			Help:    "Upstream search attempt latency in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20},
		},
	)

	tierErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "product_cache_tier_errors_total",
			Help: "Swallowed cache tier failures",
		},
		[]string{"tier", "op"},
	)

	enrichmentDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "product_cache_enrichment_dropped_total",
			Help: "Raw results dropped during enrichment by reason",
		},
		[]string{"reason"},
	)

	// HTTPRequestsTotal counts served HTTP requests
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "product_cache_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDuration observes HTTP request latency
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "product_cache_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route"},
	)
)

// RecordResponse counts a served response
func RecordResponse(source domain.Source) {
	responsesTotal.WithLabelValues(string(source)).Inc()
}

// RecordUpstreamCall counts an upstream attempt and observes its latency
func RecordUpstreamCall(outcome string, elapsed time.Duration) {
	upstreamCallsTotal.WithLabelValues(outcome).Inc()
	if outcome != OutcomeBreakerOpen {
		upstreamDuration.Observe(elapsed.Seconds())
	}
}

// RecordTierError counts a swallowed tier failure
func RecordTierError(tier, op string) {
	tierErrorsTotal.WithLabelValues(tier, op).Inc()
}

// RecordDropped counts results dropped during enrichment
func RecordDropped(reason string, n int) {
	if n > 0 {
		enrichmentDroppedTotal.WithLabelValues(reason).Add(float64(n))
	}
}
