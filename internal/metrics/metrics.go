// Package metrics registers the Prometheus metrics used by the cache engine.
// Import this package (via blank import) from the server entry point to
// register all metrics before the exposition handler is mounted.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts completed requests labelled by tenant and
	// decision ("exact", "semantic", "miss", "rejected", "error").
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "semcache_requests_total",
			Help: "Total number of requests processed by the cache engine.",
		},
		[]string{"tenant", "decision"},
	)

	// RequestDuration observes end-to-end request latency in seconds,
	// labelled by decision so hit and miss latencies separate cleanly.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "semcache_request_duration_seconds",
			Help:    "End-to-end request duration in seconds.",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"decision"},
	)

	// Similarity observes the best similarity score seen on each semantic
	// lookup, hit or not.
	Similarity = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "semcache_similarity",
			Help:    "Best cosine similarity per semantic lookup.",
			Buckets: []float64{.5, .6, .7, .75, .8, .83, .86, .9, .93, .96, .99, 1},
		},
	)

	// CacheEntries tracks the number of live cache entries per tenant.
	CacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "semcache_entries",
			Help: "Live cache entries per tenant.",
		},
		[]string{"tenant"},
	)

	// TokensSaved counts tokens that were served from cache instead of
	// being recomputed upstream.
	TokensSaved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "semcache_tokens_saved_total",
			Help: "Total tokens served from cache instead of upstream.",
		},
		[]string{"tenant"},
	)

	// UpstreamErrors counts upstream failures by provider and error type
	// ("transient", "permanent", "rate_limited", "circuit_open").
	UpstreamErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "semcache_upstream_errors_total",
			Help: "Total upstream errors by type.",
		},
		[]string{"provider", "error_type"},
	)

	// CircuitBreakerState tracks the upstream breaker state as a gauge:
	// 0 = closed, 1 = open, 2 = half_open.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "semcache_circuit_breaker_state",
			Help: "Upstream circuit breaker state (0=closed 1=open 2=half_open).",
		},
		[]string{"provider"},
	)

	// SweeperEvictions counts entries removed by the TTL sweeper.
	SweeperEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "semcache_sweeper_evictions_total",
			Help: "Total expired entries removed by the TTL sweeper.",
		},
	)

	// InFlightWaiters counts requests that joined an in-flight upstream
	// call instead of issuing their own.
	InFlightWaiters = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "semcache_inflight_shared_total",
			Help: "Requests that shared an in-flight upstream call.",
		},
	)
)
