// Feedrank - Personalized Feed Ranking and Caching Engine
// Copyright 2026 Nova Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nova-social/feedrank

// Package metrics provides Prometheus instrumentation for the feed engine:
// ranking pass latency, candidate generator health, cache tier efficiency,
// fallback activations, and background refresher runs.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"endpoint", "method", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method"},
	)

	// Ranking Pipeline Metrics
	RankingPassDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "feed_ranking_pass_duration_seconds",
			Help:    "Duration of full ranking passes (generators + merge) in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	)

	RankingCandidates = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feed_ranking_candidates",
			Help:    "Number of candidates returned per generator per pass",
			Buckets: []float64{0, 10, 25, 50, 100, 200, 500},
		},
		[]string{"source"},
	)

	GeneratorFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_generator_failures_total",
			Help: "Total candidate generator failures (degraded to empty source)",
		},
		[]string{"source", "reason"},
	)

	FallbackActivations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feed_fallback_activations_total",
			Help: "Total requests served by the degraded fallback path",
		},
	)

	FallbackFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feed_fallback_failures_total",
			Help: "Total hard failures where the primary store was also unreachable",
		},
	)

	// Cache Tier Metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_cache_hits_total",
			Help: "Total cache tier hits by artifact kind",
		},
		[]string{"kind"}, // "page", "hot_posts", "suggestions"
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_cache_misses_total",
			Help: "Total cache tier misses by artifact kind",
		},
		[]string{"kind"},
	)

	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_cache_errors_total",
			Help: "Total cache tier errors (treated as misses by callers)",
		},
		[]string{"kind", "operation"},
	)

	SeenSetSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "feed_seen_filtered_posts",
			Help:    "Posts removed per pass by the 24h cross-session dedup set",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
		},
	)

	// Analytics Store Metrics
	AnalyticsQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "analytics_query_duration_seconds",
			Help:    "Duration of analytics store (DuckDB) queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)

	AnalyticsQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analytics_query_errors_total",
			Help: "Total analytics store query errors",
		},
		[]string{"query"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_transitions_total",
			Help: "Total circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Background Refresher Metrics
	RefresherRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_refresher_runs_total",
			Help: "Total background refresher runs by outcome",
		},
		[]string{"refresher", "outcome"}, // outcome: "ok", "error"
	)

	RefresherDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feed_refresher_duration_seconds",
			Help:    "Duration of background refresher runs in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"refresher"},
	)

	WarmedPages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feed_warmed_pages_total",
			Help: "Total first pages pre-ranked and pushed by the feed warmer",
		},
	)
)

// RecordAPIRequest records a completed API request with its status code.
func RecordAPIRequest(endpoint, method string, status int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(endpoint, method, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

// RecordAnalyticsQuery records a completed analytics store query.
func RecordAnalyticsQuery(query string, duration time.Duration, err error) {
	AnalyticsQueryDuration.WithLabelValues(query).Observe(duration.Seconds())
	if err != nil {
		AnalyticsQueryErrors.WithLabelValues(query).Inc()
	}
}

// RecordRefresherRun records a background refresher cycle.
func RecordRefresherRun(refresher string, duration time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	RefresherRuns.WithLabelValues(refresher, outcome).Inc()
	RefresherDuration.WithLabelValues(refresher).Observe(duration.Seconds())
}
