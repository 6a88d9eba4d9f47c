// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CatalogRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_requests_total",
			Help: "Catalog HTTP requests by endpoint and response status",
		},
		[]string{"endpoint", "status"},
	)

	CatalogRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_retries_total",
			Help: "Catalog requests repeated after a server or transport failure",
		},
		[]string{"endpoint"},
	)

	// CatalogCircuitBreakerState is 0=closed, 1=open, 2=half-open.
	CatalogCircuitBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_circuit_breaker_state",
			Help: "Current state of the catalog circuit breaker",
		},
	)

	RateLimitWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ratelimit_wait_seconds",
			Help:    "Time spent waiting for a catalog rate limit token",
			Buckets: []float64{.001, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	RateLimitTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ratelimit_timeouts_total",
			Help: "Token acquisitions that gave up before a token became available",
		},
	)

	EvaluationPages = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "evaluation_pages_fetched",
			Help:    "Catalog pages fetched per list evaluation",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
		},
		[]string{"mode"},
	)

	ListRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "list_refresh_total",
			Help: "List refreshes by outcome (success, failed, coalesced)",
		},
		[]string{"outcome"},
	)

	ListRefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "list_refresh_duration_seconds",
			Help:    "Wall time of a list refresh including catalog fetches",
			Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 120, 300},
		},
	)
)
