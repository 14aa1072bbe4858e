// Package metrics holds the prometheus collectors shared across packages.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mentor_http_requests_total",
		Help: "HTTP requests by route pattern, method and status code.",
	}, []string{"route", "method", "code"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mentor_http_request_duration_seconds",
		Help:    "HTTP request latency by route pattern.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	GenerationCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mentor_generation_calls_total",
		Help: "Generation collaborator calls by provider and outcome.",
	}, []string{"provider", "outcome"})

	GenerationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mentor_generation_duration_seconds",
		Help:    "Generation collaborator latency, retries included.",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60, 120},
	}, []string{"provider"})

	NormalizeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mentor_normalize_failures_total",
		Help: "Generator responses rejected by the normalizer, by step and error kind.",
	}, []string{"step", "kind"})

	SummaryRepairs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mentor_summary_repairs_total",
		Help: "End-of-session summaries synthesized from malformed generator output.",
	})

	StoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mentor_store_errors_total",
		Help: "Session store failures swallowed at the adapter, by operation and reason.",
	}, []string{"op", "reason"})

	StepTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mentor_step_transitions_total",
		Help: "Successful flow steps by step and resulting state.",
	}, []string{"step", "to"})
)
