// Package metrics holds the pipeline's Prometheus collectors. Collectors
// are registered once at import on the default registry and served by the
// ops API's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesReceived counts DLQ messages received per queue.
	MessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "redrive_monitor_messages_received_total",
		Help: "DLQ messages received by the Monitor.",
	}, []string{"queue"})

	// MessagesPublished counts enriched events durably accepted by the bus.
	MessagesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "redrive_monitor_messages_published_total",
		Help: "Enriched messages published to the bus and deleted from their source queue.",
	}, []string{"queue"})

	// MessagesDropped counts runaway messages dropped at the ledger cap.
	MessagesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "redrive_monitor_messages_dropped_total",
		Help: "Messages dropped after exceeding the ledger retry cap.",
	}, []string{"queue"})

	// MessagesFailed counts per-message processing failures left for
	// redelivery.
	MessagesFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "redrive_monitor_messages_failed_total",
		Help: "Messages whose processing failed and was left for redelivery.",
	}, []string{"queue"})

	// Classifications counts Analyzer verdicts by category and decision
	// layer (heuristic, cache, fallback, or a model identifier).
	Classifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "redrive_analyzer_classifications_total",
		Help: "Classification verdicts by category and model tag.",
	}, []string{"category", "model_tag"})

	// ActionsExecuted counts Executor actions by action and outcome.
	ActionsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "redrive_executor_actions_total",
		Help: "Recovery actions dispatched by the Executor.",
	}, []string{"action", "outcome"})

	// StageDuration observes per-stage handling latency.
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "redrive_stage_duration_seconds",
		Help:    "Handling latency per pipeline stage.",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"stage"})
)
