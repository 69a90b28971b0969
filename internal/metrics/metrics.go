// Package metrics holds the Prometheus instruments exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TurnsTotal counts handled turns by outcome (ok, rejected, error).
	TurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mnemo",
		Name:      "turns_total",
		Help:      "Conversation turns handled, by outcome.",
	}, []string{"outcome"})

	// TurnDuration observes the wall time of the synchronous turn pipeline.
	TurnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "mnemo",
		Name:      "turn_duration_seconds",
		Help:      "Duration of the synchronous turn pipeline.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	// ToolExecutionsTotal counts tool invocations requested by the model.
	ToolExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mnemo",
		Name:      "tool_executions_total",
		Help:      "Tool executions, by tool name and result.",
	}, []string{"tool", "result"})

	// ReflectionsTotal counts background reflection runs by outcome.
	ReflectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mnemo",
		Name:      "reflections_total",
		Help:      "Background reflection runs, by outcome.",
	}, []string{"outcome"})

	// MemoriesRetrievedTotal counts long-term memories injected into turn
	// context.
	MemoriesRetrievedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mnemo",
		Name:      "memories_retrieved_total",
		Help:      "Long-term memories injected into turn context.",
	})
)
