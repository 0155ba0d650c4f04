// Package metrics exposes the service's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksStarted counts claimed task executions by kind.
	TasksStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "syncservice",
		Name:      "tasks_started_total",
		Help:      "Number of task executions started, by task kind.",
	}, []string{"kind"})

	// TasksFinished counts terminal task outcomes by kind and stage.
	TasksFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "syncservice",
		Name:      "tasks_finished_total",
		Help:      "Number of tasks reaching a terminal stage, by kind and stage.",
	}, []string{"kind", "stage"})

	// ItemsSynced counts per-item sync results across all task types.
	ItemsSynced = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "syncservice",
		Name:      "items_synced_total",
		Help:      "Number of items processed, by result (created, updated, skipped, failed).",
	}, []string{"result"})

	// FeedsSubmitted counts marketplace bulk submissions by kind.
	FeedsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "syncservice",
		Name:      "feeds_submitted_total",
		Help:      "Number of marketplace bulk feeds submitted, by kind (price, inventory).",
	}, []string{"kind"})

	// TaskDuration observes end-to-end task execution time by kind.
	TaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "syncservice",
		Name:      "task_duration_seconds",
		Help:      "End-to-end task execution time, by kind.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"kind"})
)
