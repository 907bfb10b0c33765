// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package taskqueue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/LeeDigitalWorks/zapmap/pkg/debug"
)

var reg = promauto.With(debug.Registry())

func taskqueueOpts(name, help string) prometheus.Opts {
	return prometheus.Opts{Namespace: "zapmap", Subsystem: "taskqueue", Name: name, Help: help}
}

var (
	// TasksProcessedTotal is labelled by outcome: completed, failed,
	// invalid or no_handler
	TasksProcessedTotal = reg.NewCounterVec(prometheus.CounterOpts(
		taskqueueOpts("tasks_processed_total", "Tasks handled by workers, by outcome"),
	), []string{"type", "status"})

	TaskProcessingDuration = reg.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "zapmap",
		Subsystem: "taskqueue",
		Name:      "task_processing_duration_seconds",
		Help:      "Wall time of a task handler",
		Buckets:   prometheus.ExponentialBucketsRange(0.005, 600, 14),
	}, []string{"type"})

	TasksEnqueuedTotal = reg.NewCounterVec(prometheus.CounterOpts(
		taskqueueOpts("tasks_enqueued_total", "Tasks enqueued"),
	), []string{"type"})

	TaskRetries = reg.NewCounterVec(prometheus.CounterOpts(
		taskqueueOpts("task_retries_total", "Failed tasks put back for another attempt"),
	), []string{"type"})

	QueueDepth = reg.NewGaugeVec(prometheus.GaugeOpts(
		taskqueueOpts("queue_depth", "Tasks in the queue by status"),
	), []string{"status"})

	WorkerActive = reg.NewGauge(prometheus.GaugeOpts(
		taskqueueOpts("workers_active", "Worker goroutines running"),
	))

	DequeueErrors = reg.NewCounter(prometheus.CounterOpts(
		taskqueueOpts("dequeue_errors_total", "Dequeue calls that failed"),
	))

	DeadlockRetries = reg.NewCounter(prometheus.CounterOpts(
		taskqueueOpts("deadlock_retries_total", "Statements retried after a database deadlock"),
	))
)

// UpdateQueueDepth copies stats into the queue_depth gauge
func UpdateQueueDepth(stats *QueueStats) {
	if stats == nil {
		return
	}
	for status, n := range map[TaskStatus]int64{
		StatusPending:    stats.Pending,
		StatusRunning:    stats.Running,
		StatusFailed:     stats.Failed,
		StatusDeadLetter: stats.DeadLetter,
		StatusCancelled:  stats.Cancelled,
		StatusCompleted:  stats.Completed,
	} {
		QueueDepth.WithLabelValues(string(status)).Set(float64(n))
	}
}
