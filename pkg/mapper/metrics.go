// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package mapper

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/LeeDigitalWorks/zapmap/pkg/debug"
)

var (
	buildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zapmap",
			Subsystem: "mapper",
			Name:      "builds_total",
			Help:      "Map build batches by result (success, incomplete, error)",
		},
		[]string{"result"},
	)

	buildDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "zapmap",
			Subsystem: "mapper",
			Name:      "build_duration_seconds",
			Help:      "Duration of a map build batch",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		},
	)

	chunksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zapmap",
			Subsystem: "mapper",
			Name:      "chunks_total",
			Help:      "Chunks processed by result (built, failed)",
		},
		[]string{"result"},
	)

	blocksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zapmap",
			Subsystem: "mapper",
			Name:      "blocks_total",
			Help:      "Blocks created or soft-deleted by map builds",
		},
		[]string{"op"},
	)

	chunkFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zapmap",
			Subsystem: "mapper",
			Name:      "chunk_failures_total",
			Help:      "Per-chunk failures by reason",
		},
		[]string{"reason"},
	)

	scannerEnqueuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "zapmap",
			Subsystem: "scanner",
			Name:      "enqueued_chunks_total",
			Help:      "Chunks enqueued for a map build by the scanner",
		},
	)

	scannerErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "zapmap",
			Subsystem: "scanner",
			Name:      "errors_total",
			Help:      "Failed scanner passes",
		},
	)
)

func init() {
	debug.Registry().MustRegister(
		buildsTotal,
		buildDuration,
		chunksTotal,
		blocksTotal,
		chunkFailuresTotal,
		scannerEnqueuedTotal,
		scannerErrorsTotal,
	)
}
