// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package replicator

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/LeeDigitalWorks/zapmap/pkg/debug"
)

var (
	replicationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zapmap",
			Subsystem: "replicator",
			Name:      "replications_total",
			Help:      "Block replications by result",
		},
		[]string{"result"},
	)

	replicationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "zapmap",
			Subsystem: "replicator",
			Name:      "replication_duration_seconds",
			Help:      "Duration of replicate calls to the agent",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		},
	)

	replicatedBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "zapmap",
			Subsystem: "replicator",
			Name:      "replicated_bytes_total",
			Help:      "Bytes of successfully replicated blocks",
		},
	)

	inFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "zapmap",
			Subsystem: "replicator",
			Name:      "in_flight",
			Help:      "Replications currently holding a limiter slot",
		},
	)
)

func init() {
	debug.Registry().MustRegister(replicationsTotal, replicationDuration, replicatedBytes, inFlight)
}
