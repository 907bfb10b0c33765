// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package placer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/LeeDigitalWorks/zapmap/pkg/debug"
)

var (
	allocatorCandidates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "zapmap",
			Subsystem: "allocator",
			Name:      "candidate_nodes",
			Help:      "Writable candidate nodes per tiering policy after the last refresh",
		},
		[]string{"policy"},
	)

	allocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zapmap",
			Subsystem: "allocator",
			Name:      "allocations_total",
			Help:      "Node allocation attempts by result",
		},
		[]string{"result"},
	)
)

func init() {
	debug.Registry().MustRegister(allocatorCandidates, allocationsTotal)
}
