// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package system

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/LeeDigitalWorks/zapmap/pkg/debug"
)

var (
	refreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zapmap",
			Subsystem: "topology",
			Name:      "refresh_total",
			Help:      "Topology refreshes by result",
		},
		[]string{"result"},
	)

	refreshDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "zapmap",
			Subsystem: "topology",
			Name:      "refresh_duration_seconds",
			Help:      "Time to load and validate the topology",
			Buckets:   prometheus.DefBuckets,
		},
	)

	nodesGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "zapmap",
			Subsystem: "topology",
			Name:      "nodes",
			Help:      "Nodes per pool and online state in the current snapshot",
		},
		[]string{"pool", "online"},
	)
)

func init() {
	debug.Registry().MustRegister(refreshTotal, refreshDuration, nodesGauge)
}

func updateTopologyMetrics(s *Snapshot) {
	nodesGauge.Reset()
	for pool, nodes := range s.byPool {
		var online, offline int
		for _, n := range nodes {
			if n.Online {
				online++
			} else {
				offline++
			}
		}
		nodesGauge.WithLabelValues(string(pool), "true").Set(float64(online))
		nodesGauge.WithLabelValues(string(pool), "false").Set(float64(offline))
	}
}
