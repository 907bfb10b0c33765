// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/LeeDigitalWorks/zapmap/pkg/debug"
)

func eventOpts(name, help string) prometheus.Opts {
	return prometheus.Opts{Namespace: "zapmap", Subsystem: "events", Name: name, Help: help}
}

var (
	metricsFactory = promauto.With(debug.Registry())

	emittedTotal = metricsFactory.NewCounterVec(
		prometheus.CounterOpts(eventOpts("emitted_total", "Build events queued for delivery")),
		[]string{"event_type"})

	droppedTotal = metricsFactory.NewCounter(
		prometheus.CounterOpts(eventOpts("dropped_total", "Build events dropped because emission or delivery is off")))

	// stage is "marshal" or "enqueue"
	emitErrorsTotal = metricsFactory.NewCounterVec(
		prometheus.CounterOpts(eventOpts("errors_total", "Build events that could not be queued")),
		[]string{"stage"})

	deliveriesTotal = metricsFactory.NewCounterVec(
		prometheus.CounterOpts(eventOpts("deliveries_total", "Publish attempts by publisher and outcome")),
		[]string{"publisher", "status"})

	deliveryDuration = metricsFactory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "zapmap",
		Subsystem: "events",
		Name:      "delivery_duration_seconds",
		Help:      "Latency of a single publish",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2.5, 10),
	}, []string{"publisher"})
)

// observeDelivery records one publish attempt
func observeDelivery(publisher string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	deliveriesTotal.WithLabelValues(publisher, status).Inc()
	deliveryDuration.WithLabelValues(publisher).Observe(time.Since(start).Seconds())
}
