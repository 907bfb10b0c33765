// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/LeeDigitalWorks/zapmap/pkg/debug"
)

func agentOpts(name, help string) prometheus.Opts {
	return prometheus.Opts{Namespace: "zapmap", Subsystem: "agent", Name: name, Help: help}
}

var (
	metricsFactory = promauto.With(debug.Registry())

	requestsTotal = metricsFactory.NewCounterVec(
		prometheus.CounterOpts(agentOpts("requests_total", "Agent RPCs served by method and status code")),
		[]string{"method", "code"})

	requestDuration = metricsFactory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "zapmap",
		Subsystem: "agent",
		Name:      "request_duration_seconds",
		Help:      "Agent RPC latency",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
	}, []string{"method"})

	// direction is read, written or replicated
	blockBytesTotal = metricsFactory.NewCounterVec(
		prometheus.CounterOpts(agentOpts("block_bytes_total", "Block bytes moved by direction")),
		[]string{"direction"})

	digestFailuresTotal = metricsFactory.NewCounter(
		prometheus.CounterOpts(agentOpts("digest_failures_total", "Blocks rejected for a size or digest mismatch")))
)

func metricsUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		method := methodName(info.FullMethod)
		requestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
		requestsTotal.WithLabelValues(method, status.Code(err).String()).Inc()
		return resp, err
	}
}

// methodName strips the service from "/pkg.Service/Method"
func methodName(full string) string {
	return full[strings.LastIndexByte(full, '/')+1:]
}
