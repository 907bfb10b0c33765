// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package compression

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/LeeDigitalWorks/zapmap/pkg/debug"
)

var (
	compressionRatio = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "zapmap",
		Subsystem: "compression",
		Name:      "ratio",
		Help:      "Compression ratio of stored blocks (original_size / compressed_size)",
		Buckets:   []float64{1.0, 1.25, 1.5, 2.0, 3.0, 4.0, 5.0, 10.0},
	}, []string{"algorithm"})

	compressionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "zapmap",
		Subsystem: "compression",
		Name:      "duration_seconds",
		Help:      "Time spent compressing/decompressing blocks",
		Buckets:   prometheus.DefBuckets,
	}, []string{"algorithm", "operation"}) // compress, decompress

	compressedBytesIn = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zapmap",
		Subsystem: "compression",
		Name:      "bytes_in_total",
		Help:      "Block bytes before compression",
	}, []string{"algorithm"})

	compressedBytesOut = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zapmap",
		Subsystem: "compression",
		Name:      "bytes_out_total",
		Help:      "Block bytes after compression",
	}, []string{"algorithm"})

	compressionSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zapmap",
		Subsystem: "compression",
		Name:      "skipped_total",
		Help:      "Blocks stored uncompressed because compression saved nothing",
	}, []string{"algorithm"})

	decompressedBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zapmap",
		Subsystem: "compression",
		Name:      "decompressed_bytes_total",
		Help:      "Block bytes produced by decompression",
	}, []string{"algorithm"})
)

func init() {
	debug.Registry().MustRegister(
		compressionRatio,
		compressionDuration,
		compressedBytesIn,
		compressedBytesOut,
		compressionSkipped,
		decompressedBytes,
	)
}

func recordCompression(algo Algorithm, originalSize, compressedSize int, skipped bool) {
	label := algo.String()
	if skipped {
		compressionSkipped.WithLabelValues(label).Inc()
		return
	}
	compressedBytesIn.WithLabelValues(label).Add(float64(originalSize))
	compressedBytesOut.WithLabelValues(label).Add(float64(compressedSize))
	compressionRatio.WithLabelValues(label).Observe(Ratio(originalSize, compressedSize))
}
