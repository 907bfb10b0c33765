// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package db

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/LeeDigitalWorks/zapmap/pkg/debug"
	"github.com/LeeDigitalWorks/zapmap/pkg/types"
)

var (
	metricsFactory = promauto.With(debug.Registry())

	opDuration = metricsFactory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "zapmap",
		Subsystem: "db",
		Name:      "query_duration_seconds",
		Help:      "Latency of metadata store operations",
		Buckets:   prometheus.ExponentialBucketsRange(0.0001, 5, 12),
	}, []string{"operation", "status"})

	opTotal = metricsFactory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zapmap",
		Subsystem: "db",
		Name:      "queries_total",
		Help:      "Metadata store operations by outcome",
	}, []string{"operation", "status"})

	poolConns = metricsFactory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "zapmap",
		Subsystem: "db",
		Name:      "connections",
		Help:      "Connections of the SQL pool by state",
	}, []string{"state"})
)

// UpdateConnectionMetrics publishes the SQL pool's in-use and idle counts
func UpdateConnectionMetrics(inUse, idle int) {
	poolConns.WithLabelValues("in_use").Set(float64(inUse))
	poolConns.WithLabelValues("idle").Set(float64(idle))
}

// timed runs fn and records its latency and outcome under op
func timed(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	status := "ok"
	if err != nil {
		status = "error"
	}
	opDuration.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
	opTotal.WithLabelValues(op, status).Inc()
	return err
}

// MetricsDB instruments every operation of the wrapped DB
type MetricsDB struct {
	instrumentedWriter
	db DB
}

var _ DB = (*MetricsDB)(nil)

func NewMetricsDB(inner DB) *MetricsDB {
	return &MetricsDB{instrumentedWriter: instrumentedWriter{w: inner}, db: inner}
}

// Unwrap returns the wrapped DB
func (m *MetricsDB) Unwrap() DB { return m.db }

func (m *MetricsDB) Close() error { return m.db.Close() }

func (m *MetricsDB) Migrate(ctx context.Context) error {
	return timed("migrate", func() error { return m.db.Migrate(ctx) })
}

func (m *MetricsDB) WithTx(ctx context.Context, fn func(tx TxStore) error) error {
	return timed("transaction", func() error {
		return m.db.WithTx(ctx, func(tx TxStore) error {
			return fn(instrumentedWriter{w: tx})
		})
	})
}

func (m *MetricsDB) GetChunks(ctx context.Context, ids []types.ChunkID) (chunks []*types.Chunk, err error) {
	err = timed("get_chunks", func() error {
		chunks, err = m.db.GetChunks(ctx, ids)
		return err
	})
	return chunks, err
}

func (m *MetricsDB) LoadBlocksForChunks(ctx context.Context, chunks []*types.Chunk) error {
	return timed("load_blocks_for_chunks", func() error { return m.db.LoadBlocksForChunks(ctx, chunks) })
}

func (m *MetricsDB) ListChunksToBuild(ctx context.Context, q BuildQuery) (ids []types.ChunkID, err error) {
	err = timed("list_chunks_to_build", func() error {
		ids, err = m.db.ListChunksToBuild(ctx, q)
		return err
	})
	return ids, err
}

// instrumentedWriter records the writes of a DB or of a transaction
type instrumentedWriter struct {
	w ChunkWriter
}

func (i instrumentedWriter) InsertChunks(ctx context.Context, chunks []*types.Chunk) error {
	return timed("insert_chunks", func() error { return i.w.InsertChunks(ctx, chunks) })
}

func (i instrumentedWriter) UpdateChunksBuilding(ctx context.Context, ids []types.ChunkID, at time.Time) error {
	return timed("update_chunks_building", func() error { return i.w.UpdateChunksBuilding(ctx, ids, at) })
}

func (i instrumentedWriter) InsertBlocks(ctx context.Context, blocks []*types.Block) error {
	return timed("insert_blocks", func() error { return i.w.InsertBlocks(ctx, blocks) })
}

func (i instrumentedWriter) SoftDeleteBlocks(ctx context.Context, ids []types.BlockID, at time.Time) error {
	return timed("soft_delete_blocks", func() error { return i.w.SoftDeleteBlocks(ctx, ids, at) })
}

func (i instrumentedWriter) MarkChunksBuilt(ctx context.Context, ids []types.ChunkID, at time.Time) error {
	return timed("mark_chunks_built", func() error { return i.w.MarkChunksBuilt(ctx, ids, at) })
}

func (i instrumentedWriter) ClearBuilding(ctx context.Context, ids []types.ChunkID) error {
	return timed("clear_building", func() error { return i.w.ClearBuilding(ctx, ids) })
}
