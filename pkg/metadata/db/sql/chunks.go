// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package sql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/LeeDigitalWorks/zapmap/pkg/metadata/db"
	"github.com/LeeDigitalWorks/zapmap/pkg/types"
)

// batchSize bounds the number of ids or rows per statement
const batchSize = 500

const chunkColumns = "id, bucket, tiering, system_id, size, building, last_build"

const blockColumns = "id, chunk_id, node_id, system_id, layer, layer_n, frag, size, digest_type, digest_b64, deleted"

// ============================================================================
// Store: reads
// ============================================================================

func (s *Store) GetChunks(ctx context.Context, ids []types.ChunkID) ([]*types.Chunk, error) {
	chunks := make([]*types.Chunk, 0, len(ids))
	for _, batch := range batches(ids) {
		rows, err := s.Query(ctx,
			"SELECT "+chunkColumns+" FROM chunks WHERE id IN ("+Placeholders(1, len(batch))+")",
			anySlice(batch)...,
		)
		if err != nil {
			return nil, fmt.Errorf("get chunks: %w", err)
		}
		found, err := collect(rows, scanChunk)
		if err != nil {
			return nil, fmt.Errorf("get chunks: %w", err)
		}
		chunks = append(chunks, found...)
	}

	// keep request order
	byID := make(map[types.ChunkID]*types.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}
	ordered := make([]*types.Chunk, 0, len(chunks))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			ordered = append(ordered, c)
			delete(byID, id)
		}
	}
	return ordered, nil
}

func (s *Store) LoadBlocksForChunks(ctx context.Context, chunks []*types.Chunk) error {
	ids := make([]types.ChunkID, len(chunks))
	byChunk := make(map[types.ChunkID][]*types.Block, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}

	for _, batch := range batches(ids) {
		rows, err := s.Query(ctx,
			"SELECT "+blockColumns+" FROM blocks WHERE chunk_id IN ("+Placeholders(1, len(batch))+") AND deleted IS NULL ORDER BY id",
			anySlice(batch)...,
		)
		if err != nil {
			return fmt.Errorf("load blocks: %w", err)
		}
		blocks, err := collect(rows, scanBlock)
		if err != nil {
			return fmt.Errorf("load blocks: %w", err)
		}
		for _, b := range blocks {
			byChunk[b.Chunk] = append(byChunk[b.Chunk], b)
		}
	}

	for _, c := range chunks {
		c.Blocks = byChunk[c.ID]
	}
	return nil
}

func (s *Store) ListChunksToBuild(ctx context.Context, q db.BuildQuery) ([]types.ChunkID, error) {
	query := `
		SELECT id FROM chunks
		WHERE (building IS NULL AND (last_build IS NULL OR last_build < $1))
		   OR (building IS NOT NULL AND building < $2)
		ORDER BY COALESCE(building, last_build, 0), id`
	stale := int64(0)
	if !q.StaleBuildingBefore.IsZero() {
		stale = q.StaleBuildingBefore.UnixNano()
	}
	args := []any{q.RebuildBefore.UnixNano(), stale}
	if q.Limit > 0 {
		query += " LIMIT $3"
		args = append(args, q.Limit)
	}

	rows, err := s.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list chunks to build: %w", err)
	}
	return collect(rows, func(sc scanner) (types.ChunkID, error) {
		var id string
		err := sc.Scan(&id)
		return types.ChunkID(id), err
	})
}

// ============================================================================
// Store and TxStore: writes
// ============================================================================

func (s *Store) InsertChunks(ctx context.Context, chunks []*types.Chunk) error {
	return insertChunks(ctx, s, chunks)
}

func (s *Store) UpdateChunksBuilding(ctx context.Context, ids []types.ChunkID, at time.Time) error {
	return updateChunks(ctx, s, "update chunks building", "building = $1", []any{at.UnixNano()}, ids)
}

func (s *Store) InsertBlocks(ctx context.Context, blocks []*types.Block) error {
	return insertBlocks(ctx, s, blocks)
}

func (s *Store) SoftDeleteBlocks(ctx context.Context, ids []types.BlockID, at time.Time) error {
	return softDeleteBlocks(ctx, s, ids, at)
}

func (s *Store) MarkChunksBuilt(ctx context.Context, ids []types.ChunkID, at time.Time) error {
	return updateChunks(ctx, s, "mark chunks built", "last_build = $1, building = NULL", []any{at.UnixNano()}, ids)
}

func (s *Store) ClearBuilding(ctx context.Context, ids []types.ChunkID) error {
	return updateChunks(ctx, s, "clear building", "building = NULL", nil, ids)
}

func (t *TxStore) InsertChunks(ctx context.Context, chunks []*types.Chunk) error {
	return insertChunks(ctx, t, chunks)
}

func (t *TxStore) UpdateChunksBuilding(ctx context.Context, ids []types.ChunkID, at time.Time) error {
	return updateChunks(ctx, t, "update chunks building", "building = $1", []any{at.UnixNano()}, ids)
}

func (t *TxStore) InsertBlocks(ctx context.Context, blocks []*types.Block) error {
	return insertBlocks(ctx, t, blocks)
}

func (t *TxStore) SoftDeleteBlocks(ctx context.Context, ids []types.BlockID, at time.Time) error {
	return softDeleteBlocks(ctx, t, ids, at)
}

func (t *TxStore) MarkChunksBuilt(ctx context.Context, ids []types.ChunkID, at time.Time) error {
	return updateChunks(ctx, t, "mark chunks built", "last_build = $1, building = NULL", []any{at.UnixNano()}, ids)
}

func (t *TxStore) ClearBuilding(ctx context.Context, ids []types.ChunkID) error {
	return updateChunks(ctx, t, "clear building", "building = NULL", nil, ids)
}

// ============================================================================
// Shared query logic
// ============================================================================

// updateChunks runs UPDATE chunks SET <set> WHERE id IN (...) in batches.
// set uses placeholders $1..$len(setArgs).
func updateChunks(ctx context.Context, q Querier, op, set string, setArgs []any, ids []types.ChunkID) error {
	for _, batch := range batches(ids) {
		query := "UPDATE chunks SET " + set + " WHERE id IN (" + Placeholders(len(setArgs)+1, len(batch)) + ")"
		args := append(append([]any{}, setArgs...), anySlice(batch)...)
		if _, err := q.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return nil
}

func insertChunks(ctx context.Context, q Querier, chunks []*types.Chunk) error {
	const cols = 7
	d := q.Dialect()
	for _, batch := range batches(chunks) {
		values := make([]string, len(batch))
		args := make([]any, 0, len(batch)*cols)
		for i, c := range batch {
			values[i] = "(" + Placeholders(i*cols+1, cols) + ")"
			args = append(args, string(c.ID), string(c.Bucket), string(c.Tiering), c.System, c.Size,
				nullNanos(c.Building), nullNanos(c.LastBuild))
		}
		query := d.InsertIgnore("INSERT INTO chunks ("+chunkColumns+") VALUES "+strings.Join(values, ", "), "id")
		if _, err := q.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("insert chunks: %w", err)
		}
	}
	return nil
}

func insertBlocks(ctx context.Context, q Querier, blocks []*types.Block) error {
	const cols = 11
	d := q.Dialect()
	for _, batch := range batches(blocks) {
		values := make([]string, len(batch))
		args := make([]any, 0, len(batch)*cols)
		for i, b := range batch {
			values[i] = "(" + Placeholders(i*cols+1, cols) + ")"
			args = append(args, string(b.ID), string(b.Chunk), string(b.Node), b.System,
				b.Layer, b.LayerN, b.Frag, b.Size, b.DigestType, b.DigestB64, nullNanos(b.Deleted))
		}
		query := d.InsertIgnore("INSERT INTO blocks ("+blockColumns+") VALUES "+strings.Join(values, ", "), "id")
		if _, err := q.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("insert blocks: %w", err)
		}
	}
	return nil
}

func softDeleteBlocks(ctx context.Context, q Querier, ids []types.BlockID, at time.Time) error {
	for _, batch := range batches(ids) {
		query := "UPDATE blocks SET deleted = $1 WHERE deleted IS NULL AND id IN (" + Placeholders(2, len(batch)) + ")"
		args := append([]any{at.UnixNano()}, anySlice(batch)...)
		if _, err := q.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("soft delete blocks: %w", err)
		}
	}
	return nil
}

// ============================================================================
// Row helpers
// ============================================================================

func scanChunk(sc scanner) (*types.Chunk, error) {
	var (
		c                   types.Chunk
		id, bucket, tiering string
		building, lastBuild sql.NullInt64
	)
	if err := sc.Scan(&id, &bucket, &tiering, &c.System, &c.Size, &building, &lastBuild); err != nil {
		return nil, err
	}
	c.ID = types.ChunkID(id)
	c.Bucket = types.BucketID(bucket)
	c.Tiering = types.TieringID(tiering)
	c.Building = fromNullNanos(building)
	c.LastBuild = fromNullNanos(lastBuild)
	return &c, nil
}

func scanBlock(sc scanner) (*types.Block, error) {
	var (
		b                   types.Block
		id, chunkID, nodeID string
		deleted             sql.NullInt64
	)
	err := sc.Scan(&id, &chunkID, &nodeID, &b.System, &b.Layer, &b.LayerN, &b.Frag,
		&b.Size, &b.DigestType, &b.DigestB64, &deleted)
	if err != nil {
		return nil, err
	}
	b.ID = types.BlockID(id)
	b.Chunk = types.ChunkID(chunkID)
	b.Node = types.NodeID(nodeID)
	b.Deleted = fromNullNanos(deleted)
	return &b, nil
}

func collect[T any](rows *sql.Rows, scan func(scanner) (T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func batches[T any](items []T) [][]T {
	var out [][]T
	for start := 0; start < len(items); start += batchSize {
		end := min(start+batchSize, len(items))
		out = append(out, items[start:end])
	}
	return out
}

func anySlice[T ~string](ids []T) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNullNanos(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64).UTC()
	return &t
}
