// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeeDigitalWorks/zapmap/pkg/metadata/db"
	"github.com/LeeDigitalWorks/zapmap/pkg/types"
)

var now = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func seed(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()
	d := New()
	require.NoError(t, d.InsertChunks(ctx, []*types.Chunk{
		{ID: "c1", Bucket: "b1"},
		{ID: "c2", Bucket: "b1"},
	}))
	require.NoError(t, d.InsertBlocks(ctx, []*types.Block{
		{ID: "blk-2", Chunk: "c1", Node: "n2", Layer: types.LayerData},
		{ID: "blk-1", Chunk: "c1", Node: "n1", Layer: types.LayerData},
		{ID: "blk-3", Chunk: "c2", Node: "n1", Layer: types.LayerData},
	}))
	return d
}

func TestGetChunksAndLoadBlocks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := seed(t)

	chunks, err := d.GetChunks(ctx, []types.ChunkID{"c1", "missing", "c2"})
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	require.NoError(t, d.SoftDeleteBlocks(ctx, []types.BlockID{"blk-3"}, now))
	require.NoError(t, d.LoadBlocksForChunks(ctx, chunks))

	require.Len(t, chunks[0].Blocks, 2)
	assert.Equal(t, types.BlockID("blk-1"), chunks[0].Blocks[0].ID, "ordered by id")
	assert.Empty(t, chunks[1].Blocks, "deleted blocks are not loaded")
}

func TestReturnedChunksAreCopies(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := seed(t)

	chunks, err := d.GetChunks(ctx, []types.ChunkID{"c1"})
	require.NoError(t, err)
	chunks[0].Bucket = "mutated"

	again, err := d.GetChunks(ctx, []types.ChunkID{"c1"})
	require.NoError(t, err)
	assert.Equal(t, types.BucketID("b1"), again[0].Bucket)
}

func TestBuildingLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := seed(t)

	require.NoError(t, d.UpdateChunksBuilding(ctx, []types.ChunkID{"c1", "c2"}, now))
	chunks, _ := d.GetChunks(ctx, []types.ChunkID{"c1", "c2"})
	for _, c := range chunks {
		require.NotNil(t, c.Building)
		assert.True(t, c.Building.Equal(now))
	}

	require.NoError(t, d.MarkChunksBuilt(ctx, []types.ChunkID{"c1"}, now.Add(time.Second)))
	require.NoError(t, d.ClearBuilding(ctx, []types.ChunkID{"c2"}))

	chunks, _ = d.GetChunks(ctx, []types.ChunkID{"c1", "c2"})
	assert.Nil(t, chunks[0].Building)
	require.NotNil(t, chunks[0].LastBuild)
	assert.Nil(t, chunks[1].Building)
	assert.Nil(t, chunks[1].LastBuild)
}

func TestSoftDeleteIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := seed(t)

	require.NoError(t, d.SoftDeleteBlocks(ctx, []types.BlockID{"blk-1"}, now))
	require.NoError(t, d.SoftDeleteBlocks(ctx, []types.BlockID{"blk-1"}, now.Add(time.Hour)))

	b, ok := d.Block("blk-1")
	require.True(t, ok)
	require.NotNil(t, b.Deleted)
	assert.True(t, b.Deleted.Equal(now), "first delete timestamp is kept")
}

func TestWithTxRollback(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := seed(t)

	errBoom := errors.New("boom")
	err := d.WithTx(ctx, func(tx db.TxStore) error {
		require.NoError(t, tx.InsertBlocks(ctx, []*types.Block{{ID: "blk-new", Chunk: "c1"}}))
		require.NoError(t, tx.MarkChunksBuilt(ctx, []types.ChunkID{"c1"}, now))
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	_, ok := d.Block("blk-new")
	assert.False(t, ok)
	chunks, _ := d.GetChunks(ctx, []types.ChunkID{"c1"})
	assert.Nil(t, chunks[0].LastBuild)

	require.NoError(t, d.WithTx(ctx, func(tx db.TxStore) error {
		return tx.InsertBlocks(ctx, []*types.Block{{ID: "blk-new", Chunk: "c1"}})
	}))
	_, ok = d.Block("blk-new")
	assert.True(t, ok)
}

func TestListChunksToBuild(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := New()

	old := now.Add(-48 * time.Hour)
	recent := now.Add(-time.Minute)
	staleBuild := now.Add(-2 * time.Hour)
	require.NoError(t, d.InsertChunks(ctx, []*types.Chunk{
		{ID: "never"},
		{ID: "old", LastBuild: &old},
		{ID: "recent", LastBuild: &recent},
		{ID: "stuck", Building: &staleBuild},
		{ID: "busy", Building: &recent},
	}))

	ids, err := d.ListChunksToBuild(ctx, db.BuildQuery{
		RebuildBefore:       now.Add(-24 * time.Hour),
		StaleBuildingBefore: now.Add(-time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, []types.ChunkID{"never", "old", "stuck"}, ids)

	ids, err = d.ListChunksToBuild(ctx, db.BuildQuery{RebuildBefore: now.Add(-24 * time.Hour), Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []types.ChunkID{"never"}, ids)
}
