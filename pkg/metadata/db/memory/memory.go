// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package memory provides an in-memory implementation of db.DB for testing.
// Transactions run against a copy of the state that replaces the live state
// only when the transaction function succeeds.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/LeeDigitalWorks/zapmap/pkg/metadata/db"
	"github.com/LeeDigitalWorks/zapmap/pkg/types"
)

type state struct {
	chunks map[types.ChunkID]*types.Chunk
	blocks map[types.BlockID]*types.Block
}

func newState() *state {
	return &state{
		chunks: make(map[types.ChunkID]*types.Chunk),
		blocks: make(map[types.BlockID]*types.Block),
	}
}

func (s *state) clone() *state {
	cp := newState()
	for id, c := range s.chunks {
		cp.chunks[id] = c.Clone()
	}
	for id, b := range s.blocks {
		cp.blocks[id] = b.Clone()
	}
	return cp
}

// DB is an in-memory database implementation for testing.
type DB struct {
	mu    sync.RWMutex
	state *state
}

// New creates a new in-memory database for testing.
func New() *DB {
	return &DB{state: newState()}
}

// ============================================================================
// Chunk reads
// ============================================================================

func (d *DB) GetChunks(ctx context.Context, ids []types.ChunkID) ([]*types.Chunk, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	chunks := make([]*types.Chunk, 0, len(ids))
	for _, id := range ids {
		if c, ok := d.state.chunks[id]; ok {
			chunks = append(chunks, c.Clone())
		}
	}
	return chunks, nil
}

func (d *DB) LoadBlocksForChunks(ctx context.Context, chunks []*types.Chunk) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	byChunk := make(map[types.ChunkID][]*types.Block, len(chunks))
	for _, b := range d.state.blocks {
		if b.IsDeleted() {
			continue
		}
		byChunk[b.Chunk] = append(byChunk[b.Chunk], b.Clone())
	}

	for _, c := range chunks {
		blocks := byChunk[c.ID]
		sort.Slice(blocks, func(i, j int) bool { return blocks[i].ID < blocks[j].ID })
		c.Blocks = blocks
	}
	return nil
}

func (d *DB) ListChunksToBuild(ctx context.Context, q db.BuildQuery) ([]types.ChunkID, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	type due struct {
		id  types.ChunkID
		key int64
	}
	var list []due
	for id, c := range d.state.chunks {
		if c.Building != nil {
			if !q.StaleBuildingBefore.IsZero() && c.Building.Before(q.StaleBuildingBefore) {
				list = append(list, due{id: id, key: c.Building.UnixNano()})
			}
			continue
		}
		if c.LastBuild == nil {
			list = append(list, due{id: id, key: 0})
			continue
		}
		if c.LastBuild.Before(q.RebuildBefore) {
			list = append(list, due{id: id, key: c.LastBuild.UnixNano()})
		}
	}

	sort.Slice(list, func(i, j int) bool {
		if list[i].key != list[j].key {
			return list[i].key < list[j].key
		}
		return list[i].id < list[j].id
	})
	if q.Limit > 0 && len(list) > q.Limit {
		list = list[:q.Limit]
	}

	ids := make([]types.ChunkID, len(list))
	for i, e := range list {
		ids[i] = e.id
	}
	return ids, nil
}

// Block returns a copy of any block, deleted or not. Used by tests to
// inspect soft deletes.
func (d *DB) Block(id types.BlockID) (*types.Block, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	b, ok := d.state.blocks[id]
	if !ok {
		return nil, false
	}
	return b.Clone(), true
}

// ============================================================================
// Chunk writes
// ============================================================================

func (d *DB) InsertChunks(ctx context.Context, chunks []*types.Chunk) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return writer{d.state}.InsertChunks(ctx, chunks)
}

func (d *DB) UpdateChunksBuilding(ctx context.Context, ids []types.ChunkID, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return writer{d.state}.UpdateChunksBuilding(ctx, ids, at)
}

func (d *DB) InsertBlocks(ctx context.Context, blocks []*types.Block) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return writer{d.state}.InsertBlocks(ctx, blocks)
}

func (d *DB) SoftDeleteBlocks(ctx context.Context, ids []types.BlockID, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return writer{d.state}.SoftDeleteBlocks(ctx, ids, at)
}

func (d *DB) MarkChunksBuilt(ctx context.Context, ids []types.ChunkID, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return writer{d.state}.MarkChunksBuilt(ctx, ids, at)
}

func (d *DB) ClearBuilding(ctx context.Context, ids []types.ChunkID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return writer{d.state}.ClearBuilding(ctx, ids)
}

// writer applies writes to a state; the caller holds the lock
type writer struct {
	s *state
}

func (w writer) InsertChunks(ctx context.Context, chunks []*types.Chunk) error {
	for _, c := range chunks {
		if _, exists := w.s.chunks[c.ID]; exists {
			continue
		}
		cp := c.Clone()
		cp.Blocks = nil
		w.s.chunks[c.ID] = cp
	}
	return nil
}

func (w writer) UpdateChunksBuilding(ctx context.Context, ids []types.ChunkID, at time.Time) error {
	for _, id := range ids {
		if c, ok := w.s.chunks[id]; ok {
			t := at
			c.Building = &t
		}
	}
	return nil
}

func (w writer) InsertBlocks(ctx context.Context, blocks []*types.Block) error {
	for _, b := range blocks {
		if _, exists := w.s.blocks[b.ID]; exists {
			continue
		}
		w.s.blocks[b.ID] = b.Clone()
	}
	return nil
}

func (w writer) SoftDeleteBlocks(ctx context.Context, ids []types.BlockID, at time.Time) error {
	for _, id := range ids {
		if b, ok := w.s.blocks[id]; ok && b.Deleted == nil {
			t := at
			b.Deleted = &t
		}
	}
	return nil
}

func (w writer) MarkChunksBuilt(ctx context.Context, ids []types.ChunkID, at time.Time) error {
	for _, id := range ids {
		if c, ok := w.s.chunks[id]; ok {
			t := at
			c.LastBuild = &t
			c.Building = nil
		}
	}
	return nil
}

func (w writer) ClearBuilding(ctx context.Context, ids []types.ChunkID) error {
	for _, id := range ids {
		if c, ok := w.s.chunks[id]; ok {
			c.Building = nil
		}
	}
	return nil
}

// ============================================================================
// Transactions
// ============================================================================

func (d *DB) WithTx(ctx context.Context, fn func(tx db.TxStore) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	staged := d.state.clone()
	if err := fn(writer{staged}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	d.state = staged
	return nil
}

// ============================================================================
// Migrations
// ============================================================================

func (d *DB) Migrate(ctx context.Context) error {
	// No-op for in-memory database
	return nil
}

func (d *DB) Close() error {
	return nil
}

// Ensure DB implements db.DB interface
var _ db.DB = (*DB)(nil)
