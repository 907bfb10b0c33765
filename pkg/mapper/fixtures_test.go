// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package mapper

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/LeeDigitalWorks/zapmap/pkg/agent"
	"github.com/LeeDigitalWorks/zapmap/pkg/metadata/db/memory"
	"github.com/LeeDigitalWorks/zapmap/pkg/storage/placer"
	"github.com/LeeDigitalWorks/zapmap/pkg/system"
	"github.com/LeeDigitalWorks/zapmap/pkg/types"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testNode(id types.NodeID, pool types.PoolID) *types.Node {
	return &types.Node{
		ID:         id,
		Pool:       pool,
		Address:    fmt.Sprintf("%s:9100", id),
		TotalBytes: 100 << 30,
		UsedBytes:  10 << 30,
		Online:     true,
	}
}

// testTopology has three hot nodes and one cold node.
func testTopology() system.Topology {
	return system.Topology{
		Pools: []*types.StoragePool{
			{ID: "hot", Weight: 10},
			{ID: "cold", Weight: 5},
		},
		Nodes: []*types.Node{
			testNode("h1", "hot"),
			testNode("h2", "hot"),
			testNode("h3", "hot"),
			testNode("c1", "cold"),
		},
		Policies: []*types.TieringPolicy{
			{ID: "standard", Replicas: 2, Pools: []types.PoolTarget{{PoolID: "hot"}, {PoolID: "cold"}}},
			{ID: "single", Replicas: 1, Pools: []types.PoolTarget{{PoolID: "hot"}}},
			{ID: "triple", Replicas: 3, Pools: []types.PoolTarget{{PoolID: "hot"}}},
			{ID: "quad", Replicas: 4, Pools: []types.PoolTarget{{PoolID: "hot"}}},
			{ID: "wide", Replicas: 1, DataFrags: 2, Pools: []types.PoolTarget{{PoolID: "hot"}}},
		},
		Buckets: []*types.Bucket{
			{ID: "photos", Tiering: "standard"},
		},
	}
}

func testSnapshot(t *testing.T, topo system.Topology) *system.Snapshot {
	t.Helper()
	snap, err := system.NewSnapshot(&topo, testNow)
	require.NoError(t, err)
	return snap
}

func block(id types.BlockID, chunk types.ChunkID, node types.NodeID) *types.Block {
	return &types.Block{
		ID:         id,
		Chunk:      chunk,
		Node:       node,
		Layer:      types.LayerData,
		Size:       1024,
		DigestType: types.DigestSHA256,
		DigestB64:  "digest-" + string(chunk),
	}
}

func chunk(id types.ChunkID, blocks ...*types.Block) *types.Chunk {
	return &types.Chunk{ID: id, Bucket: "photos", Size: 1024, Blocks: blocks}
}

type replication struct {
	Target agent.BlockLocator
	Source agent.BlockLocator
}

// fakeReplicator records replications and fails those whose source block
// is listed in failSources.
type fakeReplicator struct {
	mu          sync.Mutex
	calls       []replication
	failSources map[types.BlockID]error
}

func (f *fakeReplicator) Replicate(ctx context.Context, target, source agent.BlockLocator) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, replication{Target: target, Source: source})
	return f.failSources[source.ID]
}

func (f *fakeReplicator) Calls() []replication {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]replication(nil), f.calls...)
}

type recordingNotifier struct {
	mu      sync.Mutex
	reports []*Report
}

func (n *recordingNotifier) BuildFinished(ctx context.Context, report *Report) {
	n.mu.Lock()
	n.reports = append(n.reports, report)
	n.mu.Unlock()
}

type fixture struct {
	db       *memory.DB
	repl     *fakeReplicator
	notifier *recordingNotifier
	builder  *Builder
}

func newFixture(t *testing.T, topo system.Topology, chunks ...*types.Chunk) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		db:       memory.New(),
		repl:     &fakeReplicator{failSources: map[types.BlockID]error{}},
		notifier: &recordingNotifier{},
	}

	var blocks []*types.Block
	for _, c := range chunks {
		blocks = append(blocks, c.Blocks...)
	}
	require.NoError(t, f.db.InsertChunks(ctx, chunks))
	require.NoError(t, f.db.InsertBlocks(ctx, blocks))

	alloc := placer.NewNodeAllocator(placer.Config{}).WithRand(rand.New(rand.NewPCG(1, 2)))
	store := system.NewStore(&system.StaticSource{Topology: topo})
	f.builder = NewBuilder(f.db, store, alloc, f.repl, Config{},
		WithNotifier(f.notifier),
		WithClock(func() time.Time { return testNow }),
	)
	return f
}

func (f *fixture) load(t *testing.T, id types.ChunkID) *types.Chunk {
	t.Helper()
	ctx := context.Background()
	chunks, err := f.db.GetChunks(ctx, []types.ChunkID{id})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	require.NoError(t, f.db.LoadBlocksForChunks(ctx, chunks))
	return chunks[0]
}

func blockIDs(blocks []*types.Block) []types.BlockID {
	ids := make([]types.BlockID, len(blocks))
	for i, b := range blocks {
		ids[i] = b.ID
	}
	return ids
}
