// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package mapper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeeDigitalWorks/zapmap/pkg/system"
	"github.com/LeeDigitalWorks/zapmap/pkg/types"
)

func TestAnalyze(t *testing.T) {
	t.Parallel()

	offline := testTopology()
	offline.Nodes[0].Online = false // h1

	parity := func(id types.BlockID, node types.NodeID) *types.Block {
		b := block(id, "c", node)
		b.Layer = types.LayerParity
		return b
	}
	frag := func(id types.BlockID, node types.NodeID, n int) *types.Block {
		b := block(id, "c", node)
		b.Frag = n
		return b
	}

	tests := []struct {
		name            string
		topo            system.Topology
		policy          types.TieringID
		blocks          []*types.Block
		wantAccessible  bool
		wantAllocations int
		wantDeletions   []types.BlockID
	}{
		{
			name:           "satisfied",
			policy:         "standard",
			blocks:         []*types.Block{block("a", "c", "h1"), block("b", "c", "c1")},
			wantAccessible: true,
		},
		{
			name:            "under replicated",
			policy:          "standard",
			blocks:          []*types.Block{block("a", "c", "h1")},
			wantAccessible:  true,
			wantAllocations: 1,
		},
		{
			name:            "no blocks asks for one replica",
			policy:          "triple",
			wantAllocations: 1,
		},
		{
			name:            "only block on offline node",
			topo:            offline,
			policy:          "standard",
			blocks:          []*types.Block{block("a", "c", "h1")},
			wantAllocations: 1,
		},
		{
			name:            "unknown node is inaccessible",
			policy:          "single",
			blocks:          []*types.Block{block("a", "c", "gone")},
			wantAllocations: 1,
		},
		{
			name:           "surplus keeps preferred pool first",
			policy:         "standard",
			blocks:         []*types.Block{block("a", "c", "c1"), block("b", "c", "h1"), block("c", "c", "h2")},
			wantAccessible: true,
			wantDeletions:  []types.BlockID{"a"},
		},
		{
			name:           "surplus keeps lowest ids within a pool",
			policy:         "single",
			blocks:         []*types.Block{block("z", "c", "h1"), block("y", "c", "h2"), block("x", "c", "h3")},
			wantAccessible: true,
			wantDeletions:  []types.BlockID{"y", "z"},
		},
		{
			name:           "block outside policy pools is deleted",
			policy:         "single",
			blocks:         []*types.Block{block("a", "c", "c1"), block("b", "c", "h1")},
			wantAccessible: true,
			wantDeletions:  []types.BlockID{"a"},
		},
		{
			name:           "unexpected fragments are deleted",
			policy:         "single",
			blocks:         []*types.Block{block("a", "c", "h1"), frag("b", "h2", 1), parity("c", "h3")},
			wantAccessible: true,
			wantDeletions:  []types.BlockID{"b", "c"},
		},
		{
			name:            "no deletions while allocations are pending",
			policy:          "standard",
			blocks:          []*types.Block{block("a", "c", "h1"), frag("b", "h2", 1)},
			wantAccessible:  true,
			wantAllocations: 1,
		},
		{
			name:            "no deletions while inaccessible",
			policy:          "wide",
			blocks:          []*types.Block{block("a", "c", "h1"), block("b", "c", "h2")},
			wantAllocations: 1,
		},
		{
			name:           "deleted blocks are ignored",
			policy:         "single",
			blocks:         []*types.Block{block("a", "c", "h1"), {ID: "old", Chunk: "c", Node: "h2", Layer: types.LayerData, Deleted: &testNow}},
			wantAccessible: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			topo := tt.topo
			if topo.Nodes == nil {
				topo = testTopology()
			}
			snap := testSnapshot(t, topo)
			policy, ok := snap.Policy(tt.policy)
			require.True(t, ok)

			st := Analyze(chunk("c", tt.blocks...), policy, snap, testNow, 0)
			assert.Equal(t, tt.wantAccessible, st.Accessible)
			assert.Len(t, st.Allocations, tt.wantAllocations)
			if tt.wantDeletions == nil {
				assert.Empty(t, st.Deletions)
			} else {
				assert.Equal(t, tt.wantDeletions, blockIDs(st.Deletions))
			}
			for _, a := range st.Allocations {
				assert.Equal(t, policy.PoolIDs(), a.Pools)
				assert.Same(t, policy, a.Policy)
			}
		})
	}
}

func TestAnalyze_NodeTimeout(t *testing.T) {
	t.Parallel()

	topo := testTopology()
	topo.Nodes[0].HeartbeatAt = testNow.Add(-5 * time.Minute)
	topo.Nodes[1].HeartbeatAt = testNow.Add(-time.Minute)
	snap := testSnapshot(t, topo)
	policy, _ := snap.Policy("standard")

	st := Analyze(chunk("c", block("a", "c", "h1"), block("b", "c", "h2")), policy, snap, testNow, 2*time.Minute)
	f := st.Fragments[types.FragmentKey{Layer: types.LayerData}]
	require.NotNil(t, f)
	assert.Equal(t, []types.BlockID{"b"}, blockIDs(f.Accessible))
	assert.Len(t, st.Allocations, 1)
}

func TestAnalyze_FragmentMetadata(t *testing.T) {
	t.Parallel()

	snap := testSnapshot(t, testTopology())
	policy, _ := snap.Policy("wide")

	second := block("b", "c", "h2")
	second.Size = 99
	second.DigestB64 = "other"
	first := block("a", "c", "h1")
	first.Size = 512

	st := Analyze(chunk("c", second, first), policy, snap, testNow, 0)

	d0 := st.Fragments[types.FragmentKey{Layer: types.LayerData, Frag: 0}]
	require.NotNil(t, d0)
	assert.Equal(t, int64(512), d0.Size, "metadata comes from the lowest block id")
	assert.Equal(t, "digest-c", d0.DigestB64)
	assert.Equal(t, []types.BlockID{"a", "b"}, blockIDs(d0.Blocks))

	d1 := st.Fragments[types.FragmentKey{Layer: types.LayerData, Frag: 1}]
	require.NotNil(t, d1)
	assert.Equal(t, int64(1024), d1.Size, "fragments without blocks use the chunk size")
	assert.Empty(t, d1.DigestType)
}

func TestFragment_NextSource(t *testing.T) {
	t.Parallel()

	empty := &Fragment{}
	assert.Nil(t, empty.NextSource())

	a, b, c := block("a", "c", "h1"), block("b", "c", "h2"), block("c", "c", "h3")
	f := &Fragment{Accessible: []*types.Block{a, b, c}}

	var got []types.BlockID
	for range 7 {
		got = append(got, f.NextSource().ID)
	}
	assert.Equal(t, []types.BlockID{"a", "b", "c", "a", "b", "c", "a"}, got)
}
