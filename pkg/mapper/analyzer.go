// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package mapper

import (
	"cmp"
	"slices"
	"time"

	"github.com/LeeDigitalWorks/zapmap/pkg/types"
)

// NodeLookup resolves block nodes during analysis
type NodeLookup interface {
	Node(id types.NodeID) (*types.Node, bool)
}

// Fragment is the per-run view of one fragment of a chunk
type Fragment struct {
	Key        types.FragmentKey
	Size       int64
	DigestType string
	DigestB64  string

	// Blocks are the fragment's live blocks ordered by id
	Blocks []*types.Block
	// Accessible are the blocks readable at analysis time
	Accessible []*types.Block
	// Good are accessible blocks in one of the policy pools
	Good []*types.Block

	next int
}

// NextSource returns accessible blocks in round-robin order, or nil when
// the fragment has none.
func (f *Fragment) NextSource() *types.Block {
	if len(f.Accessible) == 0 {
		return nil
	}
	b := f.Accessible[f.next%len(f.Accessible)]
	f.next = (f.next + 1) % len(f.Accessible)
	return b
}

// Allocation is one missing replica of a fragment. Block and Node are set
// once a node is allocated; Source once a source block is assigned.
type Allocation struct {
	Chunk    *types.Chunk
	Fragment *Fragment
	Policy   *types.TieringPolicy
	Pools    []types.PoolID

	Block      *types.Block
	Node       *types.Node
	Source     *types.Block
	SourceNode *types.Node
}

// ChunkStatus is the analysis of one chunk against its policy
type ChunkStatus struct {
	Chunk       *types.Chunk
	Policy      *types.TieringPolicy
	Accessible  bool
	Fragments   map[types.FragmentKey]*Fragment
	Allocations []*Allocation
	Deletions   []*types.Block
}

// Analyze computes what chunk needs to satisfy policy: allocations for
// missing replicas and, once nothing is missing, deletions of surplus or
// misplaced blocks.
func Analyze(chunk *types.Chunk, policy *types.TieringPolicy, nodes NodeLookup, now time.Time, nodeTimeout time.Duration) *ChunkStatus {
	p := *policy
	p.Normalize()

	status := &ChunkStatus{
		Chunk:     chunk,
		Policy:    policy,
		Fragments: make(map[types.FragmentKey]*Fragment),
	}

	live := chunk.LiveBlocks()
	slices.SortFunc(live, func(a, b *types.Block) int { return cmp.Compare(a.ID, b.ID) })

	for _, b := range live {
		f := status.fragment(b.Key(), chunk, b)
		f.Blocks = append(f.Blocks, b)

		node, ok := nodes.Node(b.Node)
		if !ok || !node.IsAlive(now, nodeTimeout) {
			continue
		}
		f.Accessible = append(f.Accessible, b)
		if p.HasPool(node.Pool) {
			f.Good = append(f.Good, b)
		}
	}

	expected := p.ExpectedFragments()
	isExpected := make(map[types.FragmentKey]bool, len(expected))
	accessibleFrags := 0
	for _, key := range expected {
		isExpected[key] = true
		f := status.fragment(key, chunk, nil)
		if len(f.Accessible) > 0 {
			accessibleFrags++
		}

		missing := p.Replicas - len(f.Good)
		if missing <= 0 {
			continue
		}
		if len(f.Accessible) == 0 {
			// nothing to copy from yet, one attempt is enough
			missing = 1
		}
		for range missing {
			status.Allocations = append(status.Allocations, &Allocation{
				Chunk:    chunk,
				Fragment: f,
				Policy:   policy,
				Pools:    p.PoolIDs(),
			})
		}
	}
	status.Accessible = accessibleFrags >= p.DataFrags

	if !status.Accessible || len(status.Allocations) > 0 {
		return status
	}

	for _, f := range status.sortedFragments() {
		if !isExpected[f.Key] {
			status.Deletions = append(status.Deletions, f.Blocks...)
			continue
		}
		status.Deletions = append(status.Deletions, surplus(f, &p, nodes)...)
	}
	return status
}

// fragment returns the fragment for key, creating it with metadata copied
// from first or, when the fragment has no block, from the chunk.
func (s *ChunkStatus) fragment(key types.FragmentKey, chunk *types.Chunk, first *types.Block) *Fragment {
	if f, ok := s.Fragments[key]; ok {
		return f
	}
	f := &Fragment{Key: key, Size: chunk.Size}
	if first != nil {
		f.Size = first.Size
		f.DigestType = first.DigestType
		f.DigestB64 = first.DigestB64
	}
	s.Fragments[key] = f
	return f
}

func (s *ChunkStatus) sortedFragments() []*Fragment {
	frags := make([]*Fragment, 0, len(s.Fragments))
	for _, f := range s.Fragments {
		frags = append(frags, f)
	}
	slices.SortFunc(frags, func(a, b *Fragment) int {
		return cmp.Or(
			cmp.Compare(a.Key.Layer, b.Key.Layer),
			cmp.Compare(a.Key.LayerN, b.Key.LayerN),
			cmp.Compare(a.Key.Frag, b.Key.Frag),
		)
	})
	return frags
}

// surplus returns the blocks of a satisfied fragment that are not needed:
// every block that is not good, and good blocks beyond the replica count.
// Good blocks are kept in policy pool order, then by block id.
func surplus(f *Fragment, policy *types.TieringPolicy, nodes NodeLookup) []*types.Block {
	good := make(map[types.BlockID]bool, len(f.Good))
	for _, b := range f.Good {
		good[b.ID] = true
	}

	var out []*types.Block
	for _, b := range f.Blocks {
		if !good[b.ID] {
			out = append(out, b)
		}
	}

	rank := func(b *types.Block) int {
		n, _ := nodes.Node(b.Node)
		return policy.PoolRank(n.Pool)
	}
	keep := slices.Clone(f.Good)
	slices.SortStableFunc(keep, func(a, b *types.Block) int {
		return cmp.Or(cmp.Compare(rank(a), rank(b)), cmp.Compare(a.ID, b.ID))
	})
	if len(keep) > policy.Replicas {
		out = append(out, keep[policy.Replicas:]...)
	}

	slices.SortFunc(out, func(a, b *types.Block) int { return cmp.Compare(a.ID, b.ID) })
	return out
}
