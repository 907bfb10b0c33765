// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package system loads the storage topology (pools, nodes, tiering
// policies, buckets) the map builder places blocks against.
package system

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/LeeDigitalWorks/zapmap/pkg/types"
)

var (
	ErrUnknownBucket = errors.New("unknown bucket")
	ErrUnknownPolicy = errors.New("unknown tiering policy")
)

// Snapshot is an immutable view of the topology at LoadedAt
type Snapshot struct {
	Pools    map[types.PoolID]*types.StoragePool
	Nodes    map[types.NodeID]*types.Node
	Policies map[types.TieringID]*types.TieringPolicy
	Buckets  map[types.BucketID]*types.Bucket
	LoadedAt time.Time

	byPool map[types.PoolID][]*types.Node
}

// Topology is the raw material of a Snapshot, as read from a source
type Topology struct {
	Pools    []*types.StoragePool   `mapstructure:"pools"`
	Nodes    []*types.Node          `mapstructure:"nodes"`
	Policies []*types.TieringPolicy `mapstructure:"policies"`
	Buckets  []*types.Bucket        `mapstructure:"buckets"`
}

// NewSnapshot validates topo and indexes it. Policies are normalized.
func NewSnapshot(topo *Topology, loadedAt time.Time) (*Snapshot, error) {
	result := Validate(topo)
	if err := result.Err(); err != nil {
		return nil, err
	}

	s := &Snapshot{
		Pools:    make(map[types.PoolID]*types.StoragePool, len(topo.Pools)),
		Nodes:    make(map[types.NodeID]*types.Node, len(topo.Nodes)),
		Policies: make(map[types.TieringID]*types.TieringPolicy, len(topo.Policies)),
		Buckets:  make(map[types.BucketID]*types.Bucket, len(topo.Buckets)),
		LoadedAt: loadedAt,
		byPool:   make(map[types.PoolID][]*types.Node),
	}
	for _, p := range topo.Pools {
		s.Pools[p.ID] = p
	}
	for _, n := range topo.Nodes {
		s.Nodes[n.ID] = n
		s.byPool[n.Pool] = append(s.byPool[n.Pool], n)
	}
	for _, nodes := range s.byPool {
		slices.SortFunc(nodes, func(a, b *types.Node) int { return cmp.Compare(a.ID, b.ID) })
	}
	for _, p := range topo.Policies {
		p.Normalize()
		s.Policies[p.ID] = p
	}
	for _, b := range topo.Buckets {
		s.Buckets[b.ID] = b
	}
	return s, nil
}

// Validate checks topo for dangling references and duplicate ids
func Validate(topo *Topology) *types.ConfigValidationResult {
	result := &types.ConfigValidationResult{Valid: true}

	pools := make(map[types.PoolID]*types.StoragePool, len(topo.Pools))
	for i, p := range topo.Pools {
		field := fmt.Sprintf("pools[%d]", i)
		if _, dup := pools[p.ID]; dup {
			result.AddError(field, fmt.Sprintf("duplicate pool %q", p.ID))
		}
		pools[p.ID] = p
		result.Merge(field, types.ValidatePool(p))
	}

	nodes := make(map[types.NodeID]bool, len(topo.Nodes))
	for i, n := range topo.Nodes {
		field := fmt.Sprintf("nodes[%d]", i)
		if n.ID == "" {
			result.AddError(field+".id", "node ID cannot be empty")
		}
		if nodes[n.ID] {
			result.AddError(field, fmt.Sprintf("duplicate node %q", n.ID))
		}
		nodes[n.ID] = true
		if _, ok := pools[n.Pool]; !ok {
			result.AddError(field+".pool", fmt.Sprintf("unknown pool %q", n.Pool))
		}
		if n.Address == "" {
			result.AddWarning(fmt.Sprintf("node %q has no address and cannot be replicated to", n.ID))
		}
	}

	policies := make(map[types.TieringID]bool, len(topo.Policies))
	for i, p := range topo.Policies {
		field := fmt.Sprintf("policies[%d]", i)
		if policies[p.ID] {
			result.AddError(field, fmt.Sprintf("duplicate tiering policy %q", p.ID))
		}
		policies[p.ID] = true
		result.Merge(field, types.ValidateTieringPolicy(p, pools))
		if p.ParityFrags > 0 {
			// parity is never reconstructed; a fragment with no live block
			// fails every build of its chunk
			result.AddWarning(fmt.Sprintf("tiering policy %q has parity fragments; a lost fragment cannot be rebuilt and its chunk never completes a build", p.ID))
		}
	}

	buckets := make(map[types.BucketID]bool, len(topo.Buckets))
	for i, b := range topo.Buckets {
		field := fmt.Sprintf("buckets[%d]", i)
		if buckets[b.ID] {
			result.AddError(field, fmt.Sprintf("duplicate bucket %q", b.ID))
		}
		buckets[b.ID] = true
		if !policies[b.Tiering] {
			result.AddError(field+".tiering", fmt.Sprintf("unknown tiering policy %q", b.Tiering))
		}
	}

	return result
}

func (s *Snapshot) Pool(id types.PoolID) (*types.StoragePool, bool) {
	p, ok := s.Pools[id]
	return p, ok
}

// NodesInPool returns the pool's nodes ordered by id
func (s *Snapshot) NodesInPool(id types.PoolID) []*types.Node {
	return s.byPool[id]
}

func (s *Snapshot) Node(id types.NodeID) (*types.Node, bool) {
	n, ok := s.Nodes[id]
	return n, ok
}

func (s *Snapshot) Policy(id types.TieringID) (*types.TieringPolicy, bool) {
	p, ok := s.Policies[id]
	return p, ok
}

func (s *Snapshot) Bucket(id types.BucketID) (*types.Bucket, bool) {
	b, ok := s.Buckets[id]
	return b, ok
}

// PolicyFor resolves the chunk's own tiering, falling back to its bucket's
func (s *Snapshot) PolicyFor(chunk *types.Chunk) (*types.TieringPolicy, error) {
	tiering := chunk.Tiering
	if tiering == "" {
		bucket, ok := s.Buckets[chunk.Bucket]
		if !ok {
			return nil, fmt.Errorf("%w %q for chunk %s", ErrUnknownBucket, chunk.Bucket, chunk.ID)
		}
		tiering = bucket.Tiering
	}
	policy, ok := s.Policies[tiering]
	if !ok {
		return nil, fmt.Errorf("%w %q for chunk %s", ErrUnknownPolicy, tiering, chunk.ID)
	}
	return policy, nil
}
