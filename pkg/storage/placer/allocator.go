// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package placer

import (
	"context"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/LeeDigitalWorks/zapmap/pkg/logger"
	"github.com/LeeDigitalWorks/zapmap/pkg/types"
)

// Topology is the read-only view of pools and nodes the allocator ranks
// candidates from.
type Topology interface {
	Pool(id types.PoolID) (*types.StoragePool, bool)
	NodesInPool(id types.PoolID) []*types.Node
}

// Config controls which nodes are eligible for new blocks
type Config struct {
	// NodeTimeout is the maximum heartbeat age for a writable node (0 = no check)
	NodeTimeout time.Duration
	// MinFreeBytes is the free capacity a node needs to receive new blocks
	MinFreeBytes int64
}

type candidate struct {
	node       *types.Node
	poolWeight float64
}

// NodeAllocator picks target nodes for new blocks. RefreshPool builds a
// per-policy candidate list; AllocateNode draws from it with weighted random
// selection, first by pool weight and then by node free capacity.
type NodeAllocator struct {
	cfg Config

	mu         sync.RWMutex
	candidates map[types.TieringID][]candidate

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewNodeAllocator creates an allocator with an unseeded cache
func NewNodeAllocator(cfg Config) *NodeAllocator {
	return &NodeAllocator{
		cfg:        cfg,
		candidates: make(map[types.TieringID][]candidate),
		rng:        rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
	}
}

// WithRand replaces the random source, for deterministic tests
func (a *NodeAllocator) WithRand(rng *rand.Rand) *NodeAllocator {
	a.rngMu.Lock()
	a.rng = rng
	a.rngMu.Unlock()
	return a
}

// RefreshPool rebuilds the candidate list for policy from topo. Nodes must be
// writable at now, live in a writable policy pool and have at least
// MinFreeBytes free. The last refresh for a policy wins.
func (a *NodeAllocator) RefreshPool(ctx context.Context, topo Topology, policy *types.TieringPolicy, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var list []candidate
	for _, target := range policy.Pools {
		pool, ok := topo.Pool(target.PoolID)
		if !ok || !pool.CanWrite() {
			continue
		}
		weight := target.EffectiveWeight(pool)
		for _, node := range topo.NodesInPool(target.PoolID) {
			if !node.CanWrite(now, a.cfg.NodeTimeout) {
				continue
			}
			if node.FreeBytes() < a.cfg.MinFreeBytes {
				continue
			}
			list = append(list, candidate{node: node, poolWeight: weight})
		}
	}

	sort.SliceStable(list, func(i, j int) bool {
		return list[i].node.FreeBytes() > list[j].node.FreeBytes()
	})

	if len(list) == 0 {
		logger.Warn().
			Str("policy", policy.ID.String()).
			Str("min_free", humanize.IBytes(uint64(a.cfg.MinFreeBytes))).
			Msg("no writable nodes for tiering policy")
	}

	a.mu.Lock()
	a.candidates[policy.ID] = list
	a.mu.Unlock()

	allocatorCandidates.WithLabelValues(policy.ID.String()).Set(float64(len(list)))
	return nil
}

// AllocateNode returns a node from the policy's candidates whose pool is one
// of pools and which is not in avoid, or nil when none remains. It never
// mutates avoid; callers add the returned node themselves.
func (a *NodeAllocator) AllocateNode(policy types.TieringID, pools []types.PoolID, avoid map[types.NodeID]struct{}) *types.Node {
	a.mu.RLock()
	list := a.candidates[policy]
	a.mu.RUnlock()

	allowed := make(map[types.PoolID]struct{}, len(pools))
	for _, p := range pools {
		allowed[p] = struct{}{}
	}

	// group eligible candidates by pool, keeping pool preference order
	var order []types.PoolID
	byPool := make(map[types.PoolID][]candidate)
	weights := make(map[types.PoolID]float64)
	for _, c := range list {
		if _, ok := allowed[c.node.Pool]; !ok {
			continue
		}
		if _, skip := avoid[c.node.ID]; skip {
			continue
		}
		if _, seen := byPool[c.node.Pool]; !seen {
			order = append(order, c.node.Pool)
			weights[c.node.Pool] = c.poolWeight
		}
		byPool[c.node.Pool] = append(byPool[c.node.Pool], c)
	}
	if len(order) == 0 {
		allocationsTotal.WithLabelValues("exhausted").Inc()
		return nil
	}

	poolWeights := make([]float64, len(order))
	for i, p := range order {
		poolWeights[i] = weights[p]
	}
	pool := order[a.pick(poolWeights)]

	nodes := byPool[pool]
	nodeWeights := make([]float64, len(nodes))
	for i, c := range nodes {
		nodeWeights[i] = float64(c.node.FreeBytes())
	}
	chosen := nodes[a.pick(nodeWeights)].node

	allocationsTotal.WithLabelValues("ok").Inc()
	return chosen
}

// Candidates returns the cached candidate nodes for a policy, best first
func (a *NodeAllocator) Candidates(policy types.TieringID) []*types.Node {
	a.mu.RLock()
	defer a.mu.RUnlock()

	list := a.candidates[policy]
	nodes := make([]*types.Node, len(list))
	for i, c := range list {
		nodes[i] = c.node
	}
	return nodes
}

// pick returns an index chosen with probability proportional to its weight.
// When every weight is zero the choice is uniform.
func (a *NodeAllocator) pick(weights []float64) int {
	var total float64
	for _, w := range weights {
		if w > 0 {
			total += w
		}
	}

	a.rngMu.Lock()
	defer a.rngMu.Unlock()

	if total == 0 {
		return a.rng.IntN(len(weights))
	}

	target := a.rng.Float64() * total
	var cumulative float64
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		cumulative += w
		if target < cumulative {
			return i
		}
	}
	return len(weights) - 1
}
