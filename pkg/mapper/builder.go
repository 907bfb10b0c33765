// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package mapper builds chunk maps: it brings the blocks of each chunk in
// line with its tiering policy by allocating and replicating missing
// replicas and soft-deleting surplus ones.
package mapper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/LeeDigitalWorks/zapmap/pkg/agent"
	"github.com/LeeDigitalWorks/zapmap/pkg/logger"
	"github.com/LeeDigitalWorks/zapmap/pkg/metadata/db"
	"github.com/LeeDigitalWorks/zapmap/pkg/storage/placer"
	"github.com/LeeDigitalWorks/zapmap/pkg/system"
	"github.com/LeeDigitalWorks/zapmap/pkg/types"
)

// releaseTimeout bounds clearing build markers after an aborted batch
const releaseTimeout = 10 * time.Second

// TopologyStore provides a fresh topology snapshot per batch
type TopologyStore interface {
	Refresh(ctx context.Context) (*system.Snapshot, error)
}

// Allocator picks target nodes for new blocks
type Allocator interface {
	RefreshPool(ctx context.Context, topo placer.Topology, policy *types.TieringPolicy, now time.Time) error
	AllocateNode(policy types.TieringID, pools []types.PoolID, avoid map[types.NodeID]struct{}) *types.Node
}

// Replicator copies a source block to a target node
type Replicator interface {
	Replicate(ctx context.Context, target, source agent.BlockLocator) error
}

// Notifier is told about every batch that reached the persist phase
type Notifier interface {
	BuildFinished(ctx context.Context, report *Report)
}

type Config struct {
	// NodeTimeout is the heartbeat age after which a node's blocks are
	// inaccessible (0 = no age check)
	NodeTimeout time.Duration `mapstructure:"node_timeout"`
}

type Builder struct {
	db       db.DB
	topology TopologyStore
	alloc    Allocator
	repl     Replicator
	notifier Notifier
	cfg      Config
	now      func() time.Time
}

type Option func(*Builder)

// WithNotifier reports finished batches to n
func WithNotifier(n Notifier) Option {
	return func(b *Builder) {
		b.notifier = n
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		b.now = now
	}
}

func NewBuilder(store db.DB, topology TopologyStore, alloc Allocator, repl Replicator, cfg Config, opts ...Option) *Builder {
	b := &Builder{
		db:       store,
		topology: topology,
		alloc:    alloc,
		repl:     repl,
		cfg:      cfg,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run builds one batch of chunks. Chunk failures do not stop the batch: the
// successful work of every chunk is persisted and the failures are returned
// as a *BuildError. Any other error means nothing past the failing phase
// was written.
func (b *Builder) Run(ctx context.Context, ids []types.ChunkID) (*Report, error) {
	start := b.now()
	report := &Report{Requested: len(ids), StartedAt: start}

	report, err := b.run(ctx, dedupe(ids), report)

	report.Duration = b.now().Sub(start)
	buildDuration.Observe(report.Duration.Seconds())
	switch {
	case err == nil:
		buildsTotal.WithLabelValues("success").Inc()
	case errors.Is(err, ErrBuildIncomplete):
		buildsTotal.WithLabelValues("incomplete").Inc()
	default:
		buildsTotal.WithLabelValues("error").Inc()
	}
	return report, err
}

func (b *Builder) run(ctx context.Context, ids []types.ChunkID, report *Report) (*Report, error) {
	log := logger.Ctx(ctx).With().Int("chunks", len(ids)).Logger()
	log.Debug().Msg("map build batch start")

	snap, chunks, err := b.load(ctx, ids)
	if err != nil {
		return report, err
	}
	if len(chunks) < len(ids) {
		log.Debug().Int("found", len(chunks)).Msg("some chunks no longer exist")
	}
	if len(chunks) == 0 {
		return report, nil
	}
	report.Buckets = make(map[types.ChunkID]types.BucketID, len(chunks))
	for _, c := range chunks {
		report.Buckets[c.ID] = c.Bucket
	}

	policies, err := resolvePolicies(snap, chunks)
	if err != nil {
		return report, err
	}

	now := b.now()
	marked, err := b.markBuilding(ctx, chunks, now)
	if err != nil {
		return report, err
	}

	statuses := make([]*ChunkStatus, len(chunks))
	var deletions []*types.Block
	for i, c := range chunks {
		statuses[i] = Analyze(c, policies[c.ID], snap, now, b.cfg.NodeTimeout)
		deletions = append(deletions, statuses[i].Deletions...)
	}

	if err := b.refreshPools(ctx, snap, policies, now); err != nil {
		b.releaseBuilding(ctx, marked)
		return report, err
	}

	results := newBuildResults(chunks)
	results.fold(b.allocate(ctx, statuses))

	newBlocks, failures := b.replicate(ctx, snap, statuses)
	results.fold(failures)

	ok, failed := results.partition()
	if err := b.persist(ctx, newBlocks, deletions, ok, failed); err != nil {
		b.releaseBuilding(ctx, marked)
		return report, err
	}

	report.Built = ok
	report.Failed = failed
	report.NewBlocks = len(newBlocks)
	report.DeletedBlocks = len(deletions)
	report.Err = results.err()

	chunksTotal.WithLabelValues("built").Add(float64(len(ok)))
	chunksTotal.WithLabelValues("failed").Add(float64(len(failed)))
	blocksTotal.WithLabelValues("created").Add(float64(len(newBlocks)))
	blocksTotal.WithLabelValues("deleted").Add(float64(len(deletions)))

	log.Info().
		Int("built", len(ok)).
		Int("failed", len(failed)).
		Int("new_blocks", len(newBlocks)).
		Int("deleted_blocks", len(deletions)).
		Msg("map build batch done")

	if b.notifier != nil {
		report.Duration = b.now().Sub(report.StartedAt)
		b.notifier.BuildFinished(ctx, report)
	}
	return report, report.Err
}

// load refreshes the topology while reading chunks and their live blocks
func (b *Builder) load(ctx context.Context, ids []types.ChunkID) (*system.Snapshot, []*types.Chunk, error) {
	var (
		snap   *system.Snapshot
		chunks []*types.Chunk
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s, err := b.topology.Refresh(gctx)
		if err != nil {
			return fmt.Errorf("refresh topology: %w", err)
		}
		snap = s
		return nil
	})
	g.Go(func() error {
		cs, err := b.db.GetChunks(gctx, ids)
		if err != nil {
			return fmt.Errorf("get chunks: %w", err)
		}
		if err := b.db.LoadBlocksForChunks(gctx, cs); err != nil {
			return fmt.Errorf("load blocks: %w", err)
		}
		chunks = cs
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return snap, chunks, nil
}

func resolvePolicies(snap *system.Snapshot, chunks []*types.Chunk) (map[types.ChunkID]*types.TieringPolicy, error) {
	policies := make(map[types.ChunkID]*types.TieringPolicy, len(chunks))
	var merr *multierror.Error
	for _, c := range chunks {
		p, err := snap.PolicyFor(c)
		if err != nil {
			merr = multierror.Append(merr, err)
			continue
		}
		policies[c.ID] = p
	}
	if merr != nil {
		merr.ErrorFormat = listFormat
		return nil, fmt.Errorf("%w: %w", ErrPreconditionFailed, merr)
	}
	return policies, nil
}

// markBuilding sets the build marker on chunks that have none and returns
// the ids it marked
func (b *Builder) markBuilding(ctx context.Context, chunks []*types.Chunk, now time.Time) ([]types.ChunkID, error) {
	var ids []types.ChunkID
	for _, c := range chunks {
		if !c.IsBuilding() {
			ids = append(ids, c.ID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if err := b.db.UpdateChunksBuilding(ctx, ids, now); err != nil {
		return nil, fmt.Errorf("mark chunks building: %w", err)
	}
	return ids, nil
}

// releaseBuilding clears the markers set by an aborted batch. It runs even
// when ctx is cancelled; on failure the scanner reclaims the markers once
// they are older than StaleBuildingAfter.
func (b *Builder) releaseBuilding(ctx context.Context, ids []types.ChunkID) {
	if len(ids) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := b.db.ClearBuilding(ctx, ids); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Int("chunks", len(ids)).Msg("failed to clear build markers")
	}
}

func (b *Builder) refreshPools(ctx context.Context, snap *system.Snapshot, policies map[types.ChunkID]*types.TieringPolicy, now time.Time) error {
	seen := make(map[types.TieringID]bool)
	for _, p := range policies {
		if seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		if err := b.alloc.RefreshPool(ctx, snap, p, now); err != nil {
			return fmt.Errorf("refresh allocation pool for %s: %w", p.ID, err)
		}
	}
	return nil
}

// allocate assigns a node and a new block to every allocation. Chunks run
// concurrently; allocations of one chunk run in order so each sees the
// nodes picked before it.
func (b *Builder) allocate(ctx context.Context, statuses []*ChunkStatus) *phaseFailures {
	failures := newPhaseFailures()
	var g errgroup.Group
	for _, st := range statuses {
		if len(st.Allocations) == 0 {
			continue
		}
		g.Go(func() error {
			b.allocateChunk(ctx, st, failures)
			return nil
		})
	}
	_ = g.Wait()
	return failures
}

func (b *Builder) allocateChunk(ctx context.Context, st *ChunkStatus, failures *phaseFailures) {
	avoid := make(map[types.NodeID]struct{})
	for _, blk := range st.Chunk.LiveBlocks() {
		avoid[blk.Node] = struct{}{}
	}

	for _, a := range st.Allocations {
		node := b.alloc.AllocateNode(a.Policy.ID, a.Pools, avoid)
		if node == nil {
			logger.Ctx(ctx).Error().
				Str("chunk_id", st.Chunk.ID.String()).
				Str("fragment", a.Fragment.Key.String()).
				Str("policy", a.Policy.ID.String()).
				Msg("no node available for allocation")
			chunkFailuresTotal.WithLabelValues("no_node").Inc()
			failures.add(st.Chunk.ID, fmt.Errorf("%w: fragment %s", ErrNoNodeAvailable, a.Fragment.Key))
			continue
		}

		f := a.Fragment
		a.Node = node
		a.Block = &types.Block{
			ID:         types.NewBlockID(),
			Chunk:      st.Chunk.ID,
			Node:       node.ID,
			System:     st.Chunk.System,
			Layer:      f.Key.Layer,
			LayerN:     f.Key.LayerN,
			Frag:       f.Key.Frag,
			Size:       f.Size,
			DigestType: f.DigestType,
			DigestB64:  f.DigestB64,
		}
		avoid[node.ID] = struct{}{}
	}
}

// replicate assigns round-robin sources to every allocated block, then
// replicates them all concurrently. It returns the blocks that now exist.
func (b *Builder) replicate(ctx context.Context, snap *system.Snapshot, statuses []*ChunkStatus) ([]*types.Block, *phaseFailures) {
	failures := newPhaseFailures()

	var ready []*Allocation
	for _, st := range statuses {
		for _, a := range st.Allocations {
			if a.Block == nil {
				continue
			}
			src := a.Fragment.NextSource()
			if src == nil {
				chunkFailuresTotal.WithLabelValues("no_source").Inc()
				failures.add(st.Chunk.ID, fmt.Errorf("%w: fragment %s", ErrNoSource, a.Fragment.Key))
				continue
			}
			srcNode, ok := snap.Node(src.Node)
			if !ok {
				failures.add(st.Chunk.ID, fmt.Errorf("%w: node %s of block %s", ErrNoSource, src.Node, src.ID))
				continue
			}
			a.Source = src
			a.SourceNode = srcNode
			ready = append(ready, a)
		}
	}

	var (
		mu        sync.Mutex
		newBlocks []*types.Block
		g         errgroup.Group
	)
	for _, a := range ready {
		g.Go(func() error {
			target := locator(a.Block, a.Node)
			source := locator(a.Source, a.SourceNode)
			if err := b.repl.Replicate(ctx, target, source); err != nil {
				chunkFailuresTotal.WithLabelValues("replication").Inc()
				failures.add(a.Chunk.ID, fmt.Errorf("%w: block %s to node %s: %w", ErrReplicationFailed, a.Block.ID, a.Node.ID, err))
				return nil
			}
			mu.Lock()
			newBlocks = append(newBlocks, a.Block)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return newBlocks, failures
}

// persist writes the outcome of the batch in one transaction
func (b *Builder) persist(ctx context.Context, newBlocks, deletions []*types.Block, ok, failed []types.ChunkID) error {
	now := b.now()
	err := b.db.WithTx(ctx, func(tx db.TxStore) error {
		if len(newBlocks) > 0 {
			if err := tx.InsertBlocks(ctx, newBlocks); err != nil {
				return fmt.Errorf("insert blocks: %w", err)
			}
		}
		if len(deletions) > 0 {
			ids := make([]types.BlockID, len(deletions))
			for i, blk := range deletions {
				ids[i] = blk.ID
			}
			if err := tx.SoftDeleteBlocks(ctx, ids, now); err != nil {
				return fmt.Errorf("delete blocks: %w", err)
			}
		}
		if len(ok) > 0 {
			if err := tx.MarkChunksBuilt(ctx, ok, now); err != nil {
				return fmt.Errorf("mark chunks built: %w", err)
			}
		}
		if len(failed) > 0 {
			if err := tx.ClearBuilding(ctx, failed); err != nil {
				return fmt.Errorf("clear building: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("persist map build: %w", err)
	}
	return nil
}

func locator(b *types.Block, n *types.Node) agent.BlockLocator {
	return agent.BlockLocator{
		ID:         b.ID,
		Size:       b.Size,
		DigestType: b.DigestType,
		DigestB64:  b.DigestB64,
		Address:    n.Address,
	}
}

func dedupe(ids []types.ChunkID) []types.ChunkID {
	seen := make(map[types.ChunkID]bool, len(ids))
	out := make([]types.ChunkID, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
