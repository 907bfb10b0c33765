// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package mapper

import (
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/LeeDigitalWorks/zapmap/pkg/types"
)

// phaseFailures collects the per-chunk errors of one phase. It is safe for
// use by the goroutines of that phase.
type phaseFailures struct {
	mu   sync.Mutex
	errs map[types.ChunkID][]error
}

func newPhaseFailures() *phaseFailures {
	return &phaseFailures{errs: make(map[types.ChunkID][]error)}
}

func (p *phaseFailures) add(id types.ChunkID, err error) {
	p.mu.Lock()
	p.errs[id] = append(p.errs[id], err)
	p.mu.Unlock()
}

// buildResults accumulates the outcome of every chunk across phases
type buildResults struct {
	order []types.ChunkID
	errs  map[types.ChunkID][]error
}

func newBuildResults(chunks []*types.Chunk) *buildResults {
	r := &buildResults{
		order: make([]types.ChunkID, len(chunks)),
		errs:  make(map[types.ChunkID][]error),
	}
	for i, c := range chunks {
		r.order[i] = c.ID
	}
	return r
}

func (r *buildResults) fold(p *phaseFailures) {
	for id, errs := range p.errs {
		r.errs[id] = append(r.errs[id], errs...)
	}
}

func (r *buildResults) failed(id types.ChunkID) bool {
	return len(r.errs[id]) > 0
}

// partition splits the batch into built and failed chunk ids, in batch order
func (r *buildResults) partition() (ok, failed []types.ChunkID) {
	for _, id := range r.order {
		if r.failed(id) {
			failed = append(failed, id)
		} else {
			ok = append(ok, id)
		}
	}
	return ok, failed
}

// err returns a *BuildError when any chunk failed
func (r *buildResults) err() error {
	_, failed := r.partition()
	if len(failed) == 0 {
		return nil
	}
	merr := &multierror.Error{ErrorFormat: listFormat}
	for _, id := range failed {
		for _, err := range r.errs[id] {
			merr = multierror.Append(merr, &ChunkError{Chunk: id, Err: err})
		}
	}
	return &BuildError{Failed: failed, Errors: merr}
}

// Report summarizes one Run
type Report struct {
	Requested     int
	Built         []types.ChunkID
	Failed        []types.ChunkID
	NewBlocks     int
	DeletedBlocks int
	// Buckets maps every loaded chunk to its bucket
	Buckets   map[types.ChunkID]types.BucketID
	StartedAt time.Time
	Duration  time.Duration
	// Err is the *BuildError returned by Run, if any
	Err error
}
