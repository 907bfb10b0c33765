// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package system

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/LeeDigitalWorks/zapmap/pkg/logger"
)

// Store caches the most recent topology snapshot
type Store struct {
	source  Source
	now     func() time.Time
	current atomic.Pointer[Snapshot]
}

func NewStore(source Source) *Store {
	return &Store{source: source, now: time.Now}
}

// Refresh loads, validates and publishes a new snapshot. On failure the
// previously cached snapshot stays current.
func (s *Store) Refresh(ctx context.Context) (*Snapshot, error) {
	start := s.now()
	topo, err := s.source.Load(ctx)
	if err != nil {
		refreshTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("load topology: %w", err)
	}

	result := Validate(topo)
	for _, w := range result.Warnings {
		logger.Ctx(ctx).Warn().Msg(w)
	}
	snap, err := NewSnapshot(topo, start)
	if err != nil {
		refreshTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	s.current.Store(snap)
	refreshTotal.WithLabelValues("success").Inc()
	refreshDuration.Observe(time.Since(start).Seconds())
	updateTopologyMetrics(snap)
	return snap, nil
}

// Current returns the last published snapshot, or nil before the first
// successful Refresh.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}
