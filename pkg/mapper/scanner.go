// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package mapper

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/LeeDigitalWorks/zapmap/pkg/cache"
	"github.com/LeeDigitalWorks/zapmap/pkg/logger"
	"github.com/LeeDigitalWorks/zapmap/pkg/metadata/db"
	"github.com/LeeDigitalWorks/zapmap/pkg/taskqueue"
	"github.com/LeeDigitalWorks/zapmap/pkg/types"
	"github.com/LeeDigitalWorks/zapmap/pkg/utils"
)

// Scanner defaults
const (
	DefaultScanInterval       = 30 * time.Second
	DefaultStaleBuildingAfter = 10 * time.Minute
	DefaultBatchSize          = 100
	DefaultMaxPerScan         = 10000
	DefaultScanJitter         = 0.1
)

// ScannerConfig controls how often chunks are picked up for a map build.
type ScannerConfig struct {
	// Interval between scans
	Interval time.Duration `mapstructure:"interval"`
	// RebuildInterval re-enqueues chunks whose last build is older than
	// this. Zero builds each chunk once.
	RebuildInterval time.Duration `mapstructure:"rebuild_interval"`
	// StaleBuildingAfter re-enqueues chunks whose building marker is older
	// than this. It is also how long an enqueued chunk is skipped by later
	// scans.
	StaleBuildingAfter time.Duration `mapstructure:"stale_building_after"`
	// BatchSize is the number of chunks per map_build task
	BatchSize int `mapstructure:"batch_size"`
	// MaxPerScan caps the chunks listed by a single scan
	MaxPerScan int `mapstructure:"max_per_scan"`
	// Jitter is the fraction of Interval to randomize each wait by
	Jitter float64 `mapstructure:"jitter"`
}

// DefaultScannerConfig returns the scanner defaults, with jitter enabled
func DefaultScannerConfig() ScannerConfig {
	return ScannerConfig{Jitter: DefaultScanJitter}.withDefaults()
}

func (c ScannerConfig) withDefaults() ScannerConfig {
	if c.Interval <= 0 {
		c.Interval = DefaultScanInterval
	}
	if c.StaleBuildingAfter <= 0 {
		c.StaleBuildingAfter = DefaultStaleBuildingAfter
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxPerScan <= 0 {
		c.MaxPerScan = DefaultMaxPerScan
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	}
	return c
}

// Scanner finds chunks due for a map build and enqueues them as map_build
// tasks.
type Scanner struct {
	reader db.ChunkReader
	queue  taskqueue.Queue
	cfg    ScannerConfig
	now    func() time.Time

	// Chunks enqueued but not yet marked building still look due; this
	// keeps them out of the next scans until StaleBuildingAfter passes.
	recent *cache.TTLSet[types.ChunkID]
}

// NewScanner creates a scanner. Call Stop to release its cache.
func NewScanner(reader db.ChunkReader, queue taskqueue.Queue, cfg ScannerConfig) *Scanner {
	cfg = cfg.withDefaults()
	return &Scanner{
		reader: reader,
		queue:  queue,
		cfg:    cfg,
		now:    time.Now,
		recent: cache.NewTTLSet[types.ChunkID](cfg.StaleBuildingAfter, cfg.MaxPerScan*4),
	}
}

// Run scans at jittered intervals until ctx is done.
func (s *Scanner) Run(ctx context.Context) {
	logger.Info().
		Dur("interval", s.cfg.Interval).
		Dur("rebuild_interval", s.cfg.RebuildInterval).
		Int("batch_size", s.cfg.BatchSize).
		Msg("scanner: started")

	for range utils.JitteredTicker(ctx, s.cfg.Interval, s.cfg.Jitter) {
		if n, err := s.ScanOnce(ctx); err != nil {
			logger.Error().Err(err).Msg("scanner: scan failed")
		} else if n > 0 {
			logger.Debug().Int("chunks", n).Msg("scanner: enqueued chunks")
		}
	}
	logger.Info().Msg("scanner: stopped")
}

// ScanOnce runs a single scan and returns the number of chunks enqueued.
func (s *Scanner) ScanOnce(ctx context.Context) (int, error) {
	now := s.now()
	q := db.BuildQuery{
		RebuildBefore:       time.Unix(0, 0),
		StaleBuildingBefore: now.Add(-s.cfg.StaleBuildingAfter),
		Limit:               s.cfg.MaxPerScan,
	}
	if s.cfg.RebuildInterval > 0 {
		q.RebuildBefore = now.Add(-s.cfg.RebuildInterval)
	}

	ids, err := s.reader.ListChunksToBuild(ctx, q)
	if err != nil {
		scannerErrorsTotal.Inc()
		return 0, fmt.Errorf("list chunks to build: %w", err)
	}

	fresh := ids[:0:0]
	for _, id := range ids {
		if s.recent.Add(id) {
			fresh = append(fresh, id)
		}
	}

	enqueued := 0
	for batch := range slices.Chunk(fresh, s.cfg.BatchSize) {
		task, err := taskqueue.NewMapBuildTask(batch)
		if err == nil {
			err = s.queue.Enqueue(ctx, task)
		}
		if err != nil {
			// Let the next scan retry the chunks that did not make it
			for _, id := range fresh[enqueued:] {
				s.recent.Remove(id)
			}
			scannerErrorsTotal.Inc()
			return enqueued, fmt.Errorf("enqueue map build: %w", err)
		}
		enqueued += len(batch)
		scannerEnqueuedTotal.Add(float64(len(batch)))
	}
	return enqueued, nil
}

// Stop releases the scanner's dedupe cache.
func (s *Scanner) Stop() {
	s.recent.Stop()
}
