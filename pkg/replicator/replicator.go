// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package replicator copies blocks between storage agents on behalf of the
// map builder.
package replicator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/LeeDigitalWorks/zapmap/pkg/agent"
	"github.com/LeeDigitalWorks/zapmap/pkg/logger"
)

const DefaultReplicateTimeout = 30 * time.Second

// Agents is the part of the agent client used for replication
type Agents interface {
	ReplicateBlock(ctx context.Context, address string, req *agent.ReplicateBlockRequest) (*agent.ReplicateBlockResponse, error)
}

type Config struct {
	// Timeout bounds the replicate call to the agent. Time spent waiting
	// for a limiter slot is not counted.
	Timeout time.Duration `mapstructure:"timeout"`
}

type BlockReplicator struct {
	agents  Agents
	limiter *Limiter
	timeout time.Duration
}

func NewBlockReplicator(agents Agents, limiter *Limiter, cfg Config) *BlockReplicator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultReplicateTimeout
	}
	if limiter == nil {
		limiter = NewLimiter(LimiterConfig{})
	}
	return &BlockReplicator{
		agents:  agents,
		limiter: limiter,
		timeout: cfg.Timeout,
	}
}

// Replicate asks the agent at target.Address to pull source into target
func (r *BlockReplicator) Replicate(ctx context.Context, target, source agent.BlockLocator) error {
	if target.Address == "" {
		return errors.New("target address is required")
	}
	if source.Address == "" {
		return errors.New("source address is required")
	}

	release, err := r.limiter.Acquire(ctx)
	if err != nil {
		replicationsTotal.WithLabelValues("cancelled").Inc()
		return fmt.Errorf("wait for replication slot: %w", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	start := time.Now()

	log := logger.Ctx(ctx).With().
		Str("block_id", target.ID.String()).
		Str("target", target.Address).
		Str("source_block", source.ID.String()).
		Str("source", source.Address).
		Logger()

	log.Debug().Msg("replicating block")
	_, err = r.agents.ReplicateBlock(ctx, target.Address, &agent.ReplicateBlockRequest{
		Target: target,
		Source: source,
	})
	replicationDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		result := "error"
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			result = "timeout"
		}
		replicationsTotal.WithLabelValues(result).Inc()
		log.Error().Err(err).Msg("block replication failed")
		return fmt.Errorf("replicate block %s to %s: %w", target.ID, target.Address, err)
	}

	replicationsTotal.WithLabelValues("success").Inc()
	replicatedBytes.Add(float64(max(target.Size, 0)))
	log.Debug().Dur("elapsed", time.Since(start)).Msg("block replicated")
	return nil
}
