// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package replicator

import (
	"context"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

const (
	DefaultMaxInFlight = 32
)

// LimiterConfig bounds replication across every builder sharing a Limiter
type LimiterConfig struct {
	// MaxInFlight is the number of concurrent replications
	MaxInFlight int64 `mapstructure:"max_in_flight"`

	// OpsPerSecond caps replication starts, 0 disables the cap
	OpsPerSecond float64 `mapstructure:"ops_per_second"`
	Burst        int     `mapstructure:"burst"`
}

// Limiter gates replication calls. One Limiter is created per process and
// handed to each BlockReplicator.
type Limiter struct {
	sem  *semaphore.Weighted
	rate *rate.Limiter
}

func NewLimiter(cfg LimiterConfig) *Limiter {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultMaxInFlight
	}
	l := &Limiter{sem: semaphore.NewWeighted(cfg.MaxInFlight)}
	if cfg.OpsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = max(1, int(cfg.OpsPerSecond))
		}
		l.rate = rate.NewLimiter(rate.Limit(cfg.OpsPerSecond), burst)
	}
	return l
}

// Acquire blocks until a slot is free (and the rate allows a start). The
// returned release must be called exactly once.
func (l *Limiter) Acquire(ctx context.Context) (func(), error) {
	if l.rate != nil {
		if err := l.rate.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	inFlight.Inc()
	return func() {
		inFlight.Dec()
		l.sem.Release(1)
	}, nil
}
