// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"context"
	"math/rand/v2"
	"time"
)

// Jitter spreads base uniformly over [base-f*base, base+f*base]. f is
// clamped to [0, 1].
func Jitter(base time.Duration, f float64) time.Duration {
	f = min(max(f, 0), 1)
	spread := time.Duration(float64(base) * f)
	if spread <= 0 {
		return base
	}
	return base - spread + rand.N(2*spread+1)
}

// JitteredTicker delivers ticks with each interval jittered on its own, so
// replicas started together drift apart. Ticks are dropped while the
// receiver is busy; the channel closes when ctx is done.
func JitteredTicker(ctx context.Context, base time.Duration, f float64) <-chan time.Time {
	ticks := make(chan time.Time, 1)
	go func() {
		defer close(ticks)
		timer := time.NewTimer(Jitter(base, f))
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-timer.C:
				select {
				case ticks <- now:
				default:
				}
				timer.Reset(Jitter(base, f))
			}
		}
	}()
	return ticks
}
