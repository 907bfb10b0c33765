// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"errors"
	"fmt"
)

// Publisher is the interface for event delivery backends.
type Publisher interface {
	// Name returns the publisher identifier (e.g., "redis", "kafka").
	Name() string

	// Publish sends an encoded event. key groups related events: it is
	// the Kafka message key and the Redis channel suffix.
	Publish(ctx context.Context, key string, event []byte) error

	Close() error
}

// NewPublishers connects every enabled publisher. On error the publishers
// opened so far are closed.
func NewPublishers(cfg Config) ([]Publisher, error) {
	var pubs []Publisher

	if cfg.Kafka.Enabled {
		p, err := NewKafkaPublisher(cfg.Kafka)
		if err != nil {
			return nil, err
		}
		pubs = append(pubs, p)
	}

	if cfg.Redis.Enabled {
		p, err := NewRedisPublisher(cfg.Redis)
		if err != nil {
			_ = CloseAll(pubs)
			return nil, err
		}
		pubs = append(pubs, p)
	}

	return pubs, nil
}

// CloseAll closes every publisher and joins their errors
func CloseAll(pubs []Publisher) error {
	var errs []error
	for _, p := range pubs {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s publisher: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}
