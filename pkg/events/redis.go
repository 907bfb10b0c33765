// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/LeeDigitalWorks/zapmap/pkg/logger"
)

// RedisPublisher sends build events over Redis Pub/Sub, one channel per
// partition key.
type RedisPublisher struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisPublisher dials cfg.Addr and fails unless the server answers a PING
func NewRedisPublisher(cfg RedisConfig) (*RedisPublisher, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis publisher: addr is required")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultConfig().Redis.DialTimeout
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis publisher: ping %s: %w", cfg.Addr, err)
	}
	logger.Info().Str("addr", cfg.Addr).Str("channel", cfg.Channel).Msg("redis event publisher ready")
	return NewRedisPublisherWithClient(client, cfg.Channel), nil
}

// NewRedisPublisherWithClient wraps client, which Close will close
func NewRedisPublisherWithClient(client redis.UniversalClient, prefix string) *RedisPublisher {
	if prefix == "" {
		prefix = DefaultRedisChannel
	}
	return &RedisPublisher{client: client, prefix: prefix}
}

func (p *RedisPublisher) Name() string { return "redis" }

// Channel is "<prefix>:<key>"
func (p *RedisPublisher) Channel(key string) string {
	return p.prefix + ":" + key
}

func (p *RedisPublisher) Publish(ctx context.Context, key string, event []byte) error {
	channel := p.Channel(key)
	receivers, err := p.client.Publish(ctx, channel, event).Result()
	if err != nil {
		return fmt.Errorf("redis publish to %s: %w", channel, err)
	}
	logger.Ctx(ctx).Debug().Str("channel", channel).Int64("subscribers", receivers).Msg("build event sent to redis")
	return nil
}

func (p *RedisPublisher) Close() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}
