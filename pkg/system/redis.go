// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package system

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/LeeDigitalWorks/zapmap/pkg/logger"
	"github.com/LeeDigitalWorks/zapmap/pkg/types"
)

const DefaultNodeKeyPrefix = "zapmap:node:"

// Hash fields of a node's liveness record
const (
	fieldOnline          = "online"
	fieldDecommissioning = "decommissioning"
	fieldHeartbeatAt     = "heartbeat_at"
	fieldTotalBytes      = "total_bytes"
	fieldUsedBytes       = "used_bytes"
	fieldAddress         = "address"
)

// RedisConfig configures the Redis liveness overlay
type RedisConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	PoolSize  int           `mapstructure:"pool_size"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:      "localhost:6379",
		PoolSize:  10,
		KeyPrefix: DefaultNodeKeyPrefix,
		TTL:       2 * time.Minute,
	}
}

// NewRedisClient connects and pings
func NewRedisClient(cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return client, nil
}

// RedisNodeSource overlays node liveness and capacity, published by the
// storage agents, onto a base topology. Nodes with no record are offline.
type RedisNodeSource struct {
	base   Source
	client redis.Cmdable
	prefix string
}

func NewRedisNodeSource(base Source, client redis.Cmdable, prefix string) *RedisNodeSource {
	if prefix == "" {
		prefix = DefaultNodeKeyPrefix
	}
	return &RedisNodeSource{base: base, client: client, prefix: prefix}
}

func (r *RedisNodeSource) Load(ctx context.Context) (*Topology, error) {
	topo, err := r.base.Load(ctx)
	if err != nil {
		return nil, err
	}
	if len(topo.Nodes) == 0 {
		return topo, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(topo.Nodes))
	_, err = r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, n := range topo.Nodes {
			cmds[i] = p.HGetAll(ctx, r.prefix+string(n.ID))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load node liveness: %w", err)
	}

	for i, n := range topo.Nodes {
		fields := cmds[i].Val()
		if len(fields) == 0 {
			n.Online = false
			continue
		}
		if err := overlayNode(n, fields); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("node_id", string(n.ID)).Msg("malformed node liveness record")
			n.Online = false
		}
	}
	return topo, nil
}

func overlayNode(n *types.Node, fields map[string]string) error {
	var err error
	if v, ok := fields[fieldOnline]; ok {
		if n.Online, err = strconv.ParseBool(v); err != nil {
			return fmt.Errorf("%s: %w", fieldOnline, err)
		}
	}
	if v, ok := fields[fieldDecommissioning]; ok {
		if n.Decommissioning, err = strconv.ParseBool(v); err != nil {
			return fmt.Errorf("%s: %w", fieldDecommissioning, err)
		}
	}
	if v, ok := fields[fieldHeartbeatAt]; ok {
		nanos, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", fieldHeartbeatAt, err)
		}
		n.HeartbeatAt = time.Unix(0, nanos)
	}
	if v, ok := fields[fieldTotalBytes]; ok {
		if n.TotalBytes, err = strconv.ParseInt(v, 10, 64); err != nil {
			return fmt.Errorf("%s: %w", fieldTotalBytes, err)
		}
	}
	if v, ok := fields[fieldUsedBytes]; ok {
		if n.UsedBytes, err = strconv.ParseInt(v, 10, 64); err != nil {
			return fmt.Errorf("%s: %w", fieldUsedBytes, err)
		}
	}
	if v := fields[fieldAddress]; v != "" {
		n.Address = v
	}
	return nil
}

// Heartbeat is what a storage agent publishes about itself
type Heartbeat struct {
	Node            types.NodeID
	Address         string
	TotalBytes      int64
	UsedBytes       int64
	Decommissioning bool
	At              time.Time
}

// PublishHeartbeat writes the agent's liveness record and refreshes its TTL
func PublishHeartbeat(ctx context.Context, client redis.Cmdable, prefix string, ttl time.Duration, hb Heartbeat) error {
	if prefix == "" {
		prefix = DefaultNodeKeyPrefix
	}
	key := prefix + string(hb.Node)
	_, err := client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key,
			fieldOnline, "true",
			fieldDecommissioning, strconv.FormatBool(hb.Decommissioning),
			fieldHeartbeatAt, strconv.FormatInt(hb.At.UnixNano(), 10),
			fieldTotalBytes, strconv.FormatInt(hb.TotalBytes, 10),
			fieldUsedBytes, strconv.FormatInt(hb.UsedBytes, 10),
			fieldAddress, hb.Address,
		)
		if ttl > 0 {
			p.Expire(ctx, key, ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish heartbeat for %s: %w", hb.Node, err)
	}
	return nil
}

// MarkOffline flags the node offline, used on agent shutdown
func MarkOffline(ctx context.Context, client redis.Cmdable, prefix string, node types.NodeID) error {
	if prefix == "" {
		prefix = DefaultNodeKeyPrefix
	}
	return client.HSet(ctx, prefix+string(node), fieldOnline, "false").Err()
}
