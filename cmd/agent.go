// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/LeeDigitalWorks/zapmap/pkg/agent"
	"github.com/LeeDigitalWorks/zapmap/pkg/debug"
	"github.com/LeeDigitalWorks/zapmap/pkg/grpc/pool"
	"github.com/LeeDigitalWorks/zapmap/pkg/logger"
	"github.com/LeeDigitalWorks/zapmap/pkg/storage/backend"
	"github.com/LeeDigitalWorks/zapmap/pkg/storage/index"
	"github.com/LeeDigitalWorks/zapmap/pkg/system"
	"github.com/LeeDigitalWorks/zapmap/pkg/types"
	"github.com/LeeDigitalWorks/zapmap/pkg/utils"
)

// AgentOpts holds all configuration for a storage agent
type AgentOpts struct {
	// Network binding
	BindAddr      string
	AdvertiseAddr string
	DebugAddr     string

	// Identity
	NodeID          types.NodeID
	Decommissioning bool

	// Storage
	Storage   backend.Config
	IndexPath string // empty keeps the index in memory

	// Liveness in Redis
	RedisAddr         string
	RedisPassword     string
	RedisKeyPrefix    string
	HeartbeatInterval time.Duration
	HeartbeatTTL      time.Duration

	// Peer connections
	ConnsPerHost int

	// TLS
	CertFile string
	KeyFile  string
}

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Start a storage agent",
	Long: `Start a storage agent. Agents store block bytes for one node and copy
blocks from their peers when the map builder asks them to replicate.`,
	Run: runAgent,
}

func init() {
	rootCmd.AddCommand(agentCmd)

	f := agentCmd.Flags()

	f.String("node_id", "", "Node id as listed in the topology. Env: NODE_ID. Required.")
	f.String("bind_addr", "0.0.0.0:8101", "Address to bind the gRPC server (host:port)")
	f.String("advertise_addr", "", "Address peers and the builder dial (host:port). Env: ADVERTISE_ADDR. Defaults to a detected interface address.")
	f.String("debug_addr", "0.0.0.0:8110", "Debug/metrics HTTP address")
	f.Bool("decommissioning", false, "Advertise the node as decommissioning so its blocks are moved away")

	f.String("storage_type", string(types.StorageTypeLocal), "Block storage (local, s3, memory)")
	f.String("storage_path", "/var/lib/zapmap/blocks", "Directory for local block storage")
	f.String("s3_bucket", "", "Bucket for s3 block storage")
	f.String("s3_prefix", "", "Key prefix for s3 block storage")
	f.String("s3_region", "", "Region for s3 block storage")
	f.String("s3_endpoint", "", "Endpoint for S3-compatible block storage")
	f.String("s3_access_key", "", "Access key for s3 block storage")
	f.String("s3_secret_key", "", "Secret key for s3 block storage")
	f.String("compression", "none", "Compress blocks at rest (none, lz4, zstd, s2)")
	f.String("index_path", "", "LevelDB directory for the block index (empty = in memory)")

	f.String("redis_addr", "", "Redis address for heartbeats (empty = no heartbeats)")
	f.String("redis_password", "", "Redis password")
	f.String("redis_key_prefix", system.DefaultNodeKeyPrefix, "Redis key prefix of node records")
	f.Duration("heartbeat_interval", 15*time.Second, "How often the agent publishes its liveness")
	f.Duration("heartbeat_ttl", 2*time.Minute, "Expiry of the liveness record")

	f.Int("conns_per_host", pool.DefaultConnsPerHost, "gRPC connections per peer agent")

	f.String("cert_file", "", "Path to TLS certificate file")
	f.String("key_file", "", "Path to TLS key file")
}

func loadAgentOpts(cmd *cobra.Command) AgentOpts {
	utils.LoadConfiguration("agent", false)
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		logger.Fatal().Err(err).Msg("failed to bind agent flags")
	}
	f := NewFlagLoader(cmd)

	nodeID := f.String("node_id")
	if nodeID == "" {
		nodeID = os.Getenv("NODE_ID")
	}
	if nodeID == "" {
		logger.Fatal().Msg("--node_id is required. Set via flag, config, or NODE_ID env var.")
	}

	bindAddr := f.String("bind_addr")
	advertiseAddr := f.String("advertise_addr")
	if addr := os.Getenv("ADVERTISE_ADDR"); addr != "" {
		advertiseAddr = addr
	}
	if advertiseAddr == "" {
		host, portStr, err := net.SplitHostPort(bindAddr)
		if err != nil {
			logger.Fatal().Err(err).Str("bind_addr", bindAddr).Msg("invalid bind_addr format, expected host:port")
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			logger.Fatal().Err(err).Str("bind_addr", bindAddr).Msg("invalid bind_addr port")
		}
		advertiseAddr = utils.AdvertiseAddress(host, port)
	}

	return AgentOpts{
		BindAddr:        bindAddr,
		AdvertiseAddr:   advertiseAddr,
		DebugAddr:       f.String("debug_addr"),
		NodeID:          types.NodeID(nodeID),
		Decommissioning: f.Bool("decommissioning"),
		Storage: backend.Config{
			Type:        types.StorageType(f.String("storage_type")),
			Path:        f.String("storage_path"),
			Bucket:      f.String("s3_bucket"),
			Prefix:      f.String("s3_prefix"),
			Region:      f.String("s3_region"),
			Endpoint:    f.String("s3_endpoint"),
			AccessKey:   f.String("s3_access_key"),
			SecretKey:   f.String("s3_secret_key"),
			Compression: f.String("compression"),
		},
		IndexPath:         f.String("index_path"),
		RedisAddr:         f.String("redis_addr"),
		RedisPassword:     f.String("redis_password"),
		RedisKeyPrefix:    f.String("redis_key_prefix"),
		HeartbeatInterval: f.Duration("heartbeat_interval"),
		HeartbeatTTL:      f.Duration("heartbeat_ttl"),
		ConnsPerHost:      f.Int("conns_per_host"),
		CertFile:          f.String("cert_file"),
		KeyFile:           f.String("key_file"),
	}
}

func runAgent(cmd *cobra.Command, args []string) {
	opts := loadAgentOpts(cmd)

	debug.SetNotReady()

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	store, err := backend.New(opts.Storage)
	if err != nil {
		logger.Fatal().Err(err).Str("type", string(opts.Storage.Type)).Msg("failed to open block storage")
	}
	defer store.Close()

	idx, err := openBlockIndex(opts.IndexPath)
	if err != nil {
		logger.Fatal().Err(err).Str("index_path", opts.IndexPath).Msg("failed to open block index")
	}
	defer idx.Close()

	peers := agent.NewClient(pool.WithConnsPerHost(opts.ConnsPerHost))
	defer peers.Close()

	grpcServer := agent.NewGRPCServer(loadTLSServerOpts(opts.CertFile, opts.KeyFile)...)
	agent.RegisterAgentServer(grpcServer, agent.NewServer(store, idx, peers))

	listener, err := net.Listen("tcp", opts.BindAddr)
	if err != nil {
		logger.Fatal().Err(err).Str("bind_addr", opts.BindAddr).Msg("failed to create gRPC listener")
	}
	go func() {
		logger.Info().
			Str("node_id", string(opts.NodeID)).
			Str("bind_addr", opts.BindAddr).
			Str("advertise_addr", opts.AdvertiseAddr).
			Str("storage", string(store.Type())).
			Msg("Starting agent gRPC server")
		if err := grpcServer.Serve(listener); err != nil {
			logger.Fatal().Err(err).Msg("failed to start gRPC server")
		}
	}()

	go func() {
		if err := debug.Serve(ctx, opts.DebugAddr); err != nil {
			logger.Error().Err(err).Msg("debug server failed")
		}
	}()

	var rdb *redis.Client
	if opts.RedisAddr != "" {
		rdb, err = system.NewRedisClient(system.RedisConfig{
			Addr:     opts.RedisAddr,
			Password: opts.RedisPassword,
			PoolSize: 2,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer rdb.Close()
		debug.AddReadyCheck("redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
		go heartbeatAgent(ctx, rdb, store, opts)
	} else {
		logger.Warn().Msg("No redis address provided - the builder will only see this node through the topology file")
	}

	debug.SetReady()

	<-ctx.Done()
	logger.Info().Msg("shutting down agent")

	debug.SetNotReady()
	if rdb != nil {
		offCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := system.MarkOffline(offCtx, rdb, opts.RedisKeyPrefix, opts.NodeID); err != nil {
			logger.Warn().Err(err).Msg("failed to mark node offline")
		}
		cancel()
	}
	grpcServer.GracefulStop()
}

// openBlockIndex opens the LevelDB index at path, or an in-memory one
func openBlockIndex(path string) (agent.BlockIndex, error) {
	if path == "" {
		logger.Warn().Msg("block index kept in memory; it is lost on restart")
		return index.NewMemory[types.BlockID, agent.BlockRecord](), nil
	}
	idx, err := index.OpenLevelDB[types.BlockID, agent.BlockRecord](path)
	if err != nil {
		return nil, err
	}
	n, err := index.Count(idx)
	if err != nil {
		_ = idx.Close()
		return nil, err
	}
	logger.Info().Str("index_path", path).Int("blocks", n).Msg("block index opened")
	return idx, nil
}

// heartbeatAgent publishes the node's liveness and capacity until ctx is done
func heartbeatAgent(ctx context.Context, rdb *redis.Client, store backend.BlockStorage, opts AgentOpts) {
	publish := func() {
		total, used, err := store.Capacity(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to read storage capacity")
		}
		hb := system.Heartbeat{
			Node:            opts.NodeID,
			Address:         opts.AdvertiseAddr,
			TotalBytes:      total,
			UsedBytes:       used,
			Decommissioning: opts.Decommissioning,
			At:              time.Now(),
		}
		if err := system.PublishHeartbeat(ctx, rdb, opts.RedisKeyPrefix, opts.HeartbeatTTL, hb); err != nil {
			logger.Warn().Err(err).Msg("heartbeat failed")
			return
		}
		logger.Debug().
			Str("total", humanize.IBytes(uint64(max(total, 0)))).
			Str("used", humanize.IBytes(uint64(max(used, 0)))).
			Msg("heartbeat published")
	}

	publish()
	for range utils.JitteredTicker(ctx, opts.HeartbeatInterval, 0.1) {
		publish()
	}
}

func loadTLSServerOpts(certFile, keyFile string) []grpc.ServerOption {
	if certFile == "" || keyFile == "" {
		return nil
	}
	creds, err := credentials.NewServerTLSFromFile(certFile, keyFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load TLS credentials")
	}
	logger.Info().Msg("gRPC server using TLS")
	return []grpc.ServerOption{grpc.Creds(creds)}
}
