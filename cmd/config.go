// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/LeeDigitalWorks/zapmap/pkg/events"
	"github.com/LeeDigitalWorks/zapmap/pkg/mapper"
	"github.com/LeeDigitalWorks/zapmap/pkg/metadata/db"
	"github.com/LeeDigitalWorks/zapmap/pkg/replicator"
	"github.com/LeeDigitalWorks/zapmap/pkg/system"
	"github.com/LeeDigitalWorks/zapmap/pkg/taskqueue"
	"github.com/LeeDigitalWorks/zapmap/pkg/utils"
)

// BuilderConfig is the builder's configuration file (builder.yaml). Keys
// present in the file or bound to a flag can be overridden from the
// environment, e.g. DATABASE_DSN.
type BuilderConfig struct {
	DebugAddr string `mapstructure:"debug_addr"`

	Database   DatabaseConfig           `mapstructure:"database"`
	Topology   TopologyConfig           `mapstructure:"topology"`
	Builder    mapper.Config            `mapstructure:"builder"`
	Placer     PlacerConfig             `mapstructure:"placer"`
	Replicator replicator.Config        `mapstructure:"replicator"`
	Limiter    replicator.LimiterConfig `mapstructure:"limiter"`
	Scanner    mapper.ScannerConfig     `mapstructure:"scanner"`
	TaskQueue  TaskQueueConfig          `mapstructure:"taskqueue"`
	Events     events.Config            `mapstructure:"events"`

	// AgentConnsPerHost is the number of gRPC connections per agent
	AgentConnsPerHost int `mapstructure:"agent_conns_per_host"`
}

type DatabaseConfig struct {
	Driver          db.Driver `mapstructure:"driver"`
	DSN             string    `mapstructure:"dsn"`
	MaxOpenConns    int       `mapstructure:"max_open_conns"`
	MaxIdleConns    int       `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int       `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime int       `mapstructure:"conn_max_idle_time"`
	// AutoMigrate applies pending migrations on startup
	AutoMigrate bool `mapstructure:"auto_migrate"`
}

func (c DatabaseConfig) dbConfig() db.Config {
	cfg := db.DefaultConfig(c.Driver)
	cfg.DSN = c.DSN
	if c.MaxOpenConns > 0 {
		cfg.MaxOpenConns = c.MaxOpenConns
	}
	if c.MaxIdleConns > 0 {
		cfg.MaxIdleConns = c.MaxIdleConns
	}
	if c.ConnMaxLifetime > 0 {
		cfg.ConnMaxLifetime = c.ConnMaxLifetime
	}
	if c.ConnMaxIdleTime > 0 {
		cfg.ConnMaxIdleTime = c.ConnMaxIdleTime
	}
	return cfg
}

type TopologyConfig struct {
	// File is the topology file (YAML, JSON or TOML)
	File string `mapstructure:"file"`
	// Redis overlays node liveness published by agents
	Redis system.RedisConfig `mapstructure:"redis"`
	// RefreshInterval keeps /debug/topology and readiness current between
	// builds (0 = refresh only per build)
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

type PlacerConfig struct {
	// MinFreeBytes accepts human readable sizes ("10GiB")
	MinFreeBytes int64 `mapstructure:"min_free_bytes"`
}

type TaskQueueConfig struct {
	// Backend is "db" (shares the metadata database) or "memory"
	Backend           string        `mapstructure:"backend"`
	Concurrency       int           `mapstructure:"concurrency"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`
	// RetainFinished is how long completed and dead tasks are kept
	RetainFinished time.Duration `mapstructure:"retain_finished"`
	// MaintenanceInterval drives queue cleanup and depth metrics
	MaintenanceInterval time.Duration `mapstructure:"maintenance_interval"`
}

func defaultBuilderConfig() BuilderConfig {
	return BuilderConfig{
		DebugAddr: "0.0.0.0:8090",
		Database: DatabaseConfig{
			Driver: db.DriverPostgres,
		},
		Topology: TopologyConfig{
			File:            "topology.yaml",
			Redis:           system.DefaultRedisConfig(),
			RefreshInterval: 30 * time.Second,
		},
		Builder: mapper.Config{
			NodeTimeout: 5 * time.Minute,
		},
		Placer: PlacerConfig{
			MinFreeBytes: 1 << 30,
		},
		Replicator: replicator.Config{
			Timeout: replicator.DefaultReplicateTimeout,
		},
		Limiter: replicator.LimiterConfig{
			MaxInFlight: replicator.DefaultMaxInFlight,
		},
		Scanner: mapper.DefaultScannerConfig(),
		TaskQueue: TaskQueueConfig{
			Backend:             "db",
			Concurrency:         taskqueue.DefaultConcurrency,
			PollInterval:        taskqueue.DefaultPollInterval,
			VisibilityTimeout:   taskqueue.DefaultVisibilityTimeout,
			RetainFinished:      24 * time.Hour,
			MaintenanceInterval: time.Minute,
		},
		Events:            events.DefaultConfig(),
		AgentConnsPerHost: 2,
	}
}

// builderFlagKeys maps config keys to the flags that override them. Keys
// whose flag a command does not define are left to the file and environment.
var builderFlagKeys = map[string]string{
	"database.driver":        "db_driver",
	"database.dsn":           "db_dsn",
	"database.auto_migrate":  "db_auto_migrate",
	"topology.file":          "topology_file",
	"topology.redis.enabled": "topology_redis",
	"topology.redis.addr":    "topology_redis_addr",
	"builder.node_timeout":   "node_timeout",
	"placer.min_free_bytes":  "min_free",
	"limiter.max_in_flight":  "max_in_flight",
	"limiter.ops_per_second": "replications_per_second",
	"replicator.timeout":     "replicate_timeout",
	"debug_addr":             "debug_addr",
	"taskqueue.backend":      "taskqueue_backend",
	"taskqueue.concurrency":  "workers",
}

// addBuilderFlags registers the flags shared by builder and build
func addBuilderFlags(cmd *cobra.Command) {
	def := defaultBuilderConfig()
	f := cmd.Flags()

	f.String("db_driver", string(def.Database.Driver), "Metadata database driver (postgres, mysql, memory)")
	f.String("db_dsn", "", "Metadata database DSN")
	f.Bool("db_auto_migrate", false, "Apply pending migrations on startup")
	f.String("topology_file", def.Topology.File, "Topology file (pools, nodes, tiering policies, buckets)")
	f.Bool("topology_redis", false, "Overlay node liveness from Redis")
	f.String("topology_redis_addr", def.Topology.Redis.Addr, "Redis address for node liveness")
	f.Duration("node_timeout", def.Builder.NodeTimeout, "Heartbeat age after which a node's blocks are unusable (0 = no check)")
	f.String("min_free", humanize.IBytes(uint64(def.Placer.MinFreeBytes)), "Free capacity a node needs to receive new blocks")
	f.Int64("max_in_flight", def.Limiter.MaxInFlight, "Concurrent replications across all batches")
	f.Float64("replications_per_second", 0, "Replication start rate (0 = unlimited)")
	f.Duration("replicate_timeout", def.Replicator.Timeout, "Timeout of a single block replication")
}

// loadBuilderConfig layers builder.yaml, the environment and the flags of
// cmd over the defaults
func loadBuilderConfig(cmd *cobra.Command) (BuilderConfig, error) {
	cfg := defaultBuilderConfig()

	utils.LoadConfiguration("builder", false)
	for key, flag := range builderFlagKeys {
		pf := cmd.Flags().Lookup(flag)
		if pf == nil {
			continue
		}
		if err := viper.BindPFlag(key, pf); err != nil {
			return cfg, fmt.Errorf("bind --%s: %w", flag, err)
		}
	}

	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		byteSizeHook(),
	))
	if err := viper.Unmarshal(&cfg, hook); err != nil {
		return cfg, fmt.Errorf("decode builder config: %w", err)
	}

	if cfg.Database.DSN == "" && cfg.Database.Driver != db.DriverMemory {
		return cfg, errors.New("database.dsn is required")
	}
	switch cfg.TaskQueue.Backend {
	case "db", "memory":
	default:
		return cfg, fmt.Errorf("unknown taskqueue backend %q", cfg.TaskQueue.Backend)
	}
	if cfg.TaskQueue.Backend == "db" && cfg.Database.Driver == db.DriverMemory {
		cfg.TaskQueue.Backend = "memory"
	}
	if err := cfg.Events.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// byteSizeHook decodes "10GiB" style strings into int64 fields
func byteSizeHook() mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to.Kind() != reflect.Int64 || to == reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		s := data.(string)
		if s == "" {
			return int64(0), nil
		}
		n, err := humanize.ParseBytes(s)
		if err != nil {
			return nil, err
		}
		return int64(n), nil
	}
}
