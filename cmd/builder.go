// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/LeeDigitalWorks/zapmap/pkg/agent"
	"github.com/LeeDigitalWorks/zapmap/pkg/debug"
	"github.com/LeeDigitalWorks/zapmap/pkg/events"
	"github.com/LeeDigitalWorks/zapmap/pkg/grpc/pool"
	"github.com/LeeDigitalWorks/zapmap/pkg/logger"
	"github.com/LeeDigitalWorks/zapmap/pkg/mapper"
	"github.com/LeeDigitalWorks/zapmap/pkg/metadata/db"
	"github.com/LeeDigitalWorks/zapmap/pkg/replicator"
	"github.com/LeeDigitalWorks/zapmap/pkg/storage/placer"
	"github.com/LeeDigitalWorks/zapmap/pkg/system"
	"github.com/LeeDigitalWorks/zapmap/pkg/taskqueue"
	"github.com/LeeDigitalWorks/zapmap/pkg/taskqueue/handlers"
	"github.com/LeeDigitalWorks/zapmap/pkg/utils"
)

var builderCmd = &cobra.Command{
	Use:   "builder",
	Short: "Run the chunk map builder",
	Long: `Run the map builder service. A scanner enqueues chunks that are due for
a build; workers build them in batches, replicating missing blocks through the
storage agents and retiring surplus ones.`,
	Run: runBuilder,
}

func init() {
	rootCmd.AddCommand(builderCmd)

	addBuilderFlags(builderCmd)
	f := builderCmd.Flags()
	f.String("debug_addr", defaultBuilderConfig().DebugAddr, "Debug/metrics HTTP address")
	f.String("taskqueue_backend", defaultBuilderConfig().TaskQueue.Backend, "Task queue backend (db, memory)")
	f.Int("workers", taskqueue.DefaultConcurrency, "Concurrent task handlers")
}

// builderRuntime holds the components shared by the builder and build commands
type builderRuntime struct {
	cfg        BuilderConfig
	db         db.DB
	topology   *system.Store
	redis      interface{ Close() error }
	agents     *agent.Client
	queue      taskqueue.Queue
	emitter    *events.Emitter
	builder    *mapper.Builder
	publishers []events.Publisher
}

// newBuilderRuntime opens the database and topology and assembles a builder.
// Events are queued only when a queue is given.
func newBuilderRuntime(ctx context.Context, cfg BuilderConfig, withQueue bool) (_ *builderRuntime, err error) {
	rt := &builderRuntime{cfg: cfg}
	defer func() {
		if err != nil {
			rt.Close()
		}
	}()

	rt.db, err = openDatabase(ctx, cfg.Database, cfg.Database.AutoMigrate)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	var source system.Source = system.NewFileSource(cfg.Topology.File)
	if cfg.Topology.Redis.Enabled {
		client, err := system.NewRedisClient(cfg.Topology.Redis)
		if err != nil {
			return nil, err
		}
		rt.redis = client
		source = system.NewRedisNodeSource(source, client, cfg.Topology.Redis.KeyPrefix)
	}
	rt.topology = system.NewStore(source)
	snap, err := rt.topology.Refresh(ctx)
	if err != nil {
		return nil, fmt.Errorf("initial topology: %w", err)
	}
	logger.Info().
		Int("pools", len(snap.Pools)).
		Int("nodes", len(snap.Nodes)).
		Int("policies", len(snap.Policies)).
		Int("buckets", len(snap.Buckets)).
		Msg("topology loaded")

	if withQueue {
		rt.queue, err = newTaskQueue(cfg.TaskQueue, rt.db)
		if err != nil {
			return nil, err
		}
	}

	rt.emitter = events.NoopEmitter()
	if cfg.Events.Enabled && rt.queue != nil {
		rt.emitter = events.NewEmitter(events.EmitterConfig{Queue: rt.queue, Enabled: true})
		rt.publishers, err = events.NewPublishers(cfg.Events)
		if err != nil {
			return nil, fmt.Errorf("event publishers: %w", err)
		}
	}

	rt.agents = agent.NewClient(pool.WithConnsPerHost(cfg.AgentConnsPerHost))
	limiter := replicator.NewLimiter(cfg.Limiter)
	repl := replicator.NewBlockReplicator(rt.agents, limiter, cfg.Replicator)
	alloc := placer.NewNodeAllocator(placer.Config{
		NodeTimeout:  cfg.Builder.NodeTimeout,
		MinFreeBytes: cfg.Placer.MinFreeBytes,
	})
	rt.builder = mapper.NewBuilder(rt.db, rt.topology, alloc, repl, cfg.Builder, mapper.WithNotifier(rt.emitter))
	return rt, nil
}

// Close releases everything newBuilderRuntime opened
func (rt *builderRuntime) Close() {
	var errs []error
	if len(rt.publishers) > 0 {
		errs = append(errs, events.CloseAll(rt.publishers))
	}
	if rt.queue != nil {
		errs = append(errs, rt.queue.Close())
	}
	if rt.agents != nil {
		errs = append(errs, rt.agents.Close())
	}
	if rt.redis != nil {
		errs = append(errs, rt.redis.Close())
	}
	if rt.db != nil {
		errs = append(errs, rt.db.Close())
	}
	if err := errors.Join(errs...); err != nil {
		logger.Warn().Err(err).Msg("shutdown: failed to close some resources")
	}
}

func runBuilder(cmd *cobra.Command, args []string) {
	cfg, err := loadBuilderConfig(cmd)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid builder configuration")
	}

	debug.SetNotReady()

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	rt, err := newBuilderRuntime(ctx, cfg, true)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start builder")
	}
	defer rt.Close()

	hostname, _ := os.Hostname()
	worker := taskqueue.NewWorker(taskqueue.WorkerConfig{
		ID:           fmt.Sprintf("builder-%s-%d", hostname, os.Getpid()),
		Queue:        rt.queue,
		PollInterval: cfg.TaskQueue.PollInterval,
		Concurrency:  cfg.TaskQueue.Concurrency,
	})
	worker.RegisterHandler(handlers.NewMapBuildHandler(rt.builder))
	if rt.emitter.IsEnabled() {
		worker.RegisterHandler(events.NewDeliveryHandler(rt.publishers))
	}

	scanner := mapper.NewScanner(rt.db, rt.queue, cfg.Scanner)
	defer scanner.Stop()

	registerBuilderDebug(rt)

	logger.Info().
		Str("driver", string(cfg.Database.Driver)).
		Str("taskqueue", cfg.TaskQueue.Backend).
		Int("workers", cfg.TaskQueue.Concurrency).
		Bool("events", rt.emitter.IsEnabled()).
		Int("publishers", len(rt.publishers)).
		Msg("builder configuration")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return debug.Serve(gctx, cfg.DebugAddr)
	})
	g.Go(func() error {
		worker.Start(gctx)
		<-gctx.Done()
		worker.Stop()
		return nil
	})
	g.Go(func() error {
		scanner.Run(gctx)
		return nil
	})
	g.Go(func() error {
		refreshTopology(gctx, rt.topology, cfg.Topology.RefreshInterval)
		return nil
	})
	g.Go(func() error {
		maintainQueue(gctx, rt, cfg.TaskQueue)
		return nil
	})

	debug.SetReady()
	logger.Info().Str("debug_addr", cfg.DebugAddr).Msg("builder started")

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("builder stopped with error")
	}
	debug.SetNotReady()
	logger.Info().Msg("builder stopped")
}

func registerBuilderDebug(rt *builderRuntime) {
	debug.RegisterJSON("/debug/tasks/stats", func(ctx context.Context) (any, error) {
		return rt.queue.Stats(ctx)
	})
	debug.RegisterJSON("/debug/topology", func(ctx context.Context) (any, error) {
		snap := rt.topology.Current()
		if snap == nil {
			return nil, errors.New("topology not loaded")
		}
		return snap, nil
	})

	debug.AddReadyCheck("topology", func(ctx context.Context) error {
		if rt.topology.Current() == nil {
			return errors.New("topology not loaded")
		}
		return nil
	})
	if store := sqlStore(rt.db); store != nil {
		debug.AddReadyCheck("database", func(ctx context.Context) error {
			return store.DB().PingContext(ctx)
		})
	}
}

// refreshTopology keeps the cached snapshot current between builds
func refreshTopology(ctx context.Context, store *system.Store, interval time.Duration) {
	if interval <= 0 {
		return
	}
	for range utils.JitteredTicker(ctx, interval, 0.1) {
		if _, err := store.Refresh(ctx); err != nil {
			logger.Warn().Err(err).Msg("topology refresh failed, keeping previous snapshot")
		}
	}
}

// maintainQueue reclaims abandoned tasks, drops finished ones and publishes
// queue and connection pool metrics
func maintainQueue(ctx context.Context, rt *builderRuntime, cfg TaskQueueConfig) {
	if cfg.MaintenanceInterval <= 0 {
		return
	}
	dbQueue, _ := rt.queue.(*taskqueue.DBQueue)
	store := sqlStore(rt.db)

	for range utils.JitteredTicker(ctx, cfg.MaintenanceInterval, 0.1) {
		if dbQueue != nil {
			if n, err := dbQueue.ReclaimStale(ctx); err != nil {
				logger.Warn().Err(err).Msg("taskqueue: reclaim failed")
			} else if n > 0 {
				logger.Info().Int("tasks", n).Msg("taskqueue: reclaimed abandoned tasks")
			}
		}
		if cfg.RetainFinished > 0 {
			if n, err := rt.queue.Cleanup(ctx, cfg.RetainFinished); err != nil {
				logger.Warn().Err(err).Msg("taskqueue: cleanup failed")
			} else if n > 0 {
				logger.Debug().Int("tasks", n).Msg("taskqueue: removed finished tasks")
			}
		}
		if stats, err := rt.queue.Stats(ctx); err == nil {
			taskqueue.UpdateQueueDepth(stats)
		}
		if store != nil {
			store.ReportStats()
		}
	}
}
