// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"

	"github.com/LeeDigitalWorks/zapmap/pkg/logger"
	"github.com/LeeDigitalWorks/zapmap/pkg/metadata/db"
	"github.com/LeeDigitalWorks/zapmap/pkg/metadata/db/memory"
	"github.com/LeeDigitalWorks/zapmap/pkg/metadata/db/mysql"
	"github.com/LeeDigitalWorks/zapmap/pkg/metadata/db/postgres"
	dbsql "github.com/LeeDigitalWorks/zapmap/pkg/metadata/db/sql"
	"github.com/LeeDigitalWorks/zapmap/pkg/taskqueue"
)

func init() {
	db.RegisterDriver(db.DriverPostgres, func(cfg db.Config) (db.DB, error) {
		p, err := postgres.NewPostgres(cfg)
		if err != nil {
			return nil, err
		}
		return p, nil
	})
	db.RegisterDriver(db.DriverMySQL, func(cfg db.Config) (db.DB, error) {
		m, err := mysql.NewMySQL(cfg)
		if err != nil {
			return nil, err
		}
		return m, nil
	})
	db.RegisterDriver(db.DriverMemory, func(cfg db.Config) (db.DB, error) {
		return memory.New(), nil
	})
}

// openDatabase opens the metadata database and applies migrations when
// migrate is set
func openDatabase(ctx context.Context, cfg DatabaseConfig, migrate bool) (db.DB, error) {
	database, err := db.Open(cfg.dbConfig())
	if err != nil {
		return nil, err
	}
	if migrate {
		if err := database.Migrate(ctx); err != nil {
			database.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	logger.Info().Str("driver", string(cfg.Driver)).Msg("metadata database ready")
	return database, nil
}

// sqlStore returns the SQL store behind database, or nil for non-SQL drivers
func sqlStore(database db.DB) *dbsql.Store {
	if u, ok := database.(interface{ Unwrap() db.DB }); ok {
		database = u.Unwrap()
	}
	switch d := database.(type) {
	case *postgres.Postgres:
		return d.Store
	case *mysql.MySQL:
		return d.Store
	}
	return nil
}

// newTaskQueue builds the configured queue. The db backend keeps its tasks
// in the metadata database.
func newTaskQueue(cfg TaskQueueConfig, database db.DB) (taskqueue.Queue, error) {
	if cfg.Backend == "memory" {
		return taskqueue.NewMemoryQueue(), nil
	}
	store := sqlStore(database)
	if store == nil {
		return nil, fmt.Errorf("taskqueue backend %q needs a SQL metadata database", cfg.Backend)
	}
	return taskqueue.NewDBQueue(taskqueue.DBQueueConfig{
		Store:             store,
		VisibilityTimeout: cfg.VisibilityTimeout,
	})
}
