// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package sql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/LeeDigitalWorks/zapmap/pkg/metadata/db"
)

// conn is what *sql.DB and *sql.Tx have in common
type conn interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Querier runs dialect-rewritten statements. Statements are written with
// $n placeholders; MySQL gets them rewritten to ?.
type Querier interface {
	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) *sql.Row
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)
	Dialect() Dialect
}

// scanner is *sql.Row or *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

type rewriter struct {
	c conn
	d Dialect
}

func (r rewriter) Dialect() Dialect { return r.d }

func (r rewriter) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return r.c.QueryContext(ctx, r.d.ReplacePlaceholders(query), args...)
}

func (r rewriter) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return r.c.QueryRowContext(ctx, r.d.ReplacePlaceholders(query), args...)
}

func (r rewriter) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return r.c.ExecContext(ctx, r.d.ReplacePlaceholders(query), args...)
}

// Store implements db.DB for PostgreSQL and MySQL
type Store struct {
	rewriter
	db *sql.DB
}

var _ db.DB = (*Store)(nil)

// TxStore is a Querier bound to one transaction
type TxStore struct {
	rewriter
}

var _ db.TxStore = (*TxStore)(nil)

func NewStore(sqlDB *sql.DB, dialect Dialect) *Store {
	return &Store{rewriter: rewriter{c: sqlDB, d: dialect}, db: sqlDB}
}

// Open connects with driverName, applies the pool limits of cfg (zero
// values take the db package defaults) and pings the server.
func Open(driverName string, dialect Dialect, cfg db.Config) (*Store, error) {
	sqlDB, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	def := db.DefaultConfig(cfg.Driver)
	sqlDB.SetMaxOpenConns(positive(cfg.MaxOpenConns, def.MaxOpenConns))
	sqlDB.SetMaxIdleConns(positive(cfg.MaxIdleConns, def.MaxIdleConns))
	sqlDB.SetConnMaxLifetime(time.Duration(positive(cfg.ConnMaxLifetime, def.ConnMaxLifetime)) * time.Second)
	sqlDB.SetConnMaxIdleTime(time.Duration(positive(cfg.ConnMaxIdleTime, def.ConnMaxIdleTime)) * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return NewStore(sqlDB, dialect), nil
}

func positive(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

// DB exposes the pool for health checks
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

// ReportStats publishes pool usage to the db metrics
func (s *Store) ReportStats() {
	st := s.db.Stats()
	db.UpdateConnectionMetrics(st.InUse, st.Idle)
}

func (s *Store) WithTx(ctx context.Context, fn func(tx db.TxStore) error) error {
	return s.RunInTx(ctx, func(tx *TxStore) error { return fn(tx) })
}

// RunInTx is WithTx with the concrete TxStore, for packages that keep their
// own tables next to the chunk tables (the task queue).
func (s *Store) RunInTx(ctx context.Context, fn func(tx *TxStore) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&TxStore{rewriter{c: sqlTx, d: s.d}}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback: %v (after %w)", rbErr, err)
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
