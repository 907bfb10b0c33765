// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package sql

import (
	"context"
	"fmt"
	"time"

	"github.com/LeeDigitalWorks/zapmap/pkg/metadata/db"
)

const schemaMigrationsDDL = `CREATE TABLE IF NOT EXISTS schema_migrations (
	version INT NOT NULL PRIMARY KEY,
	applied_at BIGINT NOT NULL
)`

// Migrate brings the schema up to date. The migration files are written
// to run unchanged on PostgreSQL and MySQL.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaMigrationsDDL); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	return db.RunMigrations(ctx, storeMigrator{s})
}

type storeMigrator struct {
	s *Store
}

func (m storeMigrator) CurrentVersion(ctx context.Context) (int, error) {
	var v int
	err := m.s.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&v)
	return v, err
}

// Apply runs the migration in a transaction. MySQL commits DDL implicitly,
// so there a failed migration may leave earlier statements applied.
func (m storeMigrator) Apply(ctx context.Context, mig db.Migration) error {
	return m.s.RunInTx(ctx, func(tx *TxStore) error {
		for i, stmt := range mig.Statements() {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("statement %d: %w", i+1, err)
			}
		}
		_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version, applied_at) VALUES ($1, $2)`,
			mig.Version, time.Now().UnixNano())
		return err
	})
}
