// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package postgres provides a PostgreSQL/CockroachDB implementation of the db.DB interface.
package postgres

import (
	"github.com/LeeDigitalWorks/zapmap/pkg/metadata/db"
	dbsql "github.com/LeeDigitalWorks/zapmap/pkg/metadata/db/sql"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver (also works with CockroachDB)
)

// Postgres implements db.DB using PostgreSQL as the backing store
type Postgres struct {
	*dbsql.Store
}

// NewPostgres opens a PostgreSQL-backed database
func NewPostgres(cfg db.Config) (*Postgres, error) {
	store, err := dbsql.Open("pgx", dbsql.PostgresDialect{}, cfg)
	if err != nil {
		return nil, err
	}
	return &Postgres{Store: store}, nil
}

// Ensure Postgres implements db.DB
var _ db.DB = (*Postgres)(nil)
