// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package mysql provides a MySQL/Vitess implementation of the db.DB interface.
package mysql

import (
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/LeeDigitalWorks/zapmap/pkg/metadata/db"
	dbsql "github.com/LeeDigitalWorks/zapmap/pkg/metadata/db/sql"
)

// MySQL implements db.DB using MySQL as the backing store
type MySQL struct {
	*dbsql.Store
}

// NewMySQL opens a MySQL-backed database
func NewMySQL(cfg db.Config) (*MySQL, error) {
	dsn, err := normalizeDSN(cfg.DSN)
	if err != nil {
		return nil, err
	}
	cfg.DSN = dsn

	store, err := dbsql.Open("mysql", dbsql.MySQLDialect{}, cfg)
	if err != nil {
		return nil, err
	}
	return &MySQL{Store: store}, nil
}

// normalizeDSN enforces the driver settings the store relies on: multi-row
// inserts need a generous packet size and timestamps are stored as integers
// so time parsing stays off.
func normalizeDSN(dsn string) (string, error) {
	c, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	c.ParseTime = false
	c.InterpolateParams = false
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Second
	}
	if c.MaxAllowedPacket == 0 {
		c.MaxAllowedPacket = 16 << 20
	}
	return c.FormatDSN(), nil
}

// Ensure MySQL implements db.DB
var _ db.DB = (*MySQL)(nil)
