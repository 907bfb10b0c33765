// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package db

import "fmt"

// Opener constructs a DB for a driver. Driver packages register themselves
// from cmd to keep this package free of SQL driver imports.
type Opener func(cfg Config) (DB, error)

var openers = map[Driver]Opener{}

// RegisterDriver makes a driver available to Open
func RegisterDriver(driver Driver, open Opener) {
	openers[driver] = open
}

// Open constructs the DB for cfg.Driver wrapped with metrics
func Open(cfg Config) (DB, error) {
	open, ok := openers[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	d, err := open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Driver, err)
	}
	return NewMetricsDB(d), nil
}
