// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package backend provides the block storage implementations used by
// storage agents. Blocks are opaque byte strings keyed by block id.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/LeeDigitalWorks/zapmap/pkg/compression"
	"github.com/LeeDigitalWorks/zapmap/pkg/types"
)

// ErrNotFound is returned when a block key does not exist
var ErrNotFound = errors.New("block not found")

// BlockStorage stores block bytes
type BlockStorage interface {
	// Type returns the storage type
	Type() types.StorageType

	// Write stores data under key, replacing any previous content
	Write(ctx context.Context, key string, data io.Reader, size int64) error

	// Read opens the data stored under key
	Read(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes key; deleting a missing key is not an error
	Delete(ctx context.Context, key string) error

	// Exists checks if a key exists
	Exists(ctx context.Context, key string) (bool, error)

	// Capacity reports total and used bytes (0, 0 when unbounded)
	Capacity(ctx context.Context) (total, used int64, err error)

	Close() error
}

// Config selects and configures a block storage implementation
type Config struct {
	Type types.StorageType `mapstructure:"type"`

	// local
	Path string `mapstructure:"path"`

	// s3
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`

	// Compression compresses blocks at rest (none, lz4, zstd, s2)
	Compression string `mapstructure:"compression"`
}

// Factory creates a BlockStorage from config
type Factory func(cfg Config) (BlockStorage, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[types.StorageType]Factory)
)

// Register adds a factory for a storage type
func Register(t types.StorageType, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[t] = f
}

// New creates a BlockStorage from config. Blocks are always framed by
// Compressed so the compression setting can change between restarts.
func New(cfg Config) (BlockStorage, error) {
	registryMu.RLock()
	f, ok := registry[cfg.Type]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown storage type: %q", cfg.Type)
	}
	algo, err := compression.ParseAlgorithm(cfg.Compression)
	if err != nil {
		return nil, err
	}
	store, err := f(cfg)
	if err != nil {
		return nil, err
	}
	return NewCompressed(store, algo), nil
}
