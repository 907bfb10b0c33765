// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/LeeDigitalWorks/zapmap/pkg/logger"
	"github.com/LeeDigitalWorks/zapmap/pkg/types"
)

func init() {
	Register(types.StorageTypeLocal, func(cfg Config) (BlockStorage, error) {
		return NewLocal(cfg)
	})
}

// Local stores each block as a file under basePath, sharded by the first
// four characters of the key.
type Local struct {
	basePath string
}

// NewLocal creates a local filesystem backend
func NewLocal(cfg Config) (*Local, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("path required for local backend")
	}
	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create base path: %w", err)
	}
	return &Local{basePath: cfg.Path}, nil
}

func (l *Local) Type() types.StorageType {
	return types.StorageTypeLocal
}

func (l *Local) path(key string) string {
	dir := l.basePath
	if len(key) >= 4 {
		dir = filepath.Join(dir, key[0:2], key[2:4])
	}
	return filepath.Join(dir, key)
}

// Write stores to a temp file, fdatasyncs it, then renames into place so a
// reader never observes a partial block.
func (l *Local) Write(ctx context.Context, key string, data io.Reader, size int64) error {
	path := l.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}

	f, err := os.CreateTemp(filepath.Dir(path), "."+key+".tmp-*")
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	tmp := f.Name()
	cleanup := func() {
		f.Close()
		os.Remove(tmp)
	}

	n, err := io.Copy(f, data)
	if err != nil {
		cleanup()
		return fmt.Errorf("write data: %w", err)
	}
	if size >= 0 && n != size {
		cleanup()
		return fmt.Errorf("short write for %s: got %d bytes, want %d", key, n, size)
	}
	if err := Fdatasync(f); err != nil {
		cleanup()
		return fmt.Errorf("sync data: %w", err)
	}
	if err := FadviseDontNeed(f); err != nil {
		logger.Trace().Err(err).Str("key", key).Msg("fadvise failed")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

func (l *Local) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(l.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, err
	}
	return f, nil
}

func (l *Local) Delete(ctx context.Context, key string) error {
	err := os.Remove(l.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (l *Local) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(l.path(key))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (l *Local) Capacity(ctx context.Context) (int64, int64, error) {
	return diskUsage(l.basePath)
}

func (l *Local) Close() error {
	return nil
}
