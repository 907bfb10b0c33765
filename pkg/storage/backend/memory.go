// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/LeeDigitalWorks/zapmap/pkg/types"
)

func init() {
	Register(types.StorageTypeMemory, func(Config) (BlockStorage, error) {
		return NewMemoryStorage(), nil
	})
}

// MemoryStorage holds blocks in process memory. Tests and single-process
// setups use it.
type MemoryStorage struct {
	mu     sync.RWMutex
	blocks map[string][]byte
	used   int64
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{blocks: map[string][]byte{}}
}

func (*MemoryStorage) Type() types.StorageType { return types.StorageTypeMemory }

func (m *MemoryStorage) Write(_ context.Context, key string, data io.Reader, size int64) error {
	var buf bytes.Buffer
	if size > 0 {
		buf.Grow(int(size))
	}
	if _, err := buf.ReadFrom(data); err != nil {
		return err
	}
	if size >= 0 && int64(buf.Len()) != size {
		return fmt.Errorf("block %s: read %d bytes, expected %d", key, buf.Len(), size)
	}

	m.mu.Lock()
	m.used += int64(buf.Len()) - int64(len(m.blocks[key]))
	m.blocks[key] = buf.Bytes()
	m.mu.Unlock()
	return nil
}

func (m *MemoryStorage) Read(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.RLock()
	b, ok := m.blocks[key]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *MemoryStorage) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	m.used -= int64(len(m.blocks[key]))
	delete(m.blocks, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStorage) Exists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	_, ok := m.blocks[key]
	m.mu.RUnlock()
	return ok, nil
}

// Capacity reports no total; used is the sum of stored block sizes
func (m *MemoryStorage) Capacity(context.Context) (int64, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return 0, m.used, nil
}

// Close drops every block
func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	clear(m.blocks)
	m.used = 0
	m.mu.Unlock()
	return nil
}
