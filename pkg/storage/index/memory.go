// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package index

import (
	"maps"
	"sync"
)

// Memory is an Indexer that forgets everything on restart
type Memory[K ~string, V any] struct {
	mu      sync.RWMutex
	records map[K]V
}

var _ Indexer[string, struct{}] = (*Memory[string, struct{}])(nil)

func NewMemory[K ~string, V any]() *Memory[K, V] {
	return &Memory[K, V]{records: make(map[K]V)}
}

func (m *Memory[K, V]) Get(key K) (V, error) {
	m.mu.RLock()
	v, ok := m.records[key]
	m.mu.RUnlock()
	if !ok {
		return v, ErrKeyNotFound
	}
	return v, nil
}

func (m *Memory[K, V]) Put(key K, value V) error {
	m.mu.Lock()
	m.records[key] = value
	m.mu.Unlock()
	return nil
}

func (m *Memory[K, V]) PutSync(key K, value V) error { return m.Put(key, value) }

func (m *Memory[K, V]) Delete(key K) error {
	m.mu.Lock()
	delete(m.records, key)
	m.mu.Unlock()
	return nil
}

// Range visits a copy, so fn may write to the index
func (m *Memory[K, V]) Range(fn func(key K, value V) error) error {
	m.mu.RLock()
	snap := maps.Clone(m.records)
	m.mu.RUnlock()
	for k, v := range snap {
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory[K, V]) Close() error { return nil }
