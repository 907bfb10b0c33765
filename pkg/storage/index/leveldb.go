// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package index

import (
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	lerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"

	"github.com/LeeDigitalWorks/zapmap/pkg/logger"
)

var (
	buffered = &opt.WriteOptions{}
	synced   = &opt.WriteOptions{Sync: true}
)

// LevelDB keeps the index in a LevelDB directory, values gob encoded
type LevelDB[K ~string, V any] struct {
	db *leveldb.DB
}

var _ Indexer[string, struct{}] = (*LevelDB[string, struct{}])(nil)

// OpenLevelDB opens dir, rebuilding the manifest when it is corrupted
func OpenLevelDB[K ~string, V any](dir string) (*LevelDB[K, V], error) {
	db, err := leveldb.OpenFile(dir, nil)
	if lerrors.IsCorrupted(err) {
		logger.Warn().Err(err).Str("dir", dir).Msg("block index corrupted, recovering")
		db, err = leveldb.RecoverFile(dir, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("open block index %s: %w", dir, err)
	}
	return &LevelDB[K, V]{db: db}, nil
}

func (l *LevelDB[K, V]) put(key K, value V, wo *opt.WriteOptions) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	return l.db.Put([]byte(key), data, wo)
}

func (l *LevelDB[K, V]) Put(key K, value V) error     { return l.put(key, value, buffered) }
func (l *LevelDB[K, V]) PutSync(key K, value V) error { return l.put(key, value, synced) }

func (l *LevelDB[K, V]) Get(key K) (V, error) {
	data, err := l.db.Get([]byte(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		var zero V
		return zero, ErrKeyNotFound
	}
	if err != nil {
		var zero V
		return zero, err
	}
	return decode[V](data)
}

func (l *LevelDB[K, V]) Delete(key K) error {
	return l.db.Delete([]byte(key), buffered)
}

// Range iterates in key order over a consistent snapshot
func (l *LevelDB[K, V]) Range(fn func(key K, value V) error) error {
	it := l.db.NewIterator(nil, nil)
	defer it.Release()
	for it.Next() {
		v, err := decode[V](it.Value())
		if err != nil {
			return fmt.Errorf("decode %q: %w", it.Key(), err)
		}
		if err := fn(K(it.Key()), v); err != nil {
			return err
		}
	}
	return it.Error()
}

func (l *LevelDB[K, V]) Close() error { return l.db.Close() }
