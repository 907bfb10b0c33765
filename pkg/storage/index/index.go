// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package index is the agent's record of the blocks it stores, keyed by
// block id.
package index

import (
	"bytes"
	"encoding/gob"
	"errors"
	"io"
)

var ErrKeyNotFound = errors.New("key not found")

// Indexer maps string-like keys to records
type Indexer[K ~string, V any] interface {
	io.Closer
	Get(key K) (V, error)
	// Put may buffer; PutSync returns once the record is on disk
	Put(key K, value V) error
	PutSync(key K, value V) error
	// Delete of a missing key is not an error
	Delete(key K) error
	// Range calls fn for every record until fn returns an error
	Range(fn func(key K, value V) error) error
}

// Count walks idx and returns its number of records
func Count[K ~string, V any](idx Indexer[K, V]) (int, error) {
	n := 0
	err := idx.Range(func(K, V) error {
		n++
		return nil
	})
	return n, err
}

func encode[V any](v V) ([]byte, error) {
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(v)
	return buf.Bytes(), err
}

func decode[V any](data []byte) (V, error) {
	var v V
	err := gob.NewDecoder(bytes.NewReader(data)).Decode(&v)
	return v, err
}
