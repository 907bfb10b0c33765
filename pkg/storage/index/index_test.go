// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package index

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockID string

type testValue struct {
	Name  string
	Value int
}

func indexers(t *testing.T) map[string]Indexer[blockID, testValue] {
	t.Helper()

	ldb, err := OpenLevelDB[blockID, testValue](filepath.Join(t.TempDir(), "idx"))
	require.NoError(t, err)
	t.Cleanup(func() { ldb.Close() })

	return map[string]Indexer[blockID, testValue]{
		"memory":  NewMemory[blockID, testValue](),
		"leveldb": ldb,
	}
}

func TestIndexer_PutGetDelete(t *testing.T) {
	t.Parallel()

	for name, idx := range indexers(t) {
		t.Run(name, func(t *testing.T) {
			val := testValue{Name: "blk", Value: 42}
			require.NoError(t, idx.Put("b1", val))
			require.NoError(t, idx.PutSync("b2", testValue{Name: "other"}))

			got, err := idx.Get("b1")
			require.NoError(t, err)
			assert.Equal(t, val, got)

			require.NoError(t, idx.Put("b1", testValue{Name: "blk", Value: 7}))
			got, err = idx.Get("b1")
			require.NoError(t, err)
			assert.Equal(t, 7, got.Value)

			require.NoError(t, idx.Delete("b1"))
			_, err = idx.Get("b1")
			assert.ErrorIs(t, err, ErrKeyNotFound)
			require.NoError(t, idx.Delete("b1"), "deleting a missing key")
		})
	}
}

func TestIndexer_Range(t *testing.T) {
	t.Parallel()

	for name, idx := range indexers(t) {
		t.Run(name, func(t *testing.T) {
			for i, k := range []blockID{"a", "b", "c"} {
				require.NoError(t, idx.Put(k, testValue{Value: i}))
			}

			seen := map[blockID]int{}
			require.NoError(t, idx.Range(func(k blockID, v testValue) error {
				seen[k] = v.Value
				return nil
			}))
			assert.Equal(t, map[blockID]int{"a": 0, "b": 1, "c": 2}, seen)

			n, err := Count(idx)
			require.NoError(t, err)
			assert.Equal(t, 3, n)

			stop := errors.New("stop")
			err = idx.Range(func(k blockID, v testValue) error { return stop })
			assert.ErrorIs(t, err, stop)
		})
	}
}

func TestLevelDB_Reopen(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "idx")
	idx, err := OpenLevelDB[blockID, testValue](dir)
	require.NoError(t, err)
	require.NoError(t, idx.PutSync("b1", testValue{Name: "durable"}))
	require.NoError(t, idx.Close())

	idx, err = OpenLevelDB[blockID, testValue](dir)
	require.NoError(t, err)
	defer idx.Close()

	got, err := idx.Get("b1")
	require.NoError(t, err)
	assert.Equal(t, "durable", got.Name)
}
