// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeeDigitalWorks/zapmap/pkg/compression"
	"github.com/LeeDigitalWorks/zapmap/pkg/types"
)

func TestNew(t *testing.T) {
	t.Parallel()

	mem, err := New(Config{Type: types.StorageTypeMemory})
	require.NoError(t, err)
	assert.Equal(t, types.StorageTypeMemory, mem.Type())

	local, err := New(Config{Type: types.StorageTypeLocal, Path: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, types.StorageTypeLocal, local.Type())

	_, err = New(Config{Type: types.StorageTypeLocal})
	assert.ErrorContains(t, err, "path required")

	_, err = New(Config{Type: types.StorageTypeS3})
	assert.ErrorContains(t, err, "bucket required")

	_, err = New(Config{Type: "tape"})
	assert.ErrorContains(t, err, "unknown storage type")

	_, err = New(Config{Type: types.StorageTypeMemory, Compression: "gzip"})
	assert.ErrorContains(t, err, "unknown compression algorithm")

	zstd, err := New(Config{Type: types.StorageTypeMemory, Compression: "zstd"})
	require.NoError(t, err)
	assert.IsType(t, &Compressed{}, zstd)
}

func TestBlockStorage(t *testing.T) {
	t.Parallel()

	impls := map[string]func(t *testing.T) BlockStorage{
		"memory": func(t *testing.T) BlockStorage { return NewMemoryStorage() },
		"local": func(t *testing.T) BlockStorage {
			l, err := NewLocal(Config{Path: t.TempDir()})
			require.NoError(t, err)
			return l
		},
		"compressed-memory": func(t *testing.T) BlockStorage {
			return NewCompressed(NewMemoryStorage(), compression.S2)
		},
		"compressed-local": func(t *testing.T) BlockStorage {
			l, err := NewLocal(Config{Path: t.TempDir()})
			require.NoError(t, err)
			return NewCompressed(l, compression.ZSTD)
		},
	}

	for name, mk := range impls {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			s := mk(t)
			defer s.Close()

			data := []byte("fragment bytes")
			require.NoError(t, s.Write(ctx, "abcdef-1", bytes.NewReader(data), int64(len(data))))

			ok, err := s.Exists(ctx, "abcdef-1")
			require.NoError(t, err)
			assert.True(t, ok)

			rc, err := s.Read(ctx, "abcdef-1")
			require.NoError(t, err)
			got, err := io.ReadAll(rc)
			require.NoError(t, rc.Close())
			require.NoError(t, err)
			assert.Equal(t, data, got)

			err = s.Write(ctx, "short", bytes.NewReader(data), 100)
			assert.ErrorContains(t, err, "short write")
			ok, _ = s.Exists(ctx, "short")
			assert.False(t, ok, "failed writes leave nothing behind")

			require.NoError(t, s.Delete(ctx, "abcdef-1"))
			require.NoError(t, s.Delete(ctx, "abcdef-1"), "delete is idempotent")

			_, err = s.Read(ctx, "abcdef-1")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestLocal_ShardedLayout(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	l, err := NewLocal(Config{Path: dir})
	require.NoError(t, err)

	require.NoError(t, l.Write(context.Background(), "abcdef", bytes.NewReader([]byte("x")), 1))
	_, err = os.Stat(filepath.Join(dir, "ab", "cd", "abcdef"))
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(dir, "ab", "cd"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left")
}

func TestCompressed_ReadsAnyAlgorithm(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	inner := NewMemoryStorage()
	data := bytes.Repeat([]byte("replicated block "), 256)

	require.NoError(t, NewCompressed(inner, compression.LZ4).Write(ctx, "k", bytes.NewReader(data), int64(len(data))))

	raw, err := inner.Read(ctx, "k")
	require.NoError(t, err)
	stored, err := io.ReadAll(raw)
	require.NoError(t, err)
	assert.Less(t, len(stored), len(data))

	rc, err := NewCompressed(inner, compression.None).Read(ctx, "k")
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}
