// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/LeeDigitalWorks/zapmap/pkg/compression"
	"github.com/LeeDigitalWorks/zapmap/pkg/types"
)

// Compressed frames and compresses blocks on their way into another
// BlockStorage. Reads accept blocks written with any algorithm.
type Compressed struct {
	inner BlockStorage
	algo  compression.Algorithm
}

var _ BlockStorage = (*Compressed)(nil)

func NewCompressed(inner BlockStorage, algo compression.Algorithm) *Compressed {
	return &Compressed{inner: inner, algo: algo}
}

func (c *Compressed) Type() types.StorageType {
	return c.inner.Type()
}

// Write buffers the block; blocks are bounded by the gRPC message size.
func (c *Compressed) Write(ctx context.Context, key string, data io.Reader, size int64) error {
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if size >= 0 && int64(len(buf)) != size {
		return fmt.Errorf("short write for %s: got %d bytes, want %d", key, len(buf), size)
	}
	encoded, err := compression.Encode(c.algo, buf)
	if err != nil {
		return fmt.Errorf("compress %s: %w", key, err)
	}
	return c.inner.Write(ctx, key, bytes.NewReader(encoded), int64(len(encoded)))
}

func (c *Compressed) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	rc, err := c.inner.Read(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	encoded, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	data, err := compression.Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (c *Compressed) Delete(ctx context.Context, key string) error {
	return c.inner.Delete(ctx, key)
}

func (c *Compressed) Exists(ctx context.Context, key string) (bool, error) {
	return c.inner.Exists(ctx, key)
}

func (c *Compressed) Capacity(ctx context.Context) (int64, int64, error) {
	return c.inner.Capacity(ctx)
}

func (c *Compressed) Close() error {
	return c.inner.Close()
}
