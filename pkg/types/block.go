// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BlockID identifies one physical replica of a fragment
type BlockID string

// NewBlockID returns a fresh random block id
func NewBlockID() BlockID {
	return BlockID(uuid.NewString())
}

func (b BlockID) String() string {
	return string(b)
}

// Fragment layers
const (
	LayerData   = "D"
	LayerParity = "P"
)

// Digest algorithms understood by storage agents
const (
	DigestNone      = ""
	DigestSHA256    = "sha256"
	DigestCRC64NVME = "crc64nvme"
)

// FragmentKey identifies a fragment within a chunk
type FragmentKey struct {
	Layer  string `json:"layer"`
	LayerN int    `json:"layer_n"`
	Frag   int    `json:"frag"`
}

func (k FragmentKey) String() string {
	return fmt.Sprintf("%s%d-%d", k.Layer, k.LayerN, k.Frag)
}

// Block is a replica of one fragment stored on one node
type Block struct {
	ID     BlockID `json:"id"`
	Chunk  ChunkID `json:"chunk"`
	Node   NodeID  `json:"node"`
	System string  `json:"system"`

	Layer  string `json:"layer"`
	LayerN int    `json:"layer_n"`
	Frag   int    `json:"frag"`

	Size       int64  `json:"size"`
	DigestType string `json:"digest_type,omitempty"`
	DigestB64  string `json:"digest_b64,omitempty"`

	Deleted *time.Time `json:"deleted,omitempty"`
}

// Key returns the fragment this block belongs to
func (b *Block) Key() FragmentKey {
	return FragmentKey{Layer: b.Layer, LayerN: b.LayerN, Frag: b.Frag}
}

// IsDeleted reports whether the block has been soft-deleted
func (b *Block) IsDeleted() bool {
	return b.Deleted != nil
}

func (b *Block) Clone() *Block {
	cp := *b
	cp.Deleted = cloneTime(b.Deleted)
	return &cp
}
