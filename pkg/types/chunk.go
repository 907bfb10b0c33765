// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"time"
)

// ChunkID identifies a logical data chunk in the metadata store
type ChunkID string

func (c ChunkID) String() string {
	return string(c)
}

// BucketID identifies a bucket
type BucketID string

// Chunk is a logical unit of object data whose bytes are stored as one or
// more blocks, one per fragment replica.
type Chunk struct {
	ID     ChunkID  `json:"id"`
	Bucket BucketID `json:"bucket"`
	// Tiering overrides the bucket's tiering policy when set
	Tiering TieringID `json:"tiering,omitempty"`
	System  string    `json:"system"`
	Size    int64     `json:"size"`

	// Building is set while a map build is in flight for this chunk
	Building  *time.Time `json:"building,omitempty"`
	LastBuild *time.Time `json:"last_build,omitempty"`

	// Blocks is populated by the metadata store on load, never persisted with the chunk
	Blocks []*Block `json:"-"`
}

// IsBuilding reports whether a build marker is set
func (c *Chunk) IsBuilding() bool {
	return c.Building != nil
}

// LiveBlocks returns the blocks that have not been soft-deleted
func (c *Chunk) LiveBlocks() []*Block {
	live := make([]*Block, 0, len(c.Blocks))
	for _, b := range c.Blocks {
		if !b.IsDeleted() {
			live = append(live, b)
		}
	}
	return live
}

// Clone returns a deep copy of the chunk, including its blocks
func (c *Chunk) Clone() *Chunk {
	cp := *c
	cp.Building = cloneTime(c.Building)
	cp.LastBuild = cloneTime(c.LastBuild)
	if c.Blocks != nil {
		cp.Blocks = make([]*Block, len(c.Blocks))
		for i, b := range c.Blocks {
			cp.Blocks[i] = b.Clone()
		}
	}
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
