// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package types

// Bucket is the owner of chunks; its tiering policy applies to every chunk
// that does not override it.
type Bucket struct {
	ID      BucketID  `json:"id" mapstructure:"id"`
	Name    string    `json:"name" mapstructure:"name"`
	Tiering TieringID `json:"tiering" mapstructure:"tiering"`
}
