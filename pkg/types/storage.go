// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package types

// StorageType identifies the block storage implementation behind a node
type StorageType string

const (
	StorageTypeMemory StorageType = "memory"
	StorageTypeLocal  StorageType = "local" // Local filesystem
	StorageTypeS3     StorageType = "s3"    // S3-compatible
)
