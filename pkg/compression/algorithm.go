// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package compression compresses block bytes at rest. Encoded blocks carry a
// one byte header naming the algorithm, so blocks written with different
// settings can be read back by any agent.
package compression

import "fmt"

// Algorithm represents a compression algorithm
type Algorithm string

const (
	// None stores data as is
	None Algorithm = "none"
	// LZ4 is fast with a moderate ratio
	LZ4 Algorithm = "lz4"
	// ZSTD balances speed and ratio
	ZSTD Algorithm = "zstd"
	// S2 is klauspost's Snappy successor
	S2 Algorithm = "s2"
)

// header tags; stable on disk
const (
	tagNone byte = 0x00
	tagLZ4  byte = 0x01
	tagZSTD byte = 0x02
	tagS2   byte = 0x03
)

func (a Algorithm) IsValid() bool {
	switch a {
	case None, LZ4, ZSTD, S2:
		return true
	default:
		return false
	}
}

func (a Algorithm) String() string {
	return string(a)
}

func (a Algorithm) tag() byte {
	switch a {
	case LZ4:
		return tagLZ4
	case ZSTD:
		return tagZSTD
	case S2:
		return tagS2
	default:
		return tagNone
	}
}

func fromTag(t byte) (Algorithm, error) {
	switch t {
	case tagNone:
		return None, nil
	case tagLZ4:
		return LZ4, nil
	case tagZSTD:
		return ZSTD, nil
	case tagS2:
		return S2, nil
	default:
		return "", fmt.Errorf("%w: unknown algorithm tag 0x%02x", ErrCorrupt, t)
	}
}

// ParseAlgorithm parses a configured algorithm name. Empty means None.
func ParseAlgorithm(s string) (Algorithm, error) {
	if s == "" {
		return None, nil
	}
	algo := Algorithm(s)
	if !algo.IsValid() {
		return "", fmt.Errorf("unknown compression algorithm %q", s)
	}
	return algo, nil
}
