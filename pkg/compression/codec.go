// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package compression

import (
	"errors"
	"fmt"
	"time"
)

// ErrCorrupt is returned for data that was not produced by Encode
var ErrCorrupt = errors.New("corrupt compressed block")

// Encode compresses data with algo and prepends the header. The data is kept
// uncompressed when compression does not make it smaller.
func Encode(algo Algorithm, data []byte) ([]byte, error) {
	if algo == None || algo == "" {
		return frame(tagNone, data), nil
	}

	c, ok := codecs[algo]
	if !ok {
		return frame(tagNone, data), nil
	}
	start := time.Now()
	compressed, err := c.compress(data)
	if err != nil {
		return nil, fmt.Errorf("%s compress: %w", algo, err)
	}
	compressionDuration.WithLabelValues(algo.String(), "compress").Observe(time.Since(start).Seconds())

	if len(compressed) >= len(data) {
		recordCompression(algo, len(data), len(compressed), true)
		return frame(tagNone, data), nil
	}
	recordCompression(algo, len(data), len(compressed), false)
	return frame(algo.tag(), compressed), nil
}

// Decode strips the header and decompresses
func Decode(encoded []byte) ([]byte, error) {
	if len(encoded) == 0 {
		return nil, ErrCorrupt
	}
	algo, err := fromTag(encoded[0])
	if err != nil {
		return nil, err
	}
	payload := encoded[1:]
	if algo == None {
		return payload, nil
	}

	start := time.Now()
	out, err := codecs[algo].decompress(payload)
	if err != nil {
		return nil, errors.Join(ErrCorrupt, err)
	}
	compressionDuration.WithLabelValues(algo.String(), "decompress").Observe(time.Since(start).Seconds())
	decompressedBytes.WithLabelValues(algo.String()).Add(float64(len(out)))
	return out, nil
}

// Ratio is original / compressed, or 1 when nothing was saved
func Ratio(originalSize, compressedSize int) float64 {
	if compressedSize <= 0 || compressedSize >= originalSize {
		return 1.0
	}
	return float64(originalSize) / float64(compressedSize)
}

func frame(tag byte, payload []byte) []byte {
	out := make([]byte, 0, len(payload)+1)
	out = append(out, tag)
	return append(out, payload...)
}
