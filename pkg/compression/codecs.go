// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package compression

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// maxBlockSize bounds the decoded size an lz4 header may claim
const maxBlockSize = 1 << 30

type codec struct {
	compress   func([]byte) ([]byte, error)
	decompress func([]byte) ([]byte, error)
}

var codecs = map[Algorithm]codec{
	LZ4:  {compressLZ4, decompressLZ4},
	ZSTD: {compressZSTD, decompressZSTD},
	S2: {
		func(b []byte) ([]byte, error) { return s2.Encode(nil, b), nil },
		func(b []byte) ([]byte, error) { return s2.Decode(nil, b) },
	},
}

// One encoder and decoder serve every goroutine: EncodeAll and DecodeAll
// are safe for concurrent use.
var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
	zstdErr  error
)

func zstdCodec() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEnc, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if zstdErr != nil {
			return
		}
		zstdDec, zstdErr = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxBlockSize))
	})
	return zstdEnc, zstdDec, zstdErr
}

func compressZSTD(data []byte) ([]byte, error) {
	enc, _, err := zstdCodec()
	if err != nil {
		return nil, err
	}
	return enc.EncodeAll(data, nil), nil
}

func decompressZSTD(data []byte) ([]byte, error) {
	_, dec, err := zstdCodec()
	if err != nil {
		return nil, err
	}
	return dec.DecodeAll(data, nil)
}

var lz4Compressors = sync.Pool{New: func() any { return new(lz4.Compressor) }}

// compressLZ4 writes a raw lz4 block after the uvarint decoded length
func compressLZ4(data []byte) ([]byte, error) {
	out := make([]byte, binary.MaxVarintLen64+lz4.CompressBlockBound(len(data)))
	n := binary.PutUvarint(out, uint64(len(data)))

	c := lz4Compressors.Get().(*lz4.Compressor)
	defer lz4Compressors.Put(c)
	m, err := c.CompressBlock(data, out[n:])
	if err != nil {
		return nil, err
	}
	if m == 0 && len(data) > 0 {
		// incompressible; Encode stores it raw
		return data, nil
	}
	return out[:n+m], nil
}

func decompressLZ4(data []byte) ([]byte, error) {
	size, n := binary.Uvarint(data)
	if n <= 0 || size > maxBlockSize {
		return nil, errors.New("lz4: bad length header")
	}
	out := make([]byte, size)
	m, err := lz4.UncompressBlock(data[n:], out)
	if err != nil {
		return nil, err
	}
	if uint64(m) != size {
		return nil, fmt.Errorf("lz4: decoded %d bytes, header says %d", m, size)
	}
	return out, nil
}
