// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package compression

import (
	"bytes"
	"crypto/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAlgorithm(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Algorithm
		wantErr bool
	}{
		{"", None, false},
		{"none", None, false},
		{"lz4", LZ4, false},
		{"zstd", ZSTD, false},
		{"s2", S2, false},
		{"gzip", "", true},
		{"snappy", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseAlgorithm(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodeDecode(t *testing.T) {
	t.Parallel()

	compressible := []byte(strings.Repeat("zapmap block payload ", 512))

	for _, algo := range []Algorithm{None, LZ4, ZSTD, S2} {
		t.Run(algo.String(), func(t *testing.T) {
			t.Parallel()

			encoded, err := Encode(algo, compressible)
			require.NoError(t, err)
			assert.Equal(t, algo.tag(), encoded[0])
			if algo != None {
				assert.Less(t, len(encoded), len(compressible))
			}

			decoded, err := Decode(encoded)
			require.NoError(t, err)
			assert.Equal(t, compressible, decoded)
		})
	}
}

func TestEncodeKeepsIncompressibleData(t *testing.T) {
	t.Parallel()

	random := make([]byte, 4096)
	_, err := rand.Read(random)
	require.NoError(t, err)

	encoded, err := Encode(ZSTD, random)
	require.NoError(t, err)
	assert.Equal(t, tagNone, encoded[0])
	assert.Len(t, encoded, len(random)+1)

	decoded, err := Decode(encoded)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(random, decoded))
}

func TestEncodeEmpty(t *testing.T) {
	t.Parallel()

	encoded, err := Encode(S2, nil)
	require.NoError(t, err)

	decoded, err := Decode(encoded)
	require.NoError(t, err)
	assert.Empty(t, decoded)
}

func TestDecodeCorrupt(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"unknown tag", []byte{0x7f, 1, 2, 3}},
		{"bad zstd", []byte{tagZSTD, 1, 2, 3, 4}},
		{"bad s2", []byte{tagS2, 0xff, 0xff, 0xff}},
		{"bad lz4", []byte{tagLZ4, 0x05, 0xff}},
		{"lz4 without header", []byte{tagLZ4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode(tt.data)
			assert.ErrorIs(t, err, ErrCorrupt)
		})
	}
}

func TestRatio(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 2.0, Ratio(100, 50))
	assert.Equal(t, 1.0, Ratio(100, 100))
	assert.Equal(t, 1.0, Ratio(100, 0))
	assert.Equal(t, 1.0, Ratio(100, 150))
}
