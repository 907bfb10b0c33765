// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/LeeDigitalWorks/zapmap/pkg/types"

	"github.com/minio/crc64nvme"
	"github.com/minio/sha256-simd"
)

var (
	ErrDigestMismatch    = errors.New("digest mismatch")
	ErrUnknownDigestType = errors.New("unknown digest type")
	ErrBlockSizeMismatch = errors.New("block size mismatch")
)

// ComputeDigest returns the base64 digest of data. An empty digest type
// yields an empty digest.
func ComputeDigest(digestType string, data []byte) (string, error) {
	switch digestType {
	case types.DigestNone:
		return "", nil
	case types.DigestSHA256:
		sum := sha256.Sum256(data)
		return base64.StdEncoding.EncodeToString(sum[:]), nil
	case types.DigestCRC64NVME:
		h := crc64nvme.New()
		h.Write(data)
		var sum [8]byte
		binary.BigEndian.PutUint64(sum[:], h.Sum64())
		return base64.StdEncoding.EncodeToString(sum[:]), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownDigestType, digestType)
	}
}

// VerifyBlock checks data against the locator's size and digest. Zero size
// and empty digests are not checked.
func VerifyBlock(loc BlockLocator, data []byte) error {
	if loc.Size > 0 && int64(len(data)) != loc.Size {
		return fmt.Errorf("%w: block %s expected %d bytes, got %d",
			ErrBlockSizeMismatch, loc.ID, loc.Size, len(data))
	}
	if loc.DigestType == types.DigestNone || loc.DigestB64 == "" {
		return nil
	}
	got, err := ComputeDigest(loc.DigestType, data)
	if err != nil {
		return err
	}
	if got != loc.DigestB64 {
		return fmt.Errorf("%w: block %s %s expected %s, got %s",
			ErrDigestMismatch, loc.ID, loc.DigestType, loc.DigestB64, got)
	}
	return nil
}
