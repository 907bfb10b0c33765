// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package backend

import (
	"os"

	"golang.org/x/sys/unix"
)

// Fdatasync flushes block data and the size, skipping timestamps
func Fdatasync(f *os.File) error {
	return unix.Fdatasync(int(f.Fd()))
}

// FadviseDontNeed drops a freshly written block from the page cache
func FadviseDontNeed(f *os.File) error {
	return unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_DONTNEED)
}

// diskUsage returns the size and used bytes of the filesystem under path.
// Reserved blocks count as used.
func diskUsage(path string) (total, used int64, err error) {
	var st unix.Statfs_t
	if err = unix.Statfs(path, &st); err != nil {
		return 0, 0, err
	}
	bsize := int64(st.Bsize)
	total = int64(st.Blocks) * bsize
	return total, total - int64(st.Bavail)*bsize, nil
}
