// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package backend

import "os"

func Fdatasync(f *os.File) error { return f.Sync() }

func FadviseDontNeed(*os.File) error { return nil }

// diskUsage reports nothing outside Linux; local capacity then shows as unbounded
func diskUsage(string) (int64, int64, error) { return 0, 0, nil }
