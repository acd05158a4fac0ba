// Copyright (c) 2025 The Basalt Authors
//
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package volume

import (
	"os"
	"time"
)

// statTimes has no portable way to read atime outside Linux's Stat_t; the
// timestamp-preservation option is a best-effort courtesy (spec §4.4 step
// 1 calls it out as Unix-specific), so other platforms report "unknown"
// and Open skips the restore step.
func statTimes(fi os.FileInfo) (atime, mtime time.Time, ok bool) {
	return time.Time{}, time.Time{}, false
}

func restoreTimes(path string, atime, mtime time.Time) {
	_ = os.Chtimes(path, atime, mtime)
}
