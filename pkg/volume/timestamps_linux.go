// Copyright (c) 2025 The Basalt Authors
//
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package volume

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// statTimes extracts atime/mtime from a Linux os.FileInfo's underlying
// unix.Stat_t, for Open's "preserve the path's atime/mtime" option
// (spec §4.4 step 1).
func statTimes(fi os.FileInfo) (atime, mtime time.Time, ok bool) {
	st, isStat := fi.Sys().(*unix.Stat_t)
	if !isStat {
		return time.Time{}, time.Time{}, false
	}
	return time.Unix(st.Atim.Sec, st.Atim.Nsec), time.Unix(st.Mtim.Sec, st.Mtim.Nsec), true
}

// restoreTimes reapplies previously captured atime/mtime to path. Errors
// are deliberately swallowed: this is a best-effort courtesy to the host
// filesystem, not a correctness requirement.
func restoreTimes(path string, atime, mtime time.Time) {
	_ = os.Chtimes(path, atime, mtime)
}
