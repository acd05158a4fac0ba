// Copyright (c) 2025 The Basalt Authors
//
// SPDX-License-Identifier: Apache-2.0

package blockdev

import "errors"

// ErrDismounted is returned by any Service call issued after Dismount
// has returned (spec §4.5: "no in-flight sector request will issue
// after dismount returns").
var ErrDismounted = errors.New("block device service dismounted")
