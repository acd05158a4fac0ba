// Copyright (c) 2025 The Basalt Authors
//
// SPDX-License-Identifier: Apache-2.0

package registry

import "errors"

var (
	ErrSystemError  = errors.New("system error")
	ErrSlotNotFound = errors.New("slot not found")
)
