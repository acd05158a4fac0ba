// Copyright (c) 2025 The Basalt Authors
//
// SPDX-License-Identifier: Apache-2.0

package rng

import "sync"

var (
	globalOnce sync.Once
	globalPool *Pool
	globalErr  error
)

// Global returns the process-wide pool, constructing it on first call.
// Every caller in the process shares this one pool and its one mutex, per
// §4.3 ("a single pool... protected by one mutex").
func Global() (*Pool, error) {
	globalOnce.Do(func() {
		globalPool, globalErr = New()
	})
	return globalPool, globalErr
}
