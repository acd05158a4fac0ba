// Copyright (c) 2025 The Basalt Authors
//
// SPDX-License-Identifier: Apache-2.0

package crypto

import "crypto/subtle"

// ConstantTimeEqual compares two byte slices without leaking timing
// information about where they first differ. Used for password, key and
// MAC comparisons throughout the volume layer.
func ConstantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

// Wipe zeroes b in place. It is used on every sensitive buffer (passwords,
// derived keys, key schedules, XTS whitening values) before it is dropped,
// so the contents do not linger in memory after use.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// WipeAll wipes every buffer given, in order.
func WipeAll(bufs ...[]byte) {
	for _, b := range bufs {
		Wipe(b)
	}
}
