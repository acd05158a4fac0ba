// Copyright (c) 2025 The Basalt Authors
//
// SPDX-License-Identifier: Apache-2.0

package kdf

import (
	"github.com/basalt-project/basalt/pkg/crypto"
	"golang.org/x/crypto/pbkdf2"
)

// derivePBKDF2 runs RFC 2898 PBKDF2-HMAC with the given hash. pbkdf2.Key
// already implements the standard 4-byte big-endian block counter (spec
// §4.2 calls out that a single-byte counter would be a conformance
// defect — golang.org/x/crypto/pbkdf2 gets this right, which is exactly
// why it is used here instead of a hand-rolled loop).
func derivePBKDF2(hashName crypto.HashName, password, salt []byte, iterations, keyLen int) ([]byte, error) {
	h, err := crypto.LookupHash(hashName)
	if err != nil {
		return nil, err
	}
	return pbkdf2.Key(password, salt, iterations, keyLen, h.New), nil
}
