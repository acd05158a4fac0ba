// Copyright (c) 2025 The Basalt Authors
//
// SPDX-License-Identifier: Apache-2.0

package kdf

import "golang.org/x/crypto/argon2"

// Argon2Params is one parameter set for Argon2id (type 2, version 0x13,
// per RFC 9106 — what golang.org/x/crypto/argon2.IDKey implements).
type Argon2Params struct {
	MemoryKiB   uint32
	Time        uint32
	Parallelism uint8
}

// Standard and Max are the two Argon2id parameter sets spec §4.2 names.
var (
	Argon2Standard = Argon2Params{MemoryKiB: 512 * 1024, Time: 4, Parallelism: 4}
	Argon2Max      = Argon2Params{MemoryKiB: 1024 * 1024, Time: 4, Parallelism: 8}
)

func deriveArgon2id(p Argon2Params, password, salt []byte, keyLen int) []byte {
	return argon2.IDKey(password, salt, p.Time, p.MemoryKiB, p.Parallelism, uint32(keyLen)) // #nosec G115 -- keyLen is a small internal constant (32/64)
}
