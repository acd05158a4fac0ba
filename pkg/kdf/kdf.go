// Copyright (c) 2025 The Basalt Authors
//
// SPDX-License-Identifier: Apache-2.0

// Package kdf implements the password/keyfile-to-key derivation pipeline
// (spec §4.2): keyfile mixing, and the ten PBKDF2/Argon2id parameter sets
// tried in order when opening a volume.
package kdf

import (
	"fmt"

	"github.com/basalt-project/basalt/pkg/crypto"
)

// SaltSize is the size, in bytes, of the salt persisted plaintext ahead of
// every encrypted header (spec §3).
const SaltSize = 64

// Kind distinguishes the two KDF families.
type Kind int

const (
	KindPBKDF2 Kind = iota
	KindArgon2id
)

// Algorithm is one entry of the KDF table in spec §4.2: a name, a kind,
// and that kind's parameters.
type Algorithm struct {
	// ID is the algorithm's position in the open-volume trial order
	// (1-indexed, matching the spec table) — legacy entries are tried
	// first because a wrong KDF is the cheapest rejection.
	ID   int
	Name string
	Kind Kind

	// PBKDF2 parameters.
	Hash       crypto.HashName
	Iterations int

	// Argon2id parameters.
	Argon2 Argon2Params

	// Legacy is true for KDFs only ever used to open TrueCrypt 7.1a
	// volumes; Create never selects one.
	Legacy bool
}

// Algorithms is the KDF table from spec §4.2, in open-trial order.
var Algorithms = []*Algorithm{
	{ID: 1, Name: "PBKDF2-HMAC-SHA512-1000", Kind: KindPBKDF2, Hash: crypto.HashSHA512, Iterations: 1000, Legacy: true},
	{ID: 2, Name: "PBKDF2-HMAC-RIPEMD160-2000", Kind: KindPBKDF2, Hash: crypto.HashRIPEMD160, Iterations: 2000, Legacy: true},
	{ID: 3, Name: "PBKDF2-HMAC-Whirlpool-1000", Kind: KindPBKDF2, Hash: crypto.HashWhirlpool, Iterations: 1000, Legacy: true},
	{ID: 4, Name: "PBKDF2-HMAC-SHA1-2000", Kind: KindPBKDF2, Hash: crypto.HashSHA1, Iterations: 2000, Legacy: true},
	{ID: 5, Name: "Argon2id-Max", Kind: KindArgon2id, Argon2: Argon2Max},
	{ID: 6, Name: "Argon2id", Kind: KindArgon2id, Argon2: Argon2Standard},
	{ID: 7, Name: "PBKDF2-HMAC-SHA512-500000", Kind: KindPBKDF2, Hash: crypto.HashSHA512, Iterations: 500000},
	{ID: 8, Name: "PBKDF2-HMAC-Whirlpool-500000", Kind: KindPBKDF2, Hash: crypto.HashWhirlpool, Iterations: 500000},
	{ID: 9, Name: "PBKDF2-HMAC-RIPEMD160-655331", Kind: KindPBKDF2, Hash: crypto.HashRIPEMD160, Iterations: 655331},
	{ID: 10, Name: "PBKDF2-HMAC-SHA1-500000", Kind: KindPBKDF2, Hash: crypto.HashSHA1, Iterations: 500000},
}

// modernKDFIterationFloor is the iteration count below which §4.2's
// upgrade path offers to re-encrypt the header with a modern KDF.
const modernKDFIterationFloor = 10000

// NeedsUpgrade reports whether alg is a candidate for the header-upgrade
// offer: a non-Argon2id KDF whose iteration count is under the modern
// floor.
func (a *Algorithm) NeedsUpgrade() bool {
	return a.Kind != KindArgon2id && a.Iterations < modernKDFIterationFloor
}

// IterationCount returns the work-factor figure a VolumeInfo reports for
// this algorithm: PBKDF2's HMAC iteration count, or Argon2id's time-cost
// passes (spec §8's "iteration_count" concrete-scenario field).
func (a *Algorithm) IterationCount() int {
	if a.Kind == KindArgon2id {
		return int(a.Argon2.Time)
	}
	return a.Iterations
}

// ByName looks up an algorithm by its Name field.
func ByName(name string) (*Algorithm, error) {
	for _, a := range Algorithms {
		if a.Name == name {
			return a, nil
		}
	}
	return nil, fmt.Errorf("basalt/kdf: unknown KDF algorithm %q", name)
}

// ModernDefault is the algorithm Create uses unless the caller names another
// non-legacy entry; Create rejects legacy entries.
func ModernDefault() *Algorithm { return Algorithms[5] } // "Argon2id"

// Derive runs alg against password and salt, producing keyLen bytes of key
// material. salt must be SaltSize bytes (the header's leading plaintext
// salt, spec §3).
func Derive(alg *Algorithm, password *Password, salt []byte, keyLen int) ([]byte, error) {
	if len(salt) != SaltSize {
		return nil, fmt.Errorf("basalt/kdf: %w: salt must be %d bytes, got %d", ErrParameterIncorrect, SaltSize, len(salt))
	}

	switch alg.Kind {
	case KindPBKDF2:
		return derivePBKDF2(alg.Hash, password.Bytes(), salt, alg.Iterations, keyLen)
	case KindArgon2id:
		return deriveArgon2id(alg.Argon2, password.Bytes(), salt, keyLen), nil
	default:
		return nil, fmt.Errorf("basalt/kdf: unknown KDF kind %v", alg.Kind)
	}
}
