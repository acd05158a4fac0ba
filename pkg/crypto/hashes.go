// Copyright (c) 2025 The Basalt Authors
//
// SPDX-License-Identifier: Apache-2.0

package crypto

import (
	"crypto/hmac"
	"crypto/sha1" // #nosec G505 -- legacy TrueCrypt 7.1a compatibility only, never used for new volumes
	"crypto/sha512"
	"fmt"
	"hash"

	"github.com/jzelinskie/whirlpool"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/ripemd160" // #nosec G401 -- legacy TrueCrypt 7.1a compatibility only
)

// HashName identifies one of the hash algorithms the header format and KDF
// pipeline can name.
type HashName string

const (
	HashSHA512    HashName = "sha512"
	HashWhirlpool HashName = "whirlpool"
	HashRIPEMD160 HashName = "ripemd160"
	HashSHA1      HashName = "sha1"
	// HashBlake2b512 is not offered in the header/KDF tables and is not
	// listed by AvailableHashes; it is reachable only through LookupHash.
	HashBlake2b512 HashName = "blake2b-512"
)

// HashAlgo describes one supported hash: its constructor and whether it may
// be selected when creating new volumes (SHA-1 and RIPEMD-160 are
// legacy-only per spec §4.1 — acceptable when opening a TrueCrypt 7.1a
// volume, never offered for new headers).
type HashAlgo struct {
	Name       HashName
	New        func() hash.Hash
	BlockSize  int
	DigestSize int
	LegacyOnly bool
}

// newBlake2b512 adapts blake2b.New512's (hash.Hash, error) signature to the
// plain func() hash.Hash every other constructor uses; the only error case
// is a non-default key, which this call site never supplies.
func newBlake2b512() hash.Hash {
	h, err := blake2b.New512(nil)
	if err != nil {
		panic("basalt/crypto: blake2b.New512(nil) failed: " + err.Error())
	}
	return h
}

var hashRegistry = map[HashName]*HashAlgo{
	HashSHA512: {
		Name: HashSHA512, New: sha512.New, BlockSize: sha512.BlockSize, DigestSize: sha512.Size,
	},
	HashBlake2b512: {
		Name: HashBlake2b512, New: newBlake2b512, BlockSize: blake2b.BlockSize, DigestSize: blake2b.Size,
	},
	HashWhirlpool: {
		Name: HashWhirlpool, New: whirlpool.New, BlockSize: whirlpool.BlockSize, DigestSize: whirlpool.Size,
	},
	HashRIPEMD160: {
		Name: HashRIPEMD160, New: ripemd160.New, BlockSize: ripemd160.BlockSize, DigestSize: ripemd160.Size,
		LegacyOnly: true,
	},
	HashSHA1: {
		Name: HashSHA1, New: sha1.New, BlockSize: sha1.BlockSize, DigestSize: sha1.Size,
		LegacyOnly: true,
	},
}

// AvailableHashes returns the registered hashes other than BLAKE2b-512, RNG
// pool default first (SHA-512), matching the "default first-available hash"
// rule in §4.3.
func AvailableHashes() []*HashAlgo {
	return []*HashAlgo{
		hashRegistry[HashSHA512],
		hashRegistry[HashWhirlpool],
		hashRegistry[HashRIPEMD160],
		hashRegistry[HashSHA1],
	}
}

// LookupHash returns the hash algorithm registered under name.
func LookupHash(name HashName) (*HashAlgo, error) {
	h, ok := hashRegistry[name]
	if !ok {
		return nil, fmt.Errorf("basalt/crypto: unsupported hash algorithm %q", name)
	}
	return h, nil
}

// HMAC returns a new keyed HMAC hash.Hash built generically over any
// registered hash, as spec §4.1 requires ("HMAC is built generically over
// any hash").
func HMAC(h *HashAlgo, key []byte) hash.Hash {
	return hmac.New(h.New, key)
}
