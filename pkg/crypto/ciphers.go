// Copyright (c) 2025 The Basalt Authors
//
// SPDX-License-Identifier: Apache-2.0

package crypto

import (
	"crypto/aes"
	stdcipher "crypto/cipher"
	"fmt"

	"github.com/aead/serpent"
	"golang.org/x/crypto/twofish"
)

// CipherName identifies one of the block ciphers Basalt can schedule into
// a cascade.
type CipherName string

const (
	CipherAES     CipherName = "AES"
	CipherSerpent CipherName = "Serpent"
	CipherTwofish CipherName = "Twofish"
)

// BlockSize is the block size, in bytes, of every cipher Basalt supports.
// XTS mode (§4.1) requires a 128-bit block, so this is fixed.
const BlockSize = 16

// KeySize is the key size, in bytes, of every supported cipher (AES-256 /
// Serpent-256 / Twofish-256).
const KeySize = 32

// newBlockFunc constructs a stdlib-shaped cipher.Block from a key. AES goes
// through crypto/aes directly: its assembly implementation already
// capability-detects AES-NI (x86-64) and the ARMv8 crypto extensions at
// runtime and falls back to a constant-time pure-Go path otherwise, which
// is exactly the runtime-selected hardware/software split spec §4.1 asks
// for — there is no reason to hand-roll it.
type newBlockFunc func(key []byte) (stdcipher.Block, error)

var cipherCtors = map[CipherName]newBlockFunc{
	CipherAES: func(key []byte) (stdcipher.Block, error) { return aes.NewCipher(key) },
	CipherSerpent: func(key []byte) (stdcipher.Block, error) {
		return serpent.NewCipher(key)
	},
	CipherTwofish: func(key []byte) (stdcipher.Block, error) {
		return twofish.NewCipher(key)
	},
}

// Cascades lists every cascade spec §4.1 names, innermost cipher first —
// the order plaintext is fed through on encrypt, and the reverse order on
// decrypt. A single-cipher "cascade" is just a slice of length one.
var Cascades = map[string][]CipherName{
	"AES-256":              {CipherAES},
	"Serpent-256":          {CipherSerpent},
	"Twofish-256":          {CipherTwofish},
	"AES-Twofish":          {CipherTwofish, CipherAES},
	"AES-Twofish-Serpent":  {CipherSerpent, CipherTwofish, CipherAES},
	"Serpent-AES":          {CipherAES, CipherSerpent},
	"Serpent-Twofish-AES":  {CipherAES, CipherTwofish, CipherSerpent},
	"Twofish-Serpent":      {CipherSerpent, CipherTwofish},
}

// NewBlock constructs the named cipher's key schedule.
func NewBlock(name CipherName, key []byte) (stdcipher.Block, error) {
	ctor, ok := cipherCtors[name]
	if !ok {
		return nil, fmt.Errorf("basalt/crypto: unsupported cipher %q", name)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("basalt/crypto: cipher %q requires a %d-byte key, got %d", name, KeySize, len(key))
	}
	return ctor(key)
}

// CascadeNames returns the cipher names for a named cascade, or an error if
// the cascade is not one of the combinations spec §4.1 lists.
func CascadeNames(cascade string) ([]CipherName, error) {
	names, ok := Cascades[cascade]
	if !ok {
		return nil, fmt.Errorf("basalt/crypto: unsupported cascade %q", cascade)
	}
	return names, nil
}
