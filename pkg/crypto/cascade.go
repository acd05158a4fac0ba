// Copyright (c) 2025 The Basalt Authors
//
// SPDX-License-Identifier: Apache-2.0

package crypto

import (
	stdcipher "crypto/cipher"
	"fmt"
)

// CipherKeyPair is one cipher's primary (data) and secondary (XTS tweak)
// key schedule. XTS requires primary != secondary; Cascade.Validate checks
// this in constant time at construction.
type CipherKeyPair struct {
	Name      CipherName
	Primary   stdcipher.Block
	Secondary stdcipher.Block

	primaryKey   []byte
	secondaryKey []byte
}

// Cascade is an ordered composition of one, two or three block ciphers,
// innermost first, each with its own primary+tweak keypair — "equivalent
// to a cipher with larger effective key" (spec §4.1).
type Cascade struct {
	Name    string
	Ciphers []CipherKeyPair
}

// KeyAreaSize is the number of master-key bytes a cascade consumes: twice
// the cipher key size per cipher in the cascade.
func KeyAreaSize(cascade string) (int, error) {
	names, err := CascadeNames(cascade)
	if err != nil {
		return 0, err
	}
	return len(names) * 2 * KeySize, nil
}

// NewCascade schedules every cipher in the named cascade from masterKey,
// laid out per spec §3: all primary keys concatenated, then all secondary
// (tweak) keys, both in cascade order (innermost first).
func NewCascade(cascadeName string, masterKey []byte) (*Cascade, error) {
	names, err := CascadeNames(cascadeName)
	if err != nil {
		return nil, err
	}

	want, err := KeyAreaSize(cascadeName)
	if err != nil {
		return nil, err
	}
	if len(masterKey) != want {
		return nil, fmt.Errorf("basalt/crypto: cascade %q needs a %d-byte master key, got %d", cascadeName, want, len(masterKey))
	}

	n := len(names)
	c := &Cascade{Name: cascadeName, Ciphers: make([]CipherKeyPair, n)}

	for i, name := range names {
		primaryKey := make([]byte, KeySize)
		secondaryKey := make([]byte, KeySize)
		copy(primaryKey, masterKey[i*KeySize:(i+1)*KeySize])
		copy(secondaryKey, masterKey[(n+i)*KeySize:(n+i+1)*KeySize])

		primary, err := NewBlock(name, primaryKey)
		if err != nil {
			return nil, err
		}
		secondary, err := NewBlock(name, secondaryKey)
		if err != nil {
			return nil, err
		}

		c.Ciphers[i] = CipherKeyPair{
			Name: name, Primary: primary, Secondary: secondary,
			primaryKey: primaryKey, secondaryKey: secondaryKey,
		}
	}

	if err := c.Validate(); err != nil {
		c.Wipe()
		return nil, err
	}

	return c, nil
}

// Validate checks, in constant time, that no cipher in the cascade has
// primary == secondary — a broken XTS tweak that spec §8's "XTS key
// equality" property requires be rejected as ParameterIncorrect.
func (c *Cascade) Validate() error {
	for _, ck := range c.Ciphers {
		if ConstantTimeEqual(ck.primaryKey, ck.secondaryKey) {
			return fmt.Errorf("basalt/crypto: %w: cipher %s has equal primary and tweak keys", ErrParameterIncorrect, ck.Name)
		}
	}
	return nil
}

// Wipe deterministically zeroes every key schedule's source key material.
// It does not (cannot, via the standard library) zero the internal
// round-key tables cipher.Block holds; callers drop the Cascade itself
// immediately after.
func (c *Cascade) Wipe() {
	for i := range c.Ciphers {
		Wipe(c.Ciphers[i].primaryKey)
		Wipe(c.Ciphers[i].secondaryKey)
	}
}

// ErrParameterIncorrect mirrors the volume-layer error of the same name;
// defined here too so crypto-level invariant breaches (XTS key equality)
// carry the same sentinel callers already match on.
var ErrParameterIncorrect = fmt.Errorf("parameter incorrect")
