// Copyright (c) 2025 The Basalt Authors
//
// SPDX-License-Identifier: Apache-2.0

package kdf

import (
	"fmt"

	"github.com/basalt-project/basalt/pkg/crypto"
)

// MinPasswordLength and MaxPasswordLength bound the password buffer after
// UTF-8 encoding and keyfile mixing (spec §3).
const (
	MinPasswordLength = 1
	MaxPasswordLength = 64
)

// Password is an opaque password buffer. Keyfile mixing (§4.2) XORs into
// it without changing its length; the zero value is never valid — build
// one with NewPassword.
type Password struct {
	buf []byte
}

// NewPassword copies plaintext into a new Password buffer. The caller's
// slice is not retained or modified.
func NewPassword(plaintext []byte) (*Password, error) {
	if len(plaintext) < MinPasswordLength || len(plaintext) > MaxPasswordLength {
		return nil, fmt.Errorf("basalt/kdf: %w: password must be %d..%d bytes, got %d",
			ErrParameterIncorrect, MinPasswordLength, MaxPasswordLength, len(plaintext))
	}
	p := &Password{buf: make([]byte, len(plaintext))}
	copy(p.buf, plaintext)
	return p, nil
}

// Bytes returns the password's current contents. The returned slice aliases
// the Password's internal buffer; callers must not retain it past Wipe.
func (p *Password) Bytes() []byte { return p.buf }

// Wipe deterministically clears the password buffer. Safe to call more than
// once.
func (p *Password) Wipe() {
	if p == nil {
		return
	}
	crypto.Wipe(p.buf)
}

// ErrParameterIncorrect is the shared "API contract violation" sentinel
// (spec §7); kdf-level validation failures (bad password/keyfile length,
// bad KDF parameters) use it so callers across packages can match on one
// error with errors.Is.
var ErrParameterIncorrect = fmt.Errorf("parameter incorrect")
