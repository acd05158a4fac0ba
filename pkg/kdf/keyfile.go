// Copyright (c) 2025 The Basalt Authors
//
// SPDX-License-Identifier: Apache-2.0

package kdf

import (
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/basalt-project/basalt/pkg/crypto"
)

const keyfilePoolSize = 64

// Keyfile references a file by path; ApplyKeyfiles reads and mixes it into
// a password per spec §4.2.
type Keyfile struct {
	Path string
}

// ApplyKeyfiles mixes zero or more keyfiles into password, in order. The
// mix is a 64-byte rolling pool updated one keyfile byte at a time: the
// pool index advances (mod 64) and the pool byte at that index accumulates
// the rotating CRC-32 of the byte stream seen so far, then the final pool
// is XORed into the leading bytes of the password. This is deterministic
// and does not change the password's length (spec §4.2, §3).
func ApplyKeyfiles(password *Password, keyfiles []Keyfile) error {
	if len(keyfiles) == 0 {
		return nil
	}

	var pool [keyfilePoolSize]byte
	pos := 0

	for _, kf := range keyfiles {
		if err := mixKeyfile(kf.Path, &pool, &pos); err != nil {
			return fmt.Errorf("basalt/kdf: keyfile %s: %w", kf.Path, err)
		}
	}

	buf := password.Bytes()
	n := len(buf)
	if n > keyfilePoolSize {
		n = keyfilePoolSize
	}
	for i := 0; i < n; i++ {
		buf[i] ^= pool[i]
	}
	crypto.Wipe(pool[:])

	return nil
}

// mixKeyfile reads path in chunks and folds every byte into the rolling
// pool, advancing pos (mod 64) once per byte.
func mixKeyfile(path string, pool *[keyfilePoolSize]byte, pos *int) error {
	f, err := os.Open(path) // #nosec G304 -- user-supplied keyfile path, the whole point of the feature
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	crc := uint32(0xFFFFFFFF)
	chunk := make([]byte, 4096)

	for {
		n, err := f.Read(chunk)
		for i := 0; i < n; i++ {
			crc = crc32.Update(crc, crc32.IEEETable, chunk[i:i+1])
			pool[*pos] += byte(crc >> 24)
			*pos = (*pos + 1) % keyfilePoolSize
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
