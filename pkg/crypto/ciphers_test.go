// Copyright (c) 2025 The Basalt Authors
//
// SPDX-License-Identifier: Apache-2.0

//go:build !integration

package crypto

import "testing"

func TestNewBlockRoundTrip(t *testing.T) {
	for name := range cipherCtors {
		name := name
		t.Run(string(name), func(t *testing.T) {
			key := make([]byte, KeySize)
			for i := range key {
				key[i] = byte(i)
			}
			block, err := NewBlock(name, key)
			if err != nil {
				t.Fatalf("NewBlock(%s): %v", name, err)
			}

			plain := make([]byte, BlockSize)
			for i := range plain {
				plain[i] = byte(0xA0 + i)
			}
			ct := make([]byte, BlockSize)
			block.Encrypt(ct, plain)

			pt := make([]byte, BlockSize)
			block.Decrypt(pt, ct)

			for i := range plain {
				if pt[i] != plain[i] {
					t.Fatalf("round trip mismatch at byte %d: got %02x want %02x", i, pt[i], plain[i])
				}
			}
		})
	}
}

func TestNewBlockRejectsBadKeySize(t *testing.T) {
	if _, err := NewBlock(CipherAES, make([]byte, KeySize-1)); err == nil {
		t.Fatal("expected error for short key")
	}
}

func TestNewBlockRejectsUnknownCipher(t *testing.T) {
	if _, err := NewBlock(CipherName("RC4"), make([]byte, KeySize)); err == nil {
		t.Fatal("expected error for unsupported cipher")
	}
}

func TestCascadeNamesKnownCascades(t *testing.T) {
	want := map[string]int{
		"AES-256":             1,
		"Serpent-256":         1,
		"Twofish-256":         1,
		"AES-Twofish":         2,
		"AES-Twofish-Serpent": 3,
		"Serpent-AES":         2,
		"Serpent-Twofish-AES": 3,
		"Twofish-Serpent":     2,
	}
	for name, n := range want {
		names, err := CascadeNames(name)
		if err != nil {
			t.Fatalf("CascadeNames(%s): %v", name, err)
		}
		if len(names) != n {
			t.Fatalf("CascadeNames(%s) has %d ciphers, want %d", name, len(names), n)
		}
	}
}

func TestCascadeNamesUnknown(t *testing.T) {
	if _, err := CascadeNames("Not-A-Cascade"); err == nil {
		t.Fatal("expected error for unknown cascade")
	}
}

func TestKeyAreaSize(t *testing.T) {
	cases := map[string]int{
		"AES-256":             2 * KeySize,
		"AES-Twofish":         2 * 2 * KeySize,
		"Serpent-Twofish-AES": 3 * 2 * KeySize,
	}
	for name, want := range cases {
		got, err := KeyAreaSize(name)
		if err != nil {
			t.Fatalf("KeyAreaSize(%s): %v", name, err)
		}
		if got != want {
			t.Fatalf("KeyAreaSize(%s) = %d, want %d", name, got, want)
		}
	}
}
