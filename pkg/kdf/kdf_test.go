// Copyright (c) 2025 The Basalt Authors
//
// SPDX-License-Identifier: Apache-2.0

//go:build !integration

package kdf

import (
	"bytes"
	"testing"
)

func TestAlgorithmsOrderMatchesOpenTrialOrder(t *testing.T) {
	wantNames := []string{
		"PBKDF2-HMAC-SHA512-1000",
		"PBKDF2-HMAC-RIPEMD160-2000",
		"PBKDF2-HMAC-Whirlpool-1000",
		"PBKDF2-HMAC-SHA1-2000",
		"Argon2id-Max",
		"Argon2id",
		"PBKDF2-HMAC-SHA512-500000",
		"PBKDF2-HMAC-Whirlpool-500000",
		"PBKDF2-HMAC-RIPEMD160-655331",
		"PBKDF2-HMAC-SHA1-500000",
	}
	if len(Algorithms) != len(wantNames) {
		t.Fatalf("got %d algorithms, want %d", len(Algorithms), len(wantNames))
	}
	for i, want := range wantNames {
		if Algorithms[i].Name != want {
			t.Fatalf("Algorithms[%d] = %s, want %s", i, Algorithms[i].Name, want)
		}
	}
}

func TestLegacyAlgorithmsAreFirstFour(t *testing.T) {
	for i, a := range Algorithms {
		want := i < 4
		if a.Legacy != want {
			t.Fatalf("Algorithms[%d] (%s) Legacy = %v, want %v", i, a.Name, a.Legacy, want)
		}
	}
}

func TestByName(t *testing.T) {
	a, err := ByName("Argon2id")
	if err != nil {
		t.Fatalf("ByName: %v", err)
	}
	if a.Kind != KindArgon2id {
		t.Fatalf("expected KindArgon2id, got %v", a.Kind)
	}
}

func TestByNameUnknown(t *testing.T) {
	if _, err := ByName("not-a-real-kdf"); err == nil {
		t.Fatal("expected error for unknown KDF name")
	}
}

func TestModernDefaultIsNotLegacy(t *testing.T) {
	if ModernDefault().Legacy {
		t.Fatal("ModernDefault must not be a legacy entry")
	}
}

func TestDeriveDeterministic(t *testing.T) {
	pw, err := NewPassword([]byte("correct horse battery staple"))
	if err != nil {
		t.Fatalf("NewPassword: %v", err)
	}
	defer pw.Wipe()

	salt := bytes.Repeat([]byte{0x5a}, SaltSize)
	alg := Algorithms[0] // PBKDF2-HMAC-SHA512-1000, cheap enough for a unit test

	a, err := Derive(alg, pw, salt, 64)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	b, err := Derive(alg, pw, salt, 64)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("Derive is not deterministic for identical inputs")
	}
}

func TestDeriveDifferentAlgorithmsDiffer(t *testing.T) {
	pw, err := NewPassword([]byte("correct horse battery staple"))
	if err != nil {
		t.Fatalf("NewPassword: %v", err)
	}
	defer pw.Wipe()

	salt := bytes.Repeat([]byte{0x5a}, SaltSize)

	a, err := Derive(Algorithms[0], pw, salt, 64) // SHA-512/1000
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	b, err := Derive(Algorithms[3], pw, salt, 64) // SHA-1/2000
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if bytes.Equal(a, b) {
		t.Fatalf("different KDF algorithms produced identical output")
	}
}

func TestDeriveRejectsWrongSaltLength(t *testing.T) {
	pw, err := NewPassword([]byte("x"))
	if err != nil {
		t.Fatalf("NewPassword: %v", err)
	}
	defer pw.Wipe()

	if _, err := Derive(Algorithms[0], pw, []byte("too-short"), 64); err == nil {
		t.Fatal("expected error for wrong salt length")
	}
}

func TestNeedsUpgrade(t *testing.T) {
	legacy, _ := ByName("PBKDF2-HMAC-SHA512-1000")
	if !legacy.NeedsUpgrade() {
		t.Fatal("legacy low-iteration PBKDF2 should need upgrade")
	}
	modern, _ := ByName("PBKDF2-HMAC-SHA512-500000")
	if modern.NeedsUpgrade() {
		t.Fatal("high-iteration PBKDF2 should not need upgrade")
	}
	argon, _ := ByName("Argon2id")
	if argon.NeedsUpgrade() {
		t.Fatal("Argon2id should never need upgrade")
	}
}
