// Copyright (c) 2025 The Basalt Authors
//
// SPDX-License-Identifier: Apache-2.0

//go:build !integration

package volume

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/basalt-project/basalt/pkg/crypto"
	"github.com/basalt-project/basalt/pkg/kdf"
	"github.com/basalt-project/basalt/pkg/rng"
)

// TestUpgradeKDFPreservesPasswordAndData covers spec §8 scenario 4: a
// volume created under a legacy KDF is opened, UpgradeKDF is invoked, and a
// remount with the same password shows the modern iteration count while the
// previously written payload is untouched.
func TestUpgradeKDFPreservesPasswordAndData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "volume.basalt")

	pw, _ := kdf.NewPassword([]byte("legacy-volume-password"))
	defer pw.Wipe()

	legacyAlg := kdf.Algorithms[1] // PBKDF2-HMAC-RIPEMD160-2000
	if _, err := Create(CreateOptions{
		Path: path, SizeBytes: 4 << 20, Cascade: "AES-256", KDF: roundTripKDF, Password: pw, Quick: true,
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	// Create never selects a legacy KDF, so the header group is re-encrypted
	// under legacyAlg here, keeping the master key Create generated.
	reencryptHeaderUnder(t, path, "legacy-volume-password", legacyAlg)

	payload := bytes.Repeat([]byte("B"), 512*4)
	pw1, _ := kdf.NewPassword([]byte("legacy-volume-password"))
	defer pw1.Wipe()
	v, err := Open(path, pw1, nil, OpenOptions{})
	if err != nil {
		t.Fatalf("Open (legacy): %v", err)
	}
	if v.Info().KDFName != legacyAlg.Name {
		t.Fatalf("KDFName = %s, want %s", v.Info().KDFName, legacyAlg.Name)
	}
	if err := v.WriteSectors(payload, 0); err != nil {
		t.Fatalf("WriteSectors: %v", err)
	}
	if err := v.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	pw2, _ := kdf.NewPassword([]byte("legacy-volume-password"))
	defer pw2.Wipe()
	if err := UpgradeKDF(path, pw2, nil); err != nil {
		t.Fatalf("UpgradeKDF: %v", err)
	}

	pw3, _ := kdf.NewPassword([]byte("legacy-volume-password"))
	defer pw3.Wipe()
	v2, err := Open(path, pw3, nil, OpenOptions{})
	if err != nil {
		t.Fatalf("Open (upgraded): %v", err)
	}
	defer func() { _ = v2.Close() }()

	modern := kdf.ModernDefault()
	if v2.Info().KDFName != modern.Name {
		t.Fatalf("KDFName after upgrade = %s, want %s", v2.Info().KDFName, modern.Name)
	}

	readBack := make([]byte, len(payload))
	if err := v2.ReadSectors(readBack, 0); err != nil {
		t.Fatalf("ReadSectors: %v", err)
	}
	if !bytes.Equal(payload, readBack) {
		t.Fatalf("data changed across UpgradeKDF")
	}
}

// reencryptHeaderUnder rewrites the header group of the volume at path
// under alg with a fresh salt, keeping its master key and every other
// header field.
func reencryptHeaderUnder(t *testing.T, path, password string, alg *kdf.Algorithm) {
	t.Helper()
	pw, _ := kdf.NewPassword([]byte(password))
	defer pw.Wipe()
	v, err := Open(path, pw, nil, OpenOptions{})
	if err != nil {
		t.Fatalf("Open (setup): %v", err)
	}
	plain, err := EncodeHeader(v.header, len(v.header.MasterKey))
	layout, cascadeNm := v.layout, v.cascadeNm
	_ = v.Close()
	if err != nil {
		t.Fatalf("EncodeHeader: %v", err)
	}
	defer crypto.Wipe(plain)

	pool, err := rng.Global()
	if err != nil {
		t.Fatalf("rng.Global: %v", err)
	}
	f := openForWrite(t, path)
	defer func() { _ = f.Close() }()
	if err := encryptAndWriteHeaderGroup(f, pool, layout, cascadeNm, alg, pw, plain); err != nil {
		t.Fatalf("encryptAndWriteHeaderGroup: %v", err)
	}
}

// TestChangePasswordRotatesMasterKey covers the password-change path where
// KeepMasterKey is false: the old password must stop working and the new
// one must open the volume with previously written data intact.
func TestChangePasswordRotatesMasterKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "volume.basalt")

	oldPw, _ := kdf.NewPassword([]byte("old-password"))
	defer oldPw.Wipe()
	if _, err := Create(CreateOptions{
		Path: path, SizeBytes: 4 << 20, Cascade: "AES-256", KDF: roundTripKDF, Password: oldPw, Quick: true,
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	payload := bytes.Repeat([]byte("C"), 512*4)
	oldPw2, _ := kdf.NewPassword([]byte("old-password"))
	defer oldPw2.Wipe()
	v, err := Open(path, oldPw2, nil, OpenOptions{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := v.WriteSectors(payload, 0); err != nil {
		t.Fatalf("WriteSectors: %v", err)
	}
	if err := v.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	oldPw3, _ := kdf.NewPassword([]byte("old-password"))
	defer oldPw3.Wipe()
	newPw, _ := kdf.NewPassword([]byte("new-password"))
	defer newPw.Wipe()
	if err := ChangePassword(ChangePasswordOptions{
		Path:        path,
		OldPassword: oldPw3,
		NewPassword: newPw,
		NewKDF:      roundTripKDF,
	}); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}

	oldPw4, _ := kdf.NewPassword([]byte("old-password"))
	defer oldPw4.Wipe()
	if _, err := Open(path, oldPw4, nil, OpenOptions{}); !errors.Is(err, ErrPasswordIncorrect) {
		t.Fatalf("expected old password to fail after ChangePassword, got %v", err)
	}

	newPw2, _ := kdf.NewPassword([]byte("new-password"))
	defer newPw2.Wipe()
	v2, err := Open(path, newPw2, nil, OpenOptions{})
	if err != nil {
		t.Fatalf("Open with new password: %v", err)
	}
	defer func() { _ = v2.Close() }()

	readBack := make([]byte, len(payload))
	if err := v2.ReadSectors(readBack, 0); err != nil {
		t.Fatalf("ReadSectors: %v", err)
	}
	if !bytes.Equal(payload, readBack) {
		t.Fatalf("data changed across ChangePassword despite KeepMasterKey=false requiring a key rotation, not data loss")
	}
}
