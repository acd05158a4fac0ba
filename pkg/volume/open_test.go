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
)

// roundTripKDF is a non-legacy PBKDF2 entry (500,000 iterations), used in
// these tests so Create derives its header key with PBKDF2 rather than
// Argon2id. Open tries it only after the four legacy entries and both
// Argon2id entries, so each Open in these tests still runs those Argon2id
// derivations first. It is a real entry from the shipped table, not a
// synthetic stand-in, so Open finds it the normal way.
var roundTripKDF = kdf.Algorithms[6] // PBKDF2-HMAC-SHA512-500000

func TestCreateAndOpenRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "volume.basalt")

	pw, err := kdf.NewPassword([]byte("correct horse battery staple"))
	if err != nil {
		t.Fatalf("NewPassword: %v", err)
	}
	defer pw.Wipe()

	info, err := Create(CreateOptions{
		Path:      path,
		SizeBytes: 4 << 20,
		Cascade:   "AES-256",
		KDF:       roundTripKDF,
		Password:  pw,
		Quick:     true,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if info.Cipher != "AES-256" {
		t.Fatalf("Cipher = %s, want AES-256", info.Cipher)
	}

	pw2, err := kdf.NewPassword([]byte("correct horse battery staple"))
	if err != nil {
		t.Fatalf("NewPassword: %v", err)
	}
	defer pw2.Wipe()

	v, err := Open(path, pw2, nil, OpenOptions{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = v.Close() }()

	if v.Info().Cipher != "AES-256" {
		t.Fatalf("opened volume cipher = %s, want AES-256", v.Info().Cipher)
	}

	payload := bytes.Repeat([]byte("A"), 512*10)
	if err := v.WriteSectors(payload, 1024*512); err != nil {
		t.Fatalf("WriteSectors: %v", err)
	}

	readBack := make([]byte, len(payload))
	if err := v.ReadSectors(readBack, 1024*512); err != nil {
		t.Fatalf("ReadSectors: %v", err)
	}
	if !bytes.Equal(payload, readBack) {
		t.Fatalf("read back payload does not match what was written")
	}
}

func TestOpenWrongPasswordFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "volume.basalt")

	pw, _ := kdf.NewPassword([]byte("correct horse battery staple"))
	defer pw.Wipe()
	if _, err := Create(CreateOptions{
		Path: path, SizeBytes: 4 << 20, Cascade: "AES-256", KDF: roundTripKDF, Password: pw, Quick: true,
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	wrong, _ := kdf.NewPassword([]byte("totally wrong password"))
	defer wrong.Wipe()

	_, err := Open(path, wrong, nil, OpenOptions{})
	if !errors.Is(err, ErrPasswordIncorrect) {
		t.Fatalf("expected ErrPasswordIncorrect, got %v", err)
	}
}

func TestCreateRejectsLegacyKDF(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "volume.basalt")

	pw, _ := kdf.NewPassword([]byte("x"))
	defer pw.Wipe()

	_, err := Create(CreateOptions{
		Path: path, SizeBytes: 4 << 20, Cascade: "AES-256", KDF: kdf.Algorithms[0], Password: pw, Quick: true,
	})
	if !errors.Is(err, ErrParameterIncorrect) {
		t.Fatalf("expected ErrParameterIncorrect for legacy KDF, got %v", err)
	}
}

// TestOpenRejectsXTSKeyEquality hand-builds a header (bypassing Create, as
// spec §8's property requires a header whose master-key area is broken in
// a way Create would never produce) whose AES-256 master key has equal
// primary and tweak halves, and checks Open rejects it with
// ErrParameterIncorrect rather than silently accepting weakened XTS.
func TestOpenRejectsXTSKeyEquality(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "volume.basalt")

	pw, _ := kdf.NewPassword([]byte("test"))
	defer pw.Wipe()

	keyAreaSize, _ := crypto.KeyAreaSize("AES-256")
	masterKey := make([]byte, keyAreaSize)
	for i := 0; i < keyAreaSize/2; i++ {
		masterKey[i] = byte(i + 1)
	}
	copy(masterKey[keyAreaSize/2:], masterKey[:keyAreaSize/2]) // secondary == primary

	h := &Header{
		Magic:               MagicBasalt,
		Version:             2,
		MasterKeyDataLength: uint64(keyAreaSize),
		SectorSize:          512,
		MasterKey:           masterKey,
	}
	plain, err := EncodeHeader(h, keyAreaSize)
	if err != nil {
		t.Fatalf("EncodeHeader: %v", err)
	}

	// Algorithms[0] (legacy PBKDF2-HMAC-SHA512-1000) is the first entry
	// Open's trial loop tries, so the fixture is found immediately.
	writeRawVolume(t, path, plain, kdf.Algorithms[0], pw, keyAreaSize)

	pw2, _ := kdf.NewPassword([]byte("test"))
	defer pw2.Wipe()
	_, err = Open(path, pw2, nil, OpenOptions{})
	if !errors.Is(err, ErrParameterIncorrect) {
		t.Fatalf("expected ErrParameterIncorrect, got %v", err)
	}
}

// writeRawVolume encrypts plain with the given KDF and AES-256 and writes
// salt||ciphertext at the V2Normal primary offset, for hand-built header
// test fixtures that Create's validation would otherwise refuse to produce.
func writeRawVolume(t *testing.T, path string, plain []byte, alg *kdf.Algorithm, password *kdf.Password, keyAreaSize int) {
	t.Helper()

	f := createEmptyFile(t, path, 4<<20)
	defer func() { _ = f.Close() }()

	salt := bytes.Repeat([]byte{0x5a}, SaltSize)
	headerKey, err := kdf.Derive(alg, password, salt, keyAreaSize)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	defer crypto.Wipe(headerKey)

	cascade, err := crypto.NewCascade("AES-256", headerKey)
	if err != nil {
		t.Fatalf("NewCascade: %v", err)
	}
	defer cascade.Wipe()

	cipher := append([]byte(nil), plain...)
	if err := cascade.EncryptSector(0, cipher); err != nil {
		t.Fatalf("EncryptSector: %v", err)
	}

	group := append(append([]byte(nil), salt...), cipher...)
	if _, err := f.WriteAt(group, 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
}
