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

	"github.com/basalt-project/basalt/pkg/kdf"
)

// TestHiddenVolumeWriteProtection covers spec §8 scenario 5: mounting the
// outer volume with hidden-volume-read-write protection enabled (the
// correct hidden password supplied) must refuse any write overlapping the
// hidden volume's data range with ErrVolumeProtected, and the hidden
// volume's own data must remain byte-identical afterwards.
func TestHiddenVolumeWriteProtection(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "volume.basalt")

	outerPw, _ := kdf.NewPassword([]byte("outer-password"))
	defer outerPw.Wipe()
	hiddenPw, _ := kdf.NewPassword([]byte("hidden-password"))
	defer hiddenPw.Wipe()

	const hiddenSize = 512 * 8
	if _, err := Create(CreateOptions{
		Path:            path,
		SizeBytes:       8 << 20,
		Cascade:         "AES-256",
		KDF:             roundTripKDF,
		Password:        outerPw,
		Quick:           true,
		HiddenSizeBytes: hiddenSize,
		HiddenPassword:  hiddenPw,
		HiddenKDF:       roundTripKDF,
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	hiddenPayload := bytes.Repeat([]byte("H"), hiddenSize)

	hiddenPw1, _ := kdf.NewPassword([]byte("hidden-password"))
	defer hiddenPw1.Wipe()
	hv, err := Open(path, hiddenPw1, nil, OpenOptions{})
	if err != nil {
		t.Fatalf("Open hidden volume directly: %v", err)
	}
	if !hv.Info().Hidden {
		t.Fatalf("opened volume should report Hidden=true")
	}
	if err := hv.WriteSectors(hiddenPayload, 0); err != nil {
		t.Fatalf("WriteSectors into hidden volume: %v", err)
	}
	if err := hv.Close(); err != nil {
		t.Fatalf("Close hidden: %v", err)
	}

	outerPw1, _ := kdf.NewPassword([]byte("outer-password"))
	defer outerPw1.Wipe()
	hiddenPw2, _ := kdf.NewPassword([]byte("hidden-password"))
	defer hiddenPw2.Wipe()
	ov, err := Open(path, outerPw1, nil, OpenOptions{HiddenProtectionPassword: hiddenPw2})
	if err != nil {
		t.Fatalf("Open outer with hidden protection: %v", err)
	}

	outerSize := int64(ov.Info().SizeBytes)
	lastSectorOffset := outerSize - 512
	conflicting := bytes.Repeat([]byte{0xEE}, 512)
	if err := ov.WriteSectors(conflicting, lastSectorOffset); !errors.Is(err, ErrVolumeProtected) {
		t.Fatalf("expected ErrVolumeProtected, got %v", err)
	}
	if err := ov.Close(); err != nil {
		t.Fatalf("Close outer: %v", err)
	}

	hiddenPw3, _ := kdf.NewPassword([]byte("hidden-password"))
	defer hiddenPw3.Wipe()
	hv2, err := Open(path, hiddenPw3, nil, OpenOptions{})
	if err != nil {
		t.Fatalf("reopen hidden volume: %v", err)
	}
	defer func() { _ = hv2.Close() }()

	readBack := make([]byte, hiddenSize)
	if err := hv2.ReadSectors(readBack, 0); err != nil {
		t.Fatalf("ReadSectors: %v", err)
	}
	if !bytes.Equal(hiddenPayload, readBack) {
		t.Fatalf("hidden volume data changed despite the protected write being refused")
	}
}
