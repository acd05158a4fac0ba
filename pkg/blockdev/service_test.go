// Copyright (c) 2025 The Basalt Authors
//
// SPDX-License-Identifier: Apache-2.0

//go:build !integration

package blockdev

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/basalt-project/basalt/pkg/kdf"
	"github.com/basalt-project/basalt/pkg/volume"
)

var testKDF = kdf.Algorithms[6] // PBKDF2-HMAC-SHA512-500000

func TestCheckMountPointRejectsSystemPaths(t *testing.T) {
	for _, p := range []string{"/", "/usr", "/bin", "/etc", "/System", "/Library"} {
		if err := CheckMountPoint(p); !errors.Is(err, ErrForbiddenMountPoint) {
			t.Fatalf("CheckMountPoint(%q) = %v, want ErrForbiddenMountPoint", p, err)
		}
	}
	if err := CheckMountPoint("/mnt/basalt"); err != nil {
		t.Fatalf("CheckMountPoint(/mnt/basalt) = %v, want nil", err)
	}
}

func TestServiceUnalignedReadWriteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blockdev.basalt")

	pw, _ := kdf.NewPassword([]byte("blockdev-pass"))
	defer pw.Wipe()
	if _, err := volume.Create(volume.CreateOptions{
		Path: path, SizeBytes: 4 << 20, Cascade: "AES-256", KDF: testKDF, Password: pw, Quick: true,
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	pw2, _ := kdf.NewPassword([]byte("blockdev-pass"))
	defer pw2.Wipe()
	v, err := volume.Open(path, pw2, nil, volume.OpenOptions{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = v.Close() }()

	svc := New(v)
	if svc.SectorSize() != 512 {
		t.Fatalf("SectorSize = %d, want 512", svc.SectorSize())
	}

	payload := bytes.Repeat([]byte("Q"), 900) // spans three sectors, unaligned length
	const off = 200                           // unaligned offset, within the first sector

	// Bytes outside the written range, but inside the sectors touched by
	// the unaligned write, must be untouched by the read-modify-write.
	before := make([]byte, off)
	if _, err := svc.ReadAt(before, 0); err != nil {
		t.Fatalf("ReadAt before: %v", err)
	}

	if _, err := svc.WriteAt(payload, off); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	readBack := make([]byte, len(payload))
	if _, err := svc.ReadAt(readBack, off); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(payload, readBack) {
		t.Fatalf("unaligned round trip mismatch")
	}

	after := make([]byte, off)
	if _, err := svc.ReadAt(after, 0); err != nil {
		t.Fatalf("ReadAt after: %v", err)
	}
	for i, b := range after {
		if b != before[i] {
			t.Fatalf("byte %d before the unaligned write = %#x, want %#x (untouched)", i, b, before[i])
		}
	}
}

func TestServiceDismountRejectsFurtherIO(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blockdev.basalt")

	pw, _ := kdf.NewPassword([]byte("dismount-pass"))
	defer pw.Wipe()
	if _, err := volume.Create(volume.CreateOptions{
		Path: path, SizeBytes: 4 << 20, Cascade: "AES-256", KDF: testKDF, Password: pw, Quick: true,
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	pw2, _ := kdf.NewPassword([]byte("dismount-pass"))
	defer pw2.Wipe()
	v, err := volume.Open(path, pw2, nil, volume.OpenOptions{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = v.Close() }()

	svc := New(v)
	svc.Dismount()

	buf := make([]byte, 512)
	if _, err := svc.ReadAt(buf, 0); !errors.Is(err, ErrDismounted) {
		t.Fatalf("ReadAt after Dismount = %v, want ErrDismounted", err)
	}
	if _, err := svc.WriteAt(buf, 0); !errors.Is(err, ErrDismounted) {
		t.Fatalf("WriteAt after Dismount = %v, want ErrDismounted", err)
	}
}
