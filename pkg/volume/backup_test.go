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

// TestBackupAndRestoreHeadersRoundTrip covers spec §4.4's "Backup / restore
// headers": BackupHeaders exports a fresh-salt re-encryption of the normal
// header to an external file, the volume's own header is then wiped
// (simulating corruption), and RestoreHeaders recovers it from the backup
// file so the volume opens with the same password and the payload written
// before the backup reads back intact.
func TestBackupAndRestoreHeadersRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "volume.basalt")
	backupPath := filepath.Join(dir, "volume.backup")

	pw, _ := kdf.NewPassword([]byte("backup-me"))
	defer pw.Wipe()

	if _, err := Create(CreateOptions{
		Path: path, SizeBytes: 4 << 20, Cascade: "AES-256", KDF: roundTripKDF, Password: pw, Quick: true,
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	payload := bytes.Repeat([]byte("E"), 512*4)
	pw1, _ := kdf.NewPassword([]byte("backup-me"))
	defer pw1.Wipe()
	v, err := Open(path, pw1, nil, OpenOptions{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := v.WriteSectors(payload, 0); err != nil {
		t.Fatalf("WriteSectors: %v", err)
	}
	if err := v.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	pw2, _ := kdf.NewPassword([]byte("backup-me"))
	defer pw2.Wipe()
	if err := BackupHeaders(BackupHeadersOptions{VolumePath: path, BackupPath: backupPath, Password: pw2}); err != nil {
		t.Fatalf("BackupHeaders: %v", err)
	}

	corruptPrimaryHeader(t, path)

	pw3, _ := kdf.NewPassword([]byte("backup-me"))
	defer pw3.Wipe()
	if _, err := Open(path, pw3, nil, OpenOptions{}); err == nil {
		t.Fatalf("expected corrupted primary header to fail Open before restore")
	}

	pw4, _ := kdf.NewPassword([]byte("backup-me"))
	defer pw4.Wipe()
	if err := RestoreHeaders(RestoreHeadersOptions{VolumePath: path, SourcePath: backupPath, Password: pw4}); err != nil {
		t.Fatalf("RestoreHeaders: %v", err)
	}

	pw5, _ := kdf.NewPassword([]byte("backup-me"))
	defer pw5.Wipe()
	v2, err := Open(path, pw5, nil, OpenOptions{})
	if err != nil {
		t.Fatalf("Open after restore: %v", err)
	}
	defer func() { _ = v2.Close() }()

	readBack := make([]byte, len(payload))
	if err := v2.ReadSectors(readBack, 0); err != nil {
		t.Fatalf("ReadSectors: %v", err)
	}
	if !bytes.Equal(payload, readBack) {
		t.Fatalf("data did not survive backup/restore round trip")
	}
}

// TestRestoreHeadersFromInternalBackup covers the same operation restoring
// from the volume's own V2 backup header group rather than an external
// file: corrupt only the primary header group, leave the file-end backup
// intact, and restore in place.
func TestRestoreHeadersFromInternalBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "volume.basalt")

	pw, _ := kdf.NewPassword([]byte("internal-backup"))
	defer pw.Wipe()
	if _, err := Create(CreateOptions{
		Path: path, SizeBytes: 4 << 20, Cascade: "AES-256", KDF: roundTripKDF, Password: pw, Quick: true,
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	corruptPrimaryHeader(t, path)

	pw1, _ := kdf.NewPassword([]byte("internal-backup"))
	defer pw1.Wipe()
	if _, err := Open(path, pw1, nil, OpenOptions{}); !errors.Is(err, ErrPasswordIncorrect) {
		t.Fatalf("expected corrupted primary header to read as ErrPasswordIncorrect, got %v", err)
	}

	pw2, _ := kdf.NewPassword([]byte("internal-backup"))
	defer pw2.Wipe()
	if err := RestoreHeaders(RestoreHeadersOptions{VolumePath: path, Password: pw2}); err != nil {
		t.Fatalf("RestoreHeaders from internal backup: %v", err)
	}

	pw3, _ := kdf.NewPassword([]byte("internal-backup"))
	defer pw3.Wipe()
	v, err := Open(path, pw3, nil, OpenOptions{})
	if err != nil {
		t.Fatalf("Open after internal restore: %v", err)
	}
	_ = v.Close()
}

// TestOpenUseBackupHeadersMountsFromBackup covers the --use-backup-headers
// mount path directly, without going through RestoreHeaders: a volume with
// a corrupted primary header still opens when OpenOptions.UseBackupHeaders
// is set, because Create wrote an identical header pair at both offsets.
func TestOpenUseBackupHeadersMountsFromBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "volume.basalt")

	pw, _ := kdf.NewPassword([]byte("use-backup-headers"))
	defer pw.Wipe()
	if _, err := Create(CreateOptions{
		Path: path, SizeBytes: 4 << 20, Cascade: "AES-256", KDF: roundTripKDF, Password: pw, Quick: true,
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	corruptPrimaryHeader(t, path)

	pw1, _ := kdf.NewPassword([]byte("use-backup-headers"))
	defer pw1.Wipe()
	if _, err := Open(path, pw1, nil, OpenOptions{}); err == nil {
		t.Fatalf("expected primary-header mount to fail after corruption")
	}

	pw2, _ := kdf.NewPassword([]byte("use-backup-headers"))
	defer pw2.Wipe()
	v, err := Open(path, pw2, nil, OpenOptions{UseBackupHeaders: true})
	if err != nil {
		t.Fatalf("Open with UseBackupHeaders: %v", err)
	}
	_ = v.Close()
}

func corruptPrimaryHeader(t *testing.T, path string) {
	t.Helper()
	f := openForWrite(t, path)
	defer func() { _ = f.Close() }()
	garbage := bytes.Repeat([]byte{0xFF}, SaltSize+HeaderSize)
	if _, err := f.WriteAt(garbage, 0); err != nil {
		t.Fatalf("corrupt primary header: %v", err)
	}
}
