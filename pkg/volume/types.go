// Copyright (c) 2025 The Basalt Authors
//
// SPDX-License-Identifier: Apache-2.0

// Package volume implements the on-disk header format, XTS sector engine,
// and creation/open/change-password/backup procedures for TrueCrypt
// 7.1a-, VeraCrypt- and Basalt-compatible volumes (spec §3, §4.4).
package volume

import (
	"time"

	"github.com/basalt-project/basalt/pkg/crypto"
	"github.com/basalt-project/basalt/pkg/kdf"
)

// Magic tags recognised after header decryption. A reader accepts all
// three; Create only ever writes MagicBasalt (spec §6).
const (
	MagicBasalt    = "BSLT"
	MagicTrueCrypt = "TRUE"
	MagicVeraCrypt = "VERA"
)

// HeaderFieldsSize is the size, in bytes, of the decrypted header's fixed
// fields — magic through the fields checksum, before the master-key area
// (spec §3).
const HeaderFieldsSize = 72

// HeaderSize is the minimum decrypted header size (spec §3): fixed fields
// plus the largest supported master-key area (three ciphers, two 32-byte
// keys each), zero-padded to 512 bytes.
const HeaderSize = 512

// SaltSize is the size, in bytes, of the plaintext salt prefix stored
// ahead of every encrypted header.
const SaltSize = kdf.SaltSize

// Header is the decrypted view of one volume or hidden-volume header
// (spec §3). All multi-byte integers are big-endian on disk.
type Header struct {
	Magic               string
	Version             uint16
	MinReaderVersion    uint16
	MasterKeyCRC32      uint32
	VolumeCreationTime  time.Time
	HeaderCreationTime  time.Time
	HiddenVolumeSize    uint64
	VolumeSize          uint64
	MasterKeyDataOffset uint64
	MasterKeyDataLength uint64
	Flags               uint32
	SectorSize          uint32
	FieldsCRC32         uint32

	// MasterKey is cascade-sized: all primary keys concatenated, then all
	// secondary (tweak) keys, in cascade order (spec §3).
	MasterKey []byte

	Cascade    string
	KDFName    string
	Legacy     bool
}

// VolumeInfo is the read-only snapshot returned to callers after a
// successful mount (spec §3).
type VolumeInfo struct {
	Path              string
	MountPoint        string
	Cipher            string
	KDFName           string
	IterationCount    int
	SizeBytes         uint64
	SectorSize        uint32
	Hidden            bool
	ReadOnly          bool
	BytesRead         uint64
	BytesWritten      uint64
	Slot              int
}

// MasterKey wraps the raw key bytes extracted from a decrypted header so
// Wipe has one obvious call site; it is never copied out of the Volume
// that owns it (spec §3, §5).
type MasterKey struct {
	buf []byte
}

// NewMasterKey copies b into a new MasterKey.
func NewMasterKey(b []byte) *MasterKey {
	mk := &MasterKey{buf: make([]byte, len(b))}
	copy(mk.buf, b)
	return mk
}

// Bytes returns the key's contents. The returned slice aliases the
// MasterKey's internal buffer.
func (mk *MasterKey) Bytes() []byte { return mk.buf }

// Wipe deterministically clears the key. Safe to call more than once.
func (mk *MasterKey) Wipe() {
	if mk == nil {
		return
	}
	crypto.Wipe(mk.buf)
}
