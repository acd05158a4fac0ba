// Copyright (c) 2025 The Basalt Authors
//
// SPDX-License-Identifier: Apache-2.0

package volume

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"time"
)

// Field offsets inside the 512-byte decrypted header (spec §3). All
// multi-byte integers are big-endian on disk.
const (
	offMagic               = 0
	offVersion              = 4
	offMinReaderVersion     = 6
	offMasterKeyCRC32       = 8
	offVolumeCreationTime   = 12
	offHeaderCreationTime   = 20
	offHiddenVolumeSize     = 28
	offVolumeSize           = 36
	offMasterKeyDataOffset  = 44
	offMasterKeyDataLength  = 52
	offFlags                = 60
	offSectorSize           = 64
	offFieldsCRC32          = 68
	offMasterKeyArea        = 72 // HeaderFieldsSize
)

// filetimeEpochOffset is the number of 100-ns ticks between the Windows
// FILETIME epoch (1601-01-01) and the Unix epoch (1970-01-01) — the
// on-disk timestamp convention TrueCrypt volumes use and that Basalt
// follows for format compatibility.
const filetimeEpochOffset = 116444736000000000

func timeToTicks(t time.Time) uint64 {
	unixNanos := t.UnixNano()
	return uint64(unixNanos/100) + filetimeEpochOffset
}

func ticksToTime(ticks uint64) time.Time {
	unixNanos := (int64(ticks) - filetimeEpochOffset) * 100
	return time.Unix(0, unixNanos).UTC()
}

// EncodeHeader serialises h into a HeaderSize-byte decrypted header,
// computing both CRC32 fields. keyAreaSize is the cascade's master-key
// area length (spec §3); h.MasterKey must already hold exactly that many
// bytes.
func EncodeHeader(h *Header, keyAreaSize int) ([]byte, error) {
	if len(h.MasterKey) != keyAreaSize {
		return nil, fmt.Errorf("basalt/volume: %w: master key is %d bytes, want %d", ErrParameterIncorrect, len(h.MasterKey), keyAreaSize)
	}
	if len(h.Magic) != 4 {
		return nil, fmt.Errorf("basalt/volume: %w: magic must be 4 bytes", ErrParameterIncorrect)
	}
	if offMasterKeyArea+keyAreaSize > HeaderSize {
		return nil, fmt.Errorf("basalt/volume: %w: master key area does not fit in a %d-byte header", ErrParameterIncorrect, HeaderSize)
	}

	buf := make([]byte, HeaderSize)
	copy(buf[offMagic:], h.Magic)
	binary.BigEndian.PutUint16(buf[offVersion:], h.Version)
	binary.BigEndian.PutUint16(buf[offMinReaderVersion:], h.MinReaderVersion)
	binary.BigEndian.PutUint64(buf[offVolumeCreationTime:], timeToTicks(h.VolumeCreationTime))
	binary.BigEndian.PutUint64(buf[offHeaderCreationTime:], timeToTicks(h.HeaderCreationTime))
	binary.BigEndian.PutUint64(buf[offHiddenVolumeSize:], h.HiddenVolumeSize)
	binary.BigEndian.PutUint64(buf[offVolumeSize:], h.VolumeSize)
	binary.BigEndian.PutUint64(buf[offMasterKeyDataOffset:], h.MasterKeyDataOffset)
	binary.BigEndian.PutUint64(buf[offMasterKeyDataLength:], h.MasterKeyDataLength)
	binary.BigEndian.PutUint32(buf[offFlags:], h.Flags)
	binary.BigEndian.PutUint32(buf[offSectorSize:], h.SectorSize)

	copy(buf[offMasterKeyArea:], h.MasterKey)

	masterKeyCRC := crc32.ChecksumIEEE(h.MasterKey)
	binary.BigEndian.PutUint32(buf[offMasterKeyCRC32:], masterKeyCRC)

	fieldsCRC := crc32.ChecksumIEEE(buf[:offFieldsCRC32])
	binary.BigEndian.PutUint32(buf[offFieldsCRC32:], fieldsCRC)

	return buf, nil
}

// DecodeHeader parses a decrypted HeaderSize-byte buffer and validates both
// CRC32 checksums. keyAreaSize is the candidate cascade's master-key area
// length; callers try each supported cascade in turn (spec §4.4 step 3).
// Returns ErrVolumeFormatBad if the magic is one of AllowedMagics but a
// checksum fails to validate; a caller uses a checksum-clean decode as
// proof the (layout, KDF, cascade) candidate was the right one.
func DecodeHeader(buf []byte, keyAreaSize int, allowedMagics []string) (*Header, error) {
	if len(buf) != HeaderSize {
		return nil, fmt.Errorf("basalt/volume: %w: header buffer is %d bytes, want %d", ErrParameterIncorrect, len(buf), HeaderSize)
	}
	if offMasterKeyArea+keyAreaSize > HeaderSize {
		return nil, fmt.Errorf("basalt/volume: %w: master key area of %d bytes does not fit", ErrParameterIncorrect, keyAreaSize)
	}

	magic := string(buf[offMagic : offMagic+4])
	if !magicAllowed(magic, allowedMagics) {
		return nil, ErrVolumeFormatBad
	}

	fieldsCRC := binary.BigEndian.Uint32(buf[offFieldsCRC32:])
	if crc32.ChecksumIEEE(buf[:offFieldsCRC32]) != fieldsCRC {
		return nil, ErrVolumeFormatBad
	}

	masterKey := append([]byte(nil), buf[offMasterKeyArea:offMasterKeyArea+keyAreaSize]...)
	masterKeyCRC := binary.BigEndian.Uint32(buf[offMasterKeyCRC32:])
	if crc32.ChecksumIEEE(masterKey) != masterKeyCRC {
		return nil, ErrVolumeFormatBad
	}

	return &Header{
		Magic:               magic,
		Version:             binary.BigEndian.Uint16(buf[offVersion:]),
		MinReaderVersion:    binary.BigEndian.Uint16(buf[offMinReaderVersion:]),
		MasterKeyCRC32:      masterKeyCRC,
		VolumeCreationTime:  ticksToTime(binary.BigEndian.Uint64(buf[offVolumeCreationTime:])),
		HeaderCreationTime:  ticksToTime(binary.BigEndian.Uint64(buf[offHeaderCreationTime:])),
		HiddenVolumeSize:    binary.BigEndian.Uint64(buf[offHiddenVolumeSize:]),
		VolumeSize:          binary.BigEndian.Uint64(buf[offVolumeSize:]),
		MasterKeyDataOffset: binary.BigEndian.Uint64(buf[offMasterKeyDataOffset:]),
		MasterKeyDataLength: binary.BigEndian.Uint64(buf[offMasterKeyDataLength:]),
		Flags:               binary.BigEndian.Uint32(buf[offFlags:]),
		SectorSize:          binary.BigEndian.Uint32(buf[offSectorSize:]),
		FieldsCRC32:         fieldsCRC,
		MasterKey:           masterKey,
	}, nil
}

func magicAllowed(magic string, allowed []string) bool {
	for _, m := range allowed {
		if magic == m {
			return true
		}
	}
	return false
}
