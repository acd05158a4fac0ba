// Copyright (c) 2025 The Basalt Authors
//
// SPDX-License-Identifier: Apache-2.0

package volume

import (
	"fmt"

	"github.com/basalt-project/basalt/pkg/crypto"
)

// ReadSectors reads len(buf)/SectorSize sectors starting at sector
// `offset / SectorSize`, decrypting each with the cascade in XTS mode
// keyed by the sector index (spec §4.4 "Sector I/O"). offset and len(buf)
// must both be multiples of the volume's sector size.
func (v *Volume) ReadSectors(buf []byte, offset int64) error {
	if err := v.checkSectorAligned(offset, len(buf)); err != nil {
		return err
	}

	absOff := v.dataAreaStart + offset
	if absOff+int64(len(buf)) > v.dataAreaEnd {
		return fmt.Errorf("basalt/volume: %w: read extends past the data area", ErrParameterIncorrect)
	}

	if _, err := v.file.ReadAt(buf, absOff); err != nil {
		return fmt.Errorf("basalt/volume: %w: %v", ErrSystemError, err)
	}

	sectorSize := int(v.sectorSize)
	firstSector := uint64(offset) / uint64(sectorSize)
	for i := 0; i*sectorSize < len(buf); i++ {
		sector := buf[i*sectorSize : (i+1)*sectorSize]
		if err := v.cascade.DecryptSector(firstSector+uint64(i), sector); err != nil {
			return err
		}
	}

	v.bytesRead += uint64(len(buf))
	return nil
}

// WriteSectors is ReadSectors's write-side symmetric counterpart: it
// encrypts a copy of buf sector-by-sector and writes the ciphertext to
// disk. If a hidden-volume protected range is active and the write would
// touch it, the call fails with ErrVolumeProtected and nothing is written
// (spec §4.4 scenario 5).
func (v *Volume) WriteSectors(buf []byte, offset int64) error {
	if v.readOnly {
		return ErrVolumeReadOnly
	}
	if err := v.checkSectorAligned(offset, len(buf)); err != nil {
		return err
	}

	absOff := v.dataAreaStart + offset
	if absOff+int64(len(buf)) > v.dataAreaEnd {
		return fmt.Errorf("basalt/volume: %w: write extends past the data area", ErrParameterIncorrect)
	}
	if v.protected != nil && rangesOverlap(absOff, absOff+int64(len(buf)), v.protected.start, v.protected.end) {
		return ErrVolumeProtected
	}

	cipherBuf := append([]byte(nil), buf...)
	sectorSize := int(v.sectorSize)
	firstSector := uint64(offset) / uint64(sectorSize)
	for i := 0; i*sectorSize < len(cipherBuf); i++ {
		sector := cipherBuf[i*sectorSize : (i+1)*sectorSize]
		if err := v.cascade.EncryptSector(firstSector+uint64(i), sector); err != nil {
			return err
		}
	}

	if _, err := v.file.WriteAt(cipherBuf, absOff); err != nil {
		return fmt.Errorf("basalt/volume: %w: %v", ErrSystemError, err)
	}

	v.bytesWritten += uint64(len(buf))
	return nil
}

func (v *Volume) checkSectorAligned(offset int64, n int) error {
	sectorSize := int64(v.sectorSize)
	if offset%sectorSize != 0 || int64(n)%sectorSize != 0 {
		return fmt.Errorf("basalt/volume: %w: offset and length must be multiples of the %d-byte sector size", ErrParameterIncorrect, sectorSize)
	}
	return nil
}

func rangesOverlap(aStart, aEnd, bStart, bEnd int64) bool {
	return aStart < bEnd && bStart < aEnd
}

// Info returns a read-only snapshot of the volume (spec §3's VolumeInfo).
func (v *Volume) Info() VolumeInfo {
	return VolumeInfo{
		Path:           v.path,
		Cipher:         v.cascadeNm,
		KDFName:        v.kdfAlg.Name,
		IterationCount: v.kdfAlg.IterationCount(),
		SizeBytes:      uint64(v.dataAreaEnd - v.dataAreaStart),
		SectorSize:     v.sectorSize,
		Hidden:         v.layout.Kind == LayoutV1Hidden || v.layout.Kind == LayoutV2Hidden,
		ReadOnly:       v.readOnly,
		BytesRead:      v.bytesRead,
		BytesWritten:   v.bytesWritten,
	}
}

// Close wipes the volume's cascade key schedules and header, then closes
// the underlying file handle. Safe to call once; a second call is a
// programmer error the caller should not rely on.
func (v *Volume) Close() error {
	if v.cascade != nil {
		v.cascade.Wipe()
	}
	if v.header != nil {
		crypto.Wipe(v.header.MasterKey)
	}
	return v.file.Close()
}
