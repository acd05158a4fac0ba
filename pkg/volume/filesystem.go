// Copyright (c) 2025 The Basalt Authors
//
// SPDX-License-Identifier: Apache-2.0

package volume

import (
	"encoding/binary"
	"fmt"
	"os"
)

// formatFAT writes a minimal FAT16 boot sector, FAT table and root
// directory region into the data area so the guest OS recognises the
// volume as a FAT filesystem (spec §4.4 step 7: "If filesystem=FAT,
// format the data area with a FAT boot sector sized for the volume").
// This is intentionally the minimum viable on-disk structure — the host
// OS's own filesystem driver does the real formatting work in the
// reference implementation; Basalt lays out just enough for a FAT driver
// to mount a freshly created, empty volume.
func formatFAT(f *os.File, dataStart, dataEnd int64, sectorSize uint32) error {
	size := dataEnd - dataStart
	if size < int64(sectorSize)*64 {
		return fmt.Errorf("basalt/volume: %w: volume too small to format as FAT", ErrParameterIncorrect)
	}

	const reservedSectors = 1
	const fatCount = 2
	const rootEntries = 512
	sectorsPerCluster := fatSectorsPerCluster(size, int64(sectorSize))

	totalSectors := size / int64(sectorSize)
	rootDirSectors := int64((rootEntries*32 + int(sectorSize) - 1) / int(sectorSize))
	sectorsPerFAT := fatTableSectorCount(totalSectors, int64(sectorsPerCluster), int64(sectorSize))

	boot := make([]byte, sectorSize)
	boot[0] = 0xEB
	boot[1] = 0x3C
	boot[2] = 0x90
	copy(boot[3:11], "BASALT  ")
	binary.LittleEndian.PutUint16(boot[11:13], uint16(sectorSize))
	boot[13] = byte(sectorsPerCluster)
	binary.LittleEndian.PutUint16(boot[14:16], reservedSectors)
	boot[16] = fatCount
	binary.LittleEndian.PutUint16(boot[17:19], rootEntries)
	if totalSectors < 1<<16 {
		binary.LittleEndian.PutUint16(boot[19:21], uint16(totalSectors))
	}
	boot[21] = 0xF8 // fixed disk
	binary.LittleEndian.PutUint16(boot[22:24], uint16(sectorsPerFAT))
	if totalSectors >= 1<<16 {
		binary.LittleEndian.PutUint32(boot[32:36], uint32(totalSectors))
	}
	boot[510] = 0x55
	boot[511] = 0xAA

	if _, err := f.WriteAt(boot, dataStart); err != nil {
		return fmt.Errorf("basalt/volume: %w: %v", ErrSystemError, err)
	}

	fatRegionStart := dataStart + reservedSectors*int64(sectorSize)
	fat := make([]byte, sectorSize)
	fat[0] = 0xF8
	fat[1] = 0xFF
	fat[2] = 0xFF
	for i := 0; i < fatCount; i++ {
		if _, err := f.WriteAt(fat, fatRegionStart+int64(i)*sectorsPerFAT*int64(sectorSize)); err != nil {
			return fmt.Errorf("basalt/volume: %w: %v", ErrSystemError, err)
		}
	}

	rootDirStart := fatRegionStart + fatCount*sectorsPerFAT*int64(sectorSize)
	zeroRoot := make([]byte, rootDirSectors*int64(sectorSize))
	if _, err := f.WriteAt(zeroRoot, rootDirStart); err != nil {
		return fmt.Errorf("basalt/volume: %w: %v", ErrSystemError, err)
	}

	return nil
}

func fatSectorsPerCluster(volumeSize, sectorSize int64) byte {
	switch {
	case volumeSize < 32<<20:
		return 1
	case volumeSize < 256<<20:
		return 8
	case volumeSize < 2<<30:
		return 32
	default:
		return 64
	}
}

func fatTableSectorCount(totalSectors, sectorsPerCluster, sectorSize int64) int64 {
	clusters := totalSectors / sectorsPerCluster
	bytesNeeded := clusters * 2 // FAT16 entries
	sectors := (bytesNeeded + sectorSize - 1) / sectorSize
	if sectors < 1 {
		sectors = 1
	}
	return sectors
}
