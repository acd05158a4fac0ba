// Copyright (c) 2025 The Basalt Authors
//
// SPDX-License-Identifier: Apache-2.0

// Package blockdev implements the virtual block device service (spec
// §4.5): the abstract read/write contract shared by every transport that
// presents a mounted Volume to a guest filesystem, plus the concrete
// back-ends (kernel-FUSE file, NFSv4 loopback, iSCSI loopback).
package blockdev

import (
	"errors"
	"fmt"
	"sync"

	"github.com/basalt-project/basalt/pkg/volume"
)

// ErrForbiddenMountPoint is returned when a mount is attempted onto one
// of the well-known system paths spec §8 names (spec §8 "Mount-point
// protection"). It is checked before any disk I/O.
var ErrForbiddenMountPoint = errors.New("mount point forbidden")

// forbiddenMountPoints are checked verbatim: a request to mount onto any
// of these must fail before the service opens or touches the volume.
var forbiddenMountPoints = map[string]bool{
	"/":        true,
	"/usr":     true,
	"/bin":     true,
	"/etc":     true,
	"/System":  true,
	"/Library": true,
}

// CheckMountPoint enforces the mount-point protection property: callers
// must invoke it before any back-end attaches to mountPoint.
func CheckMountPoint(mountPoint string) error {
	if forbiddenMountPoints[mountPoint] {
		return fmt.Errorf("basalt/blockdev: %w: %s", ErrForbiddenMountPoint, mountPoint)
	}
	return nil
}

// Service is the abstract sector-aligned read/write contract every
// back-end dispatches through (spec §4.5 "Abstract contract"). It
// accepts requests of arbitrary offset and length, aligns them to the
// volume's sector size, and serialises all access behind one mutex so
// that a back-end admitting multiple connections never issues
// overlapping requests to the underlying Volume.
type Service struct {
	mu  sync.Mutex
	vol *volume.Volume

	dismounted bool
}

// New wraps vol in a Service. The Service takes no ownership of vol's
// lifetime: callers still call vol.Close() themselves, typically after
// Dismount returns.
func New(vol *volume.Volume) *Service {
	return &Service{vol: vol}
}

// SizeBytes and SectorSize answer the service's metadata calls (spec
// §4.5 "It reports volume size and sector size").
func (s *Service) SizeBytes() uint64  { return s.vol.Info().SizeBytes }
func (s *Service) SectorSize() uint32 { return s.vol.Info().SectorSize }

// ReadAt satisfies an arbitrary-alignment read request: unaligned
// offset/length is widened to the enclosing sector-aligned extent, that
// extent is read and decrypted, and the requested sub-range is copied
// into p (spec §4.5 "if an incoming request is not sector-aligned, the
// service computes the aligned extent... and copies the relevant
// sub-range").
func (s *Service) ReadAt(p []byte, off int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dismounted {
		return 0, fmt.Errorf("basalt/blockdev: %w", ErrDismounted)
	}

	sectorSize := int64(s.SectorSize())
	alignedOff := (off / sectorSize) * sectorSize
	alignedEnd := ((off + int64(len(p)) + sectorSize - 1) / sectorSize) * sectorSize

	buf := make([]byte, alignedEnd-alignedOff)
	if err := s.vol.ReadSectors(buf, alignedOff); err != nil {
		return 0, err
	}

	skip := off - alignedOff
	n := copy(p, buf[skip:skip+int64(len(p))])
	return n, nil
}

// WriteAt is ReadAt's write-side counterpart: it performs a
// read-modify-write cycle over the aligned extent so a partial-sector
// write never clobbers the untouched remainder of that sector.
func (s *Service) WriteAt(p []byte, off int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dismounted {
		return 0, fmt.Errorf("basalt/blockdev: %w", ErrDismounted)
	}

	sectorSize := int64(s.SectorSize())
	alignedOff := (off / sectorSize) * sectorSize
	alignedEnd := ((off + int64(len(p)) + sectorSize - 1) / sectorSize) * sectorSize

	buf := make([]byte, alignedEnd-alignedOff)
	if alignedOff != off || alignedEnd != off+int64(len(p)) {
		if err := s.vol.ReadSectors(buf, alignedOff); err != nil {
			return 0, err
		}
	}

	skip := off - alignedOff
	copy(buf[skip:], p)
	if err := s.vol.WriteSectors(buf, alignedOff); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Info returns the mounted volume's metadata snapshot, for a back-end's
// control-file channel (spec §4.5 "a control file exposes serialised
// VolumeInfo to cooperating processes").
func (s *Service) Info() volume.VolumeInfo {
	return s.vol.Info()
}

// Dismount guarantees no in-flight sector request will issue after it
// returns (spec §4.5): it takes the service mutex, so it cannot return
// while a ReadAt/WriteAt is in progress, and every call after it
// observes dismounted and fails fast.
func (s *Service) Dismount() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dismounted = true
}
