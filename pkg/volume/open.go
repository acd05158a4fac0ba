// Copyright (c) 2025 The Basalt Authors
//
// SPDX-License-Identifier: Apache-2.0

package volume

import (
	"errors"
	"fmt"
	"os"

	"github.com/basalt-project/basalt/pkg/crypto"
	"github.com/basalt-project/basalt/pkg/kdf"
)

// OpenOptions carries the caller's access intent (spec §4.4 step 1).
type OpenOptions struct {
	ReadOnly bool

	// HiddenProtectionPassword, when set, asks Open to also locate a
	// hidden volume inside the outer volume and write-protect its data
	// range for the duration of the mount (spec §4.4 scenario 5). Leave
	// nil for a plain mount.
	HiddenProtectionPassword *kdf.Password
	HiddenProtectionKeyfiles []kdf.Keyfile

	// PreserveTimestamps asks Open to restore the volume file's atime and
	// mtime after reading the header groups (spec §4.4 step 1).
	PreserveTimestamps bool

	// UseBackupHeaders asks Open to try each layout's backup header
	// location instead of its primary one — the CLI's
	// --use-backup-headers flag, for mounting when the primary header
	// group is damaged (spec §6).
	UseBackupHeaders bool
}

// protectedRange marks a hidden volume's data extent as off-limits to
// writes through the outer mount (spec §4.4 scenario 5).
type protectedRange struct {
	start, end int64 // absolute byte offsets within the file
	header     *Header
}

// Volume is an opened, decrypted volume: a file handle, the cascade
// scheduled from its master key, and the layout that located it. Volume
// owns Header and Cascade outright (spec §9's tree-ownership redesign);
// Layout is a shared static value.
type Volume struct {
	file       *os.File
	path       string
	layout     *Layout
	header     *Header
	cascade    *crypto.Cascade
	cascadeNm  string
	kdfAlg     *kdf.Algorithm
	sectorSize uint32

	dataAreaStart int64
	dataAreaEnd   int64

	readOnly  bool
	protected *protectedRange

	bytesRead    uint64
	bytesWritten uint64
}

// candidateCascadeNames lists every cascade Open tries against a header
// group, in the fixed order allCascadeNames returns.
func candidateCascadeNames() []string {
	return allCascadeNames()
}

// Open implements spec §4.4's "opening a volume" procedure: it reads both
// header groups the candidate layouts name and tries every (layout × KDF ×
// cascade) combination, legacy KDFs first, until one decrypts and
// validates. All candidates failing is reported as ErrPasswordIncorrect,
// indistinguishable from a corrupt volume by design.
func Open(path string, password *kdf.Password, keyfiles []kdf.Keyfile, opts OpenOptions) (*Volume, error) {
	if err := kdf.ApplyKeyfiles(password, keyfiles); err != nil {
		return nil, fmt.Errorf("basalt/volume: %w", err)
	}

	flag := os.O_RDWR
	if opts.ReadOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0) // #nosec G304 -- caller-supplied volume path, the whole point of Open
	if err != nil {
		return nil, fmt.Errorf("basalt/volume: %w: %v", ErrSystemError, err)
	}

	var stat os.FileInfo
	if stat, err = f.Stat(); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("basalt/volume: %w: %v", ErrSystemError, err)
	}
	fileSize := stat.Size()

	origAtime, origMtime, hadTimes := statTimes(stat)

	h, cascade, cascadeNm, alg, layout, err := tryAllCandidates(f, fileSize, password, opts.UseBackupHeaders)
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	v := &Volume{
		file:       f,
		path:       path,
		layout:     layout,
		header:     h,
		cascade:    cascade,
		cascadeNm:  cascadeNm,
		kdfAlg:     alg,
		sectorSize: h.SectorSize,
		readOnly:   opts.ReadOnly,
	}
	v.dataAreaStart = resolveDataAreaStart(layout, h, fileSize)
	v.dataAreaEnd = resolveDataAreaEnd(layout, fileSize)

	if opts.HiddenProtectionPassword != nil {
		prot, err := locateHiddenForProtection(f, fileSize, opts.HiddenProtectionPassword, opts.HiddenProtectionKeyfiles)
		if err != nil {
			v.cascade.Wipe()
			_ = f.Close()
			return nil, err
		}
		v.protected = prot
	}

	if opts.PreserveTimestamps && hadTimes {
		defer restoreTimes(path, origAtime, origMtime)
	}

	return v, nil
}

// tryAllCandidates iterates layouts, then KDFs in open-trial order, then
// cascades, decrypting each header group candidate until one validates. When
// useBackup is set, layouts without a backup header are skipped entirely.
func tryAllCandidates(f *os.File, fileSize int64, password *kdf.Password, useBackup bool) (*Header, *crypto.Cascade, string, *kdf.Algorithm, *Layout, error) {
	for _, layout := range Layouts {
		if useBackup && !layout.HasBackup {
			continue
		}
		salt, encHeader, err := readHeaderGroupAt(f, layout, fileSize, useBackup)
		if err != nil {
			continue // layout's offsets don't fit this file size
		}

		for _, alg := range kdf.Algorithms {
			for _, cascadeNm := range candidateCascadeNames() {
				h, cascade, err := tryDecrypt(layout, alg, cascadeNm, password, salt, encHeader)
				if err != nil {
					// A header that decrypted and checksummed but whose
					// master key fails the XTS key-equality invariant IS
					// the right candidate, just a broken one — surface
					// ErrParameterIncorrect immediately instead of
					// masking it as a wrong guess (spec §8 "XTS key
					// equality").
					if errors.Is(err, ErrParameterIncorrect) {
						return nil, nil, "", nil, nil, err
					}
					continue
				}
				return h, cascade, cascadeNm, alg, layout, nil
			}
		}
	}
	return nil, nil, "", nil, nil, ErrPasswordIncorrect
}

// tryDecrypt derives a header key for one (KDF, cascade) candidate, XTS-
// decrypts the header sector with it, and validates magic + both CRC32s
// (spec §4.4 step 3).
func tryDecrypt(layout *Layout, alg *kdf.Algorithm, cascadeNm string, password *kdf.Password, salt, encHeader []byte) (*Header, *crypto.Cascade, error) {
	keyAreaSize, err := crypto.KeyAreaSize(cascadeNm)
	if err != nil {
		return nil, nil, err
	}

	headerKey, err := kdf.Derive(alg, password, salt, keyAreaSize)
	if err != nil {
		return nil, nil, err
	}
	defer crypto.Wipe(headerKey)

	headerCascade, err := crypto.NewCascade(cascadeNm, headerKey)
	if err != nil {
		return nil, nil, err
	}

	plain := append([]byte(nil), encHeader...)
	if err := headerCascade.DecryptSector(0, plain); err != nil {
		headerCascade.Wipe()
		return nil, nil, err
	}

	h, err := DecodeHeader(plain, keyAreaSize, layout.AllowedMagics)
	if err != nil {
		headerCascade.Wipe()
		return nil, nil, err
	}

	masterCascade, err := crypto.NewCascade(cascadeNm, h.MasterKey)
	headerCascade.Wipe()
	if err != nil {
		return nil, nil, fmt.Errorf("basalt/volume: %w", ErrParameterIncorrect)
	}

	h.Cascade = cascadeNm
	h.KDFName = alg.Name
	h.Legacy = alg.Legacy
	return h, masterCascade, nil
}

// locateHiddenForProtection runs the same trial loop restricted to hidden
// layouts, using the hidden-volume password, to find the protected range
// for scenario 5's write-protection behaviour.
func locateHiddenForProtection(f *os.File, fileSize int64, password *kdf.Password, keyfiles []kdf.Keyfile) (*protectedRange, error) {
	if err := kdf.ApplyKeyfiles(password, keyfiles); err != nil {
		return nil, fmt.Errorf("basalt/volume: %w", err)
	}

	for _, layout := range []*Layout{layoutByKind(LayoutV2Hidden), layoutByKind(LayoutV1Hidden)} {
		if layout == nil {
			continue
		}
		salt, encHeader, err := readHeaderGroup(f, layout, fileSize)
		if err != nil {
			continue
		}
		for _, alg := range kdf.Algorithms {
			for _, cascadeNm := range candidateCascadeNames() {
				h, cascade, err := tryDecrypt(layout, alg, cascadeNm, password, salt, encHeader)
				if err != nil {
					continue
				}
				cascade.Wipe()
				end := ResolveOffset(layout.DataAreaEnd, fileSize)
				if layout.DataAreaEnd == 0 {
					end = fileSize
				}
				start := end - int64(h.HiddenVolumeSize)
				return &protectedRange{start: start, end: end, header: h}, nil
			}
		}
	}
	return nil, fmt.Errorf("basalt/volume: %w: no hidden volume found with the supplied protection password", ErrPasswordIncorrect)
}

func layoutByKind(kind LayoutKind) *Layout {
	for _, l := range Layouts {
		if l.Kind == kind {
			return l
		}
	}
	return nil
}

// readHeaderGroup reads the SaltSize-byte plaintext salt and the
// HeaderSize-byte encrypted header at layout's resolved primary offset.
func readHeaderGroup(f *os.File, layout *Layout, fileSize int64) (salt, encHeader []byte, err error) {
	return readHeaderGroupAt(f, layout, fileSize, false)
}

// readHeaderGroupAt is readHeaderGroup, optionally reading the backup
// offset instead of the primary one.
func readHeaderGroupAt(f *os.File, layout *Layout, fileSize int64, useBackup bool) (salt, encHeader []byte, err error) {
	headerOffset := layout.HeaderOffset
	if useBackup {
		headerOffset = layout.BackupOffset
	}
	off := ResolveOffset(headerOffset, fileSize)
	if off < 0 || off+SaltSize+HeaderSize > fileSize {
		return nil, nil, fmt.Errorf("basalt/volume: layout %s does not fit a %d-byte file", layout.Kind, fileSize)
	}

	buf := make([]byte, SaltSize+HeaderSize)
	if _, err := f.ReadAt(buf, off); err != nil {
		return nil, nil, fmt.Errorf("basalt/volume: %w: %v", ErrSystemError, err)
	}
	return buf[:SaltSize], buf[SaltSize:], nil
}

func resolveDataAreaStart(layout *Layout, h *Header, fileSize int64) int64 {
	if layout.Kind == LayoutV2Hidden || layout.Kind == LayoutV1Hidden {
		end := resolveDataAreaEnd(layout, fileSize)
		return end - int64(h.HiddenVolumeSize)
	}
	return ResolveOffset(layout.DataAreaStart, fileSize)
}

func resolveDataAreaEnd(layout *Layout, fileSize int64) int64 {
	if layout.DataAreaEnd == 0 {
		return fileSize
	}
	return ResolveOffset(layout.DataAreaEnd, fileSize)
}
