// Copyright (c) 2025 The Basalt Authors
//
// SPDX-License-Identifier: Apache-2.0

package volume

import (
	"fmt"
	"os"
	"time"

	"github.com/basalt-project/basalt/pkg/crypto"
	"github.com/basalt-project/basalt/pkg/kdf"
	"github.com/basalt-project/basalt/pkg/rng"
)

// FilesystemKind names the guest filesystem Create can lay onto the new
// data area. HFS+ is deferred to an external collaborator per spec §4.4.
type FilesystemKind string

const (
	FilesystemNone FilesystemKind = "None"
	FilesystemFAT  FilesystemKind = "FAT"
	FilesystemHFS  FilesystemKind = "MacOS-Ext"
)

// CreateOptions is the input to Create (spec §4.4 "Volume creation").
type CreateOptions struct {
	Path       string
	SizeBytes  int64
	Cascade    string // one of crypto.Cascades' keys
	KDF        *kdf.Algorithm
	Password   *kdf.Password
	Keyfiles   []kdf.Keyfile
	Filesystem FilesystemKind
	SectorSize uint32 // defaults to 512

	// Quick skips randomising the data area (spec §4.4 step 7); the data
	// area is left as whatever the filesystem already contains (zeros for
	// a freshly-allocated file).
	Quick bool

	// HiddenSizeBytes > 0 asks Create to additionally write a hidden
	// volume header at the V2 hidden offset, with its own password/KDF
	// carved out of the tail of the outer volume's data area.
	HiddenSizeBytes int64
	HiddenPassword  *kdf.Password
	HiddenKeyfiles  []kdf.Keyfile
	HiddenKDF       *kdf.Algorithm

	// Abort, if non-nil, is polled between data-area write batches; when
	// it reports true the write loop stops, the partial file is left on
	// disk, and Create returns ErrUserAbort (spec §5 "Cancellation").
	Abort func() bool

	// Progress, if non-nil, is called after each data-area write batch
	// with the number of bytes written so far.
	Progress func(written, total int64)
}

const defaultSectorSize = 512
const dataWriteBatchSize = 4 << 20 // 4 MiB

// Create implements spec §4.4's volume creation procedure.
func Create(opts CreateOptions) (*VolumeInfo, error) {
	if opts.KDF == nil {
		opts.KDF = kdf.ModernDefault()
	}
	if opts.KDF.Legacy {
		return nil, fmt.Errorf("basalt/volume: %w: legacy KDFs are never selected for new-volume creation", ErrParameterIncorrect)
	}
	if opts.Cascade == "" {
		opts.Cascade = "AES-256"
	}
	if opts.SectorSize == 0 {
		opts.SectorSize = defaultSectorSize
	}
	if opts.SizeBytes <= int64(2*headerGroupSize) {
		return nil, fmt.Errorf("basalt/volume: %w: volume size too small for the header group layout", ErrParameterIncorrect)
	}

	pool, err := rng.Global()
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(opts.Path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600) // #nosec G304 -- caller-supplied destination path
	if err != nil {
		return nil, fmt.Errorf("basalt/volume: %w: %v", ErrSystemError, err)
	}
	defer func() { _ = f.Close() }()

	if err := f.Truncate(opts.SizeBytes); err != nil {
		return nil, fmt.Errorf("basalt/volume: %w: %v", ErrSystemError, err)
	}

	layout := layoutByKind(LayoutV2Normal)
	dataStart := ResolveOffset(layout.DataAreaStart, opts.SizeBytes)
	dataEnd := ResolveOffset(layout.DataAreaEnd, opts.SizeBytes)

	if err := writeHeaderPair(f, pool, layout, opts.Cascade, opts.KDF, opts.Password, opts.Keyfiles,
		uint64(dataEnd-dataStart), 0, opts.SectorSize); err != nil {
		return nil, err
	}

	if opts.HiddenSizeBytes > 0 {
		if err := createHiddenVolume(f, pool, opts, dataEnd); err != nil {
			return nil, err
		}
	}

	if !opts.Quick {
		if err := randomiseDataArea(f, pool, dataStart, dataEnd, opts.Abort, opts.Progress); err != nil {
			return nil, err
		}
	}

	switch opts.Filesystem {
	case FilesystemFAT:
		if err := formatFAT(f, dataStart, dataEnd, opts.SectorSize); err != nil {
			return nil, err
		}
	case FilesystemHFS:
		return nil, fmt.Errorf("basalt/volume: %w: MacOS-Ext formatting is performed by the host filesystem collaborator (mount, run newfs, dismount)", ErrNotImplemented)
	}

	return &VolumeInfo{
		Path:           opts.Path,
		Cipher:         opts.Cascade,
		KDFName:        opts.KDF.Name,
		IterationCount: opts.KDF.IterationCount(),
		SizeBytes:      uint64(dataEnd - dataStart),
		SectorSize:     opts.SectorSize,
		Hidden:         false,
	}, nil
}

// writeHeaderPair derives the header key, builds and encrypts the header,
// and writes it at layout's primary offset and (if the layout has one) its
// backup offset (spec §4.4 steps 1-6).
func writeHeaderPair(f *os.File, pool *rng.Pool, layout *Layout, cascadeNm string, alg *kdf.Algorithm, password *kdf.Password, keyfiles []kdf.Keyfile, volumeSize, hiddenSize uint64, sectorSize uint32) error {
	if err := kdf.ApplyKeyfiles(password, keyfiles); err != nil {
		return fmt.Errorf("basalt/volume: %w", err)
	}

	keyAreaSize, err := crypto.KeyAreaSize(cascadeNm)
	if err != nil {
		return err
	}

	masterKey := make([]byte, keyAreaSize)
	if err := pool.GetData(masterKey); err != nil {
		return err
	}
	defer crypto.Wipe(masterKey)

	now := time.Now()
	h := &Header{
		Magic:               MagicBasalt,
		Version:             2,
		MinReaderVersion:    1,
		VolumeCreationTime:  now,
		HeaderCreationTime:  now,
		HiddenVolumeSize:    hiddenSize,
		VolumeSize:          volumeSize,
		MasterKeyDataOffset: offMasterKeyArea,
		MasterKeyDataLength: uint64(keyAreaSize),
		SectorSize:          sectorSize,
		MasterKey:           masterKey,
	}

	plain, err := EncodeHeader(h, keyAreaSize)
	if err != nil {
		return err
	}
	defer crypto.Wipe(plain)

	return encryptAndWriteHeaderGroup(f, pool, layout, cascadeNm, alg, password, plain)
}

// encryptAndWriteHeaderGroup derives the header key from a fresh salt,
// XTS-encrypts plain (the decrypted header), and writes salt||ciphertext
// at the layout's primary offset and, if present, its backup offset.
func encryptAndWriteHeaderGroup(f *os.File, pool *rng.Pool, layout *Layout, cascadeNm string, alg *kdf.Algorithm, password *kdf.Password, plain []byte) error {
	keyAreaSize, err := crypto.KeyAreaSize(cascadeNm)
	if err != nil {
		return err
	}

	salt := make([]byte, SaltSize)
	if err := pool.GetData(salt); err != nil {
		return err
	}

	headerKey, err := kdf.Derive(alg, password, salt, keyAreaSize)
	if err != nil {
		return err
	}
	defer crypto.Wipe(headerKey)

	headerCascade, err := crypto.NewCascade(cascadeNm, headerKey)
	if err != nil {
		return err
	}
	defer headerCascade.Wipe()

	cipher := append([]byte(nil), plain...)
	if err := headerCascade.EncryptSector(0, cipher); err != nil {
		return err
	}

	group := append(append([]byte(nil), salt...), cipher...)

	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("basalt/volume: %w: %v", ErrSystemError, err)
	}
	fileSize := fi.Size()

	primaryOff := ResolveOffset(layout.HeaderOffset, fileSize)
	if _, err := f.WriteAt(group, primaryOff); err != nil {
		return fmt.Errorf("basalt/volume: %w: %v", ErrSystemError, err)
	}

	if layout.HasBackup {
		backupOff := ResolveOffset(layout.BackupOffset, fileSize)
		if _, err := f.WriteAt(group, backupOff); err != nil {
			return fmt.Errorf("basalt/volume: %w: %v", ErrSystemError, err)
		}
	}

	return nil
}

func createHiddenVolume(f *os.File, pool *rng.Pool, opts CreateOptions, outerDataEnd int64) error {
	if opts.HiddenPassword == nil {
		return fmt.Errorf("basalt/volume: %w: hidden volume requested without a hidden password", ErrParameterIncorrect)
	}
	hiddenAlg := opts.HiddenKDF
	if hiddenAlg == nil {
		hiddenAlg = kdf.ModernDefault()
	}
	layout := layoutByKind(LayoutV2Hidden)
	return writeHeaderPair(f, pool, layout, opts.Cascade, hiddenAlg, opts.HiddenPassword, opts.HiddenKeyfiles,
		uint64(opts.HiddenSizeBytes), uint64(opts.HiddenSizeBytes), opts.SectorSize)
}

// randomiseDataArea overwrites [start, end) with cipher-randomised bytes:
// a one-off cascade keyed by fresh RNG output (not the volume's own master
// key) encrypting a counter stream, matching "use the master key itself as
// the encryption key of a separate random stream" from spec §4.4 step 7 —
// generalised to a fresh random key since the real master key must never
// be used to derive a predictable keystream outside the volume's own
// sector indices.
func randomiseDataArea(f *os.File, pool *rng.Pool, start, end int64, abort func() bool, progress func(written, total int64)) error {
	const cascadeNm = "AES-256"
	keyAreaSize, _ := crypto.KeyAreaSize(cascadeNm)
	streamKey := make([]byte, keyAreaSize)
	if err := pool.GetData(streamKey); err != nil {
		return err
	}
	defer crypto.Wipe(streamKey)

	streamCascade, err := crypto.NewCascade(cascadeNm, streamKey)
	if err != nil {
		return err
	}
	defer streamCascade.Wipe()

	total := end - start
	batch := make([]byte, dataWriteBatchSize)

	var written int64
	var sectorCounter uint64
	for off := start; off < end; off += int64(len(batch)) {
		if abort != nil && abort() {
			return ErrUserAbort
		}
		n := int64(len(batch))
		if off+n > end {
			n = end - off
		}
		chunk := batch[:n]
		for i := range chunk {
			chunk[i] = 0
		}
		const sectorSize = 512
		for s := int64(0); s < n; s += sectorSize {
			sub := chunk[s:minInt64(s+sectorSize, n)]
			padded := make([]byte, sectorSize)
			copy(padded, sub)
			if err := streamCascade.EncryptSector(sectorCounter, padded); err != nil {
				return err
			}
			copy(sub, padded[:len(sub)])
			sectorCounter++
		}

		if _, err := f.WriteAt(chunk, off); err != nil {
			return fmt.Errorf("basalt/volume: %w: %v", ErrSystemError, err)
		}
		written += n
		if progress != nil {
			progress(written, total)
		}
	}
	return nil
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
