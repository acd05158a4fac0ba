// Copyright (c) 2025 The Basalt Authors
//
// SPDX-License-Identifier: Apache-2.0

package volume

import (
	"fmt"
	"os"

	"github.com/basalt-project/basalt/pkg/crypto"
	"github.com/basalt-project/basalt/pkg/kdf"
	"github.com/basalt-project/basalt/pkg/rng"
)

// BackupHeadersOptions carries BackupHeaders' input.
type BackupHeadersOptions struct {
	VolumePath string
	BackupPath string
	Password   *kdf.Password
	Keyfiles   []kdf.Keyfile
}

// BackupHeaders exports a fresh-salt re-encryption of the volume's normal
// header, paired with a hidden-volume header slot, to an external file
// (spec §4.4 "Backup / restore headers"). The hidden slot is always filled
// with random bytes from the RNG pool; a hidden volume's header is not
// exported, whether or not the volume has one.
func BackupHeaders(opts BackupHeadersOptions) error {
	v, err := Open(opts.VolumePath, opts.Password, opts.Keyfiles, OpenOptions{ReadOnly: true})
	if err != nil {
		return err
	}
	defer func() { _ = v.Close() }()

	pool, err := rng.Global()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(opts.BackupPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600) // #nosec G304 -- caller-supplied backup destination
	if err != nil {
		return fmt.Errorf("basalt/volume: %w: %v", ErrSystemError, err)
	}
	defer func() { _ = out.Close() }()
	if err := out.Truncate(headerGroupSize); err != nil {
		return fmt.Errorf("basalt/volume: %w: %v", ErrSystemError, err)
	}

	masterKey := append([]byte(nil), v.header.MasterKey...)
	defer crypto.Wipe(masterKey)

	normalHeader := &Header{
		Magic:               MagicBasalt,
		Version:             v.header.Version,
		MinReaderVersion:    v.header.MinReaderVersion,
		VolumeCreationTime:  v.header.VolumeCreationTime,
		HeaderCreationTime:  v.header.HeaderCreationTime,
		HiddenVolumeSize:    v.header.HiddenVolumeSize,
		VolumeSize:          v.header.VolumeSize,
		MasterKeyDataOffset: v.header.MasterKeyDataOffset,
		MasterKeyDataLength: v.header.MasterKeyDataLength,
		SectorSize:          v.header.SectorSize,
		MasterKey:           masterKey,
	}
	plain, err := EncodeHeader(normalHeader, len(masterKey))
	if err != nil {
		return err
	}
	defer crypto.Wipe(plain)

	normalLayout := &Layout{Kind: LayoutV2Normal, HeaderOffset: 0, HasBackup: false}
	if err := encryptAndWriteHeaderGroup(out, pool, normalLayout, v.cascadeNm, v.kdfAlg, opts.Password, plain); err != nil {
		return err
	}

	// Hidden slot: random bytes from the RNG pool, written unconditionally,
	// so the backup file looks the same whether or not a hidden volume
	// exists.
	noise := make([]byte, SaltSize+HeaderSize)
	if err := pool.GetData(noise[:rng.PoolSize]); err != nil {
		return err
	}
	if err := pool.GetData(noise[rng.PoolSize:]); err != nil {
		return err
	}
	if _, err := out.WriteAt(noise, hiddenHeaderOffset); err != nil {
		return fmt.Errorf("basalt/volume: %w: %v", ErrSystemError, err)
	}

	return nil
}

// RestoreHeadersOptions carries RestoreHeaders' input.
type RestoreHeadersOptions struct {
	VolumePath string
	// SourcePath, when empty, restores from the volume's own internal V2
	// backup header; when set, restores from an external backup file
	// produced by BackupHeaders.
	SourcePath string
	Password   *kdf.Password
	Keyfiles   []kdf.Keyfile
}

// RestoreHeaders tries each layout against the source (internal backup
// header or external backup file) to find a match, then re-encrypts with
// a fresh salt and writes the recovered header back onto the volume
// (spec §4.4 "Backup / restore headers").
func RestoreHeaders(opts RestoreHeadersOptions) error {
	sourcePath := opts.SourcePath
	if sourcePath == "" {
		sourcePath = opts.VolumePath
	}

	src, err := os.OpenFile(sourcePath, os.O_RDONLY, 0) // #nosec G304 -- caller-supplied path
	if err != nil {
		return fmt.Errorf("basalt/volume: %w: %v", ErrSystemError, err)
	}
	defer func() { _ = src.Close() }()

	fi, err := src.Stat()
	if err != nil {
		return fmt.Errorf("basalt/volume: %w: %v", ErrSystemError, err)
	}

	h, cascadeNm, alg, err := findRestorableHeader(src, fi.Size(), opts.Password, opts.Keyfiles)
	if err != nil {
		return err
	}

	pool, err := rng.Global()
	if err != nil {
		return err
	}

	plain, err := EncodeHeader(h, len(h.MasterKey))
	if err != nil {
		return err
	}
	defer crypto.Wipe(plain)

	dst, err := os.OpenFile(opts.VolumePath, os.O_RDWR, 0) // #nosec G304 -- caller-supplied path
	if err != nil {
		return fmt.Errorf("basalt/volume: %w: %v", ErrSystemError, err)
	}
	defer func() { _ = dst.Close() }()

	layout := layoutByKind(LayoutV2Normal)
	return encryptAndWriteHeaderGroup(dst, pool, layout, cascadeNm, alg, opts.Password, plain)
}

func findRestorableHeader(f *os.File, fileSize int64, password *kdf.Password, keyfiles []kdf.Keyfile) (*Header, string, *kdf.Algorithm, error) {
	if err := kdf.ApplyKeyfiles(password, keyfiles); err != nil {
		return nil, "", nil, fmt.Errorf("basalt/volume: %w", err)
	}

	for _, layout := range Layouts {
		if layout.Kind != LayoutV2Normal && layout.Kind != LayoutV1Normal {
			continue
		}
		candidates := []int64{layout.HeaderOffset}
		if layout.HasBackup {
			candidates = append(candidates, layout.BackupOffset)
		}
		for _, headerOff := range candidates {
			probe := &Layout{Kind: layout.Kind, HeaderOffset: headerOff, AllowedMagics: layout.AllowedMagics}
			salt, encHeader, err := readHeaderGroup(f, probe, fileSize)
			if err != nil {
				continue
			}
			for _, alg := range kdf.Algorithms {
				for _, cascadeNm := range candidateCascadeNames() {
					h, cascade, err := tryDecrypt(probe, alg, cascadeNm, password, salt, encHeader)
					if err != nil {
						continue
					}
					cascade.Wipe()
					return h, cascadeNm, alg, nil
				}
			}
		}
	}
	return nil, "", nil, ErrPasswordIncorrect
}
