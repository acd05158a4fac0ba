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

// defaultWipePassCount is the number of overwrite passes ChangePassword
// performs on the old header area before writing the new one, when the
// master key itself is also changing (spec §4.4 "Change password /
// change KDF").
const defaultWipePassCount = 256

// ChangePasswordOptions carries ChangePassword's input.
type ChangePasswordOptions struct {
	Path            string
	OldPassword     *kdf.Password
	OldKeyfiles     []kdf.Keyfile
	NewPassword     *kdf.Password
	NewKeyfiles     []kdf.Keyfile
	NewKDF          *kdf.Algorithm
	KeepMasterKey   bool // UpgradeKDF sets this true
	WipePassCount   int  // 0 selects the default (256, or 1 when KeepMasterKey)
}

// ChangePassword re-encrypts a volume's primary header (and its backup, if
// the layout has one): it opens the volume to recover the master key,
// optionally replaces that key, derives a fresh header key from the new
// password/keyfiles and a new salt, re-encrypts, and writes the new header
// group over the old one (spec §4.4). The update is not atomic: the old
// header groups are overwritten with random bytes first and the new header
// is written afterwards, so a failure between the two steps leaves no valid
// header in those groups.
func ChangePassword(opts ChangePasswordOptions) error {
	v, err := Open(opts.Path, opts.OldPassword, opts.OldKeyfiles, OpenOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = v.Close() }()

	pool, err := rng.Global()
	if err != nil {
		return err
	}

	masterKey := append([]byte(nil), v.header.MasterKey...)
	defer crypto.Wipe(masterKey)

	if !opts.KeepMasterKey {
		keyAreaSize, err := crypto.KeyAreaSize(v.cascadeNm)
		if err != nil {
			return err
		}
		masterKey = make([]byte, keyAreaSize)
		if err := pool.GetData(masterKey); err != nil {
			return err
		}
	}

	wipePasses := opts.WipePassCount
	if wipePasses == 0 {
		wipePasses = defaultWipePassCount
		if opts.KeepMasterKey {
			wipePasses = 1
		}
	}

	newAlg := opts.NewKDF
	if newAlg == nil {
		newAlg = kdf.ModernDefault()
	}
	if newAlg.Legacy {
		return fmt.Errorf("basalt/volume: %w: legacy KDFs cannot be selected when changing a password", ErrParameterIncorrect)
	}
	if err := kdf.ApplyKeyfiles(opts.NewPassword, opts.NewKeyfiles); err != nil {
		return fmt.Errorf("basalt/volume: %w", err)
	}

	newHeader := &Header{
		Magic:               MagicBasalt,
		Version:             v.header.Version,
		MinReaderVersion:    v.header.MinReaderVersion,
		VolumeCreationTime:  v.header.VolumeCreationTime,
		HeaderCreationTime:  v.header.VolumeCreationTime, // set to the volume creation time; not refreshed here
		HiddenVolumeSize:    v.header.HiddenVolumeSize,
		VolumeSize:          v.header.VolumeSize,
		MasterKeyDataOffset: v.header.MasterKeyDataOffset,
		MasterKeyDataLength: v.header.MasterKeyDataLength,
		SectorSize:          v.header.SectorSize,
		MasterKey:           masterKey,
	}

	keyAreaSize := len(masterKey)
	plain, err := EncodeHeader(newHeader, keyAreaSize)
	if err != nil {
		return err
	}
	defer crypto.Wipe(plain)

	f, err := os.OpenFile(opts.Path, os.O_RDWR, 0) // #nosec G304 -- already validated by the Open above
	if err != nil {
		return fmt.Errorf("basalt/volume: %w: %v", ErrSystemError, err)
	}
	defer func() { _ = f.Close() }()

	if err := wipeHeaderGroup(f, v.layout, wipePasses); err != nil {
		return err
	}

	return encryptAndWriteHeaderGroup(f, pool, v.layout, v.cascadeNm, newAlg, opts.NewPassword, plain)
}

// UpgradeKDF re-encrypts the header with the modern default KDF, keeping
// the existing password and master key unchanged — the "re-encrypt header
// with modern KDF" operation spec §4.2's upgrade path offers.
func UpgradeKDF(path string, password *kdf.Password, keyfiles []kdf.Keyfile) error {
	return ChangePassword(ChangePasswordOptions{
		Path:          path,
		OldPassword:   password,
		OldKeyfiles:   keyfiles,
		NewPassword:   password,
		NewKeyfiles:   nil,
		NewKDF:        kdf.ModernDefault(),
		KeepMasterKey: true,
		WipePassCount: 1,
	})
}

// wipeHeaderGroup overwrites the primary (and, if present, backup) header
// group passes times with fresh RNG output before the new header is
// written, so no trace of the old header key material survives on disk.
func wipeHeaderGroup(f *os.File, layout *Layout, passes int) error {
	pool, err := rng.Global()
	if err != nil {
		return err
	}

	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("basalt/volume: %w: %v", ErrSystemError, err)
	}
	fileSize := fi.Size()

	offsets := []int64{ResolveOffset(layout.HeaderOffset, fileSize)}
	if layout.HasBackup {
		offsets = append(offsets, ResolveOffset(layout.BackupOffset, fileSize))
	}

	buf := make([]byte, SaltSize+HeaderSize)
	for p := 0; p < passes; p++ {
		if err := pool.GetData(buf[:rng.PoolSize]); err != nil {
			return err
		}
		if len(buf) > rng.PoolSize {
			if err := pool.GetData(buf[rng.PoolSize:]); err != nil {
				return err
			}
		}
		for _, off := range offsets {
			if _, err := f.WriteAt(buf, off); err != nil {
				return fmt.Errorf("basalt/volume: %w: %v", ErrSystemError, err)
			}
		}
	}
	return nil
}
