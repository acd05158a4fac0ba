// Copyright (c) 2025 The Basalt Authors
//
// SPDX-License-Identifier: Apache-2.0

package volume

import "errors"

// Error taxonomy (spec §7) — disjoint sentinel values, wrapped with %w so
// callers can match with errors.Is regardless of which layer raised them.
var (
	// ErrPasswordIncorrect covers both a wrong password and a wrong
	// password+keyfile combination: no candidate (layout × KDF × cipher ×
	// mode) decrypted either header. Deliberately indistinguishable from a
	// corrupt volume.
	ErrPasswordIncorrect = errors.New("password incorrect")

	ErrVolumeAlreadyMounted   = errors.New("volume already mounted")
	ErrVolumeInUse            = errors.New("volume in use")
	ErrMountPointUnavailable  = errors.New("mount point unavailable")
	ErrVolumeFormatBad        = errors.New("volume format bad")
	ErrVolumeReadOnly         = errors.New("volume is read-only")
	ErrVolumeProtected        = errors.New("hidden volume protected")
	ErrParameterIncorrect     = errors.New("parameter incorrect")
	ErrSystemError            = errors.New("system error")
	ErrUserAbort              = errors.New("operation aborted")
	ErrNotImplemented         = errors.New("not implemented")
	ErrTestFailed             = errors.New("self-test failed")
	ErrVeraCryptCipherUnsupported = errors.New("veracrypt cipher not supported")
)
