// Copyright (c) 2025 The Basalt Authors
//
// SPDX-License-Identifier: Apache-2.0

package volume

import "github.com/basalt-project/basalt/pkg/kdf"

// LayoutKind names one of the four layout variants spec §3 lists.
type LayoutKind string

const (
	LayoutV1Normal LayoutKind = "V1Normal"
	LayoutV1Hidden LayoutKind = "V1Hidden"
	LayoutV2Normal LayoutKind = "V2Normal"
	LayoutV2Hidden LayoutKind = "V2Hidden"
)

// headerGroupSize is the reserved region, at the start (and, for V2, the
// end) of a volume file, that carries a header plus its hidden-volume
// counterpart (spec §6).
const headerGroupSize = 131072

// hiddenHeaderOffset is the byte offset of a hidden volume's header inside
// its outer volume's header group, relative to the group's own start
// (spec §6: "offset 65,536 from primary; file-size − 65,536 from backup").
const hiddenHeaderOffset = 65536

// Layout describes one on-disk arrangement of header(s) and data area. It
// is a pure value selected at open time and shared by reference — spec
// §9's "tree ownership" redesign of the original's shared-pointer
// Volume↔VolumeLayout↔VolumeHeader graph.
type Layout struct {
	Kind LayoutKind

	// HeaderOffset is this layout's primary header location. A negative
	// value means "from end of file" (spec §3).
	HeaderOffset int64

	// BackupOffset is the backup header's location, or 0 with HasBackup
	// false for layouts (V1) that keep none.
	HasBackup    bool
	BackupOffset int64

	// DataAreaStart/DataAreaEnd bound the layout's data area. DataAreaEnd
	// of 0 means "to end of file" (resolved against the real file size at
	// open/create time).
	DataAreaStart int64
	DataAreaEnd   int64

	// AllowedMagics lists the magic tags a reader accepts for this layout.
	AllowedMagics []string

	// SupportedCascades and SupportedKDFs intersect the global cipher and
	// KDF sets to what this layout's on-disk format can express.
	SupportedCascades []string
	SupportedKDFs     []*kdf.Algorithm
}

// Layouts is the fixed table of every layout variant Basalt tries when
// opening a volume, in probe order: V2 (current format) before V1
// (TrueCrypt 7.1a legacy), normal before hidden — normal volumes vastly
// outnumber hidden ones in practice.
var Layouts = []*Layout{
	{
		Kind:              LayoutV2Normal,
		HeaderOffset:      0,
		HasBackup:         true,
		BackupOffset:      -headerGroupSize,
		DataAreaStart:     headerGroupSize,
		DataAreaEnd:       -headerGroupSize,
		AllowedMagics:     []string{MagicBasalt, MagicTrueCrypt, MagicVeraCrypt},
		SupportedCascades: allCascadeNames(),
		SupportedKDFs:     kdf.Algorithms,
	},
	{
		Kind:              LayoutV2Hidden,
		HeaderOffset:      hiddenHeaderOffset,
		HasBackup:         true,
		BackupOffset:      -headerGroupSize + hiddenHeaderOffset,
		DataAreaStart:     0, // resolved at open time from the outer header's HiddenVolumeSize
		DataAreaEnd:       -headerGroupSize,
		AllowedMagics:     []string{MagicBasalt, MagicTrueCrypt, MagicVeraCrypt},
		SupportedCascades: allCascadeNames(),
		SupportedKDFs:     kdf.Algorithms,
	},
	{
		Kind:              LayoutV1Normal,
		HeaderOffset:      0,
		HasBackup:         false,
		DataAreaStart:     headerGroupSize,
		DataAreaEnd:       0,
		AllowedMagics:     []string{MagicTrueCrypt, MagicVeraCrypt},
		SupportedCascades: allCascadeNames(),
		SupportedKDFs:     kdf.Algorithms,
	},
	{
		Kind:              LayoutV1Hidden,
		HeaderOffset:      hiddenHeaderOffset,
		HasBackup:         false,
		DataAreaStart:     0,
		DataAreaEnd:       0,
		AllowedMagics:     []string{MagicTrueCrypt, MagicVeraCrypt},
		SupportedCascades: allCascadeNames(),
		SupportedKDFs:     kdf.Algorithms,
	},
}

func allCascadeNames() []string {
	names := make([]string, 0, 8)
	names = append(names,
		"AES-256", "Serpent-256", "Twofish-256",
		"AES-Twofish", "AES-Twofish-Serpent",
		"Serpent-AES", "Serpent-Twofish-AES", "Twofish-Serpent",
	)
	return names
}

// ResolveOffset turns a possibly-negative (from-end) offset into an
// absolute byte offset against a file of the given size.
func ResolveOffset(offset int64, fileSize int64) int64 {
	if offset < 0 {
		return fileSize + offset
	}
	return offset
}
