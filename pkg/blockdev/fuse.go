// Copyright (c) 2025 The Basalt Authors
//
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package blockdev

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/basalt-project/basalt/pkg/volume"
)

// FileBackend is the kernel-FUSE-file back-end (spec §4.5): a single
// regular file in a temporary mount, "volume", whose read/write
// callbacks dispatch straight through the abstract Service, plus a
// read-only "control" file exposing the mounted VolumeInfo to any
// process willing to read it. Concurrency is whatever the go-fuse
// server gives us; the Service's own mutex still serialises every
// ReadAt/WriteAt onto a single critical section (spec §4.5
// "Concurrency").
type FileBackend struct {
	svc        *Service
	server     *fuse.Server
	mountPoint string
}

// NewFileBackend wraps svc in a FileBackend. The backend does not own
// svc's lifetime; call Unmount before discarding it.
func NewFileBackend(svc *Service) *FileBackend {
	return &FileBackend{svc: svc}
}

// Mount attaches the back-end at mountPoint, which must already exist
// and must not be one of the forbidden system paths (spec §8
// "Mount-point protection" — checked before any disk I/O).
func (b *FileBackend) Mount(mountPoint string) error {
	if err := CheckMountPoint(mountPoint); err != nil {
		return err
	}

	root := &rootNode{svc: b.svc}
	server, err := fs.Mount(mountPoint, root, &fs.Options{
		MountOptions: fuse.MountOptions{
			FsName:         "basalt",
			Name:           "basalt",
			SingleThreaded: true,
		},
	})
	if err != nil {
		return fmt.Errorf("basalt/blockdev: %w: %v", volume.ErrSystemError, err)
	}

	b.server = server
	b.mountPoint = mountPoint
	return nil
}

// MountPoint returns the attached device path recorded at Mount time
// (spec §4.5 "an aux mount point records the attached device path").
func (b *FileBackend) MountPoint() string { return b.mountPoint }

// Unmount dismounts the Service first, so no ReadAt/WriteAt can be
// mid-flight, then unmounts the FUSE filesystem.
func (b *FileBackend) Unmount() error {
	if b.server == nil {
		return nil
	}
	b.svc.Dismount()
	if err := b.server.Unmount(); err != nil {
		return fmt.Errorf("basalt/blockdev: %w: %v", volume.ErrSystemError, err)
	}
	return nil
}

// Wait blocks until the kernel has told go-fuse the filesystem is
// unmounted, for callers that mount in a background goroutine.
func (b *FileBackend) Wait() {
	if b.server != nil {
		b.server.Wait()
	}
}

// rootNode is the pseudo-filesystem root: exactly two entries, "volume"
// and "control" (spec §4.5's NFS loopback back-end names the same
// two-entry layout; the FUSE back-end mirrors it for consistency).
type rootNode struct {
	fs.Inode
	svc *Service
}

var _ fs.NodeOnAdder = (*rootNode)(nil)

func (r *rootNode) OnAdd(ctx context.Context) {
	volChild := r.NewPersistentInode(ctx, &volumeNode{svc: r.svc}, fs.StableAttr{Mode: fuse.S_IFREG})
	r.AddChild("volume", volChild, false)

	ctrlChild := r.NewPersistentInode(ctx, &controlNode{svc: r.svc}, fs.StableAttr{Mode: fuse.S_IFREG})
	r.AddChild("control", ctrlChild, false)
}

// volumeNode is the "volume" file: its read/write callbacks are wired
// directly to Service.ReadAt / Service.WriteAt, which in turn dispatch
// to Volume.ReadSectors / Volume.WriteSectors (spec §4.5).
type volumeNode struct {
	fs.Inode
	svc *Service
}

var (
	_ fs.NodeGetattrer = (*volumeNode)(nil)
	_ fs.NodeOpener    = (*volumeNode)(nil)
	_ fs.NodeReader    = (*volumeNode)(nil)
	_ fs.NodeWriter    = (*volumeNode)(nil)
)

func (n *volumeNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = fuse.S_IFREG | 0o600
	out.Size = n.svc.SizeBytes()
	return 0
}

func (n *volumeNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	return nil, fuse.FOPEN_DIRECT_IO, 0
}

func (n *volumeNode) Read(ctx context.Context, f fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	read, err := n.svc.ReadAt(dest, off)
	if err != nil {
		return nil, syscall.EIO
	}
	return fuse.ReadResultData(dest[:read]), 0
}

func (n *volumeNode) Write(ctx context.Context, f fs.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	written, err := n.svc.WriteAt(data, off)
	if err != nil {
		if errors.Is(err, volume.ErrVolumeProtected) || errors.Is(err, volume.ErrVolumeReadOnly) {
			return 0, syscall.EROFS
		}
		return 0, syscall.EIO
	}
	return uint32(written), 0
}

// controlNode is the out-of-band "control" file: a read-only snapshot
// of VolumeInfo, encoded the same key=value way the mount registry
// encodes a record (spec §4.5 "a control file exposes serialised
// VolumeInfo to cooperating processes").
type controlNode struct {
	fs.Inode
	svc *Service
}

var (
	_ fs.NodeGetattrer = (*controlNode)(nil)
	_ fs.NodeOpener    = (*controlNode)(nil)
	_ fs.NodeReader    = (*controlNode)(nil)
)

func (n *controlNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = fuse.S_IFREG | 0o400
	out.Size = uint64(len(n.contents()))
	return 0
}

func (n *controlNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	return nil, fuse.FOPEN_DIRECT_IO, 0
}

func (n *controlNode) Read(ctx context.Context, f fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	content := n.contents()
	if off >= int64(len(content)) {
		return fuse.ReadResultData(nil), 0
	}
	end := off + int64(len(dest))
	if end > int64(len(content)) {
		end = int64(len(content))
	}
	return fuse.ReadResultData([]byte(content[off:end])), 0
}

func (n *controlNode) contents() string {
	info := n.svc.Info()
	var b strings.Builder
	fmt.Fprintf(&b, "path=%s\n", info.Path)
	fmt.Fprintf(&b, "size=%d\n", info.SizeBytes)
	fmt.Fprintf(&b, "sectorsize=%d\n", info.SectorSize)
	fmt.Fprintf(&b, "cipher=%s\n", info.Cipher)
	fmt.Fprintf(&b, "pkcs5=%s\n", info.KDFName)
	fmt.Fprintf(&b, "hidden=%t\n", info.Hidden)
	fmt.Fprintf(&b, "readonly=%t\n", info.ReadOnly)
	return b.String()
}
