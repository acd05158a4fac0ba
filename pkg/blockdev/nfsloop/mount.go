// Copyright (c) 2025 The Basalt Authors
//
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package nfsloop

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/basalt-project/basalt/pkg/blockdev"
)

// Backend pairs a Server with the local NFS mount that consumes it,
// mirroring blockdev.FileBackend's Mount/Unmount shape so the CLI can
// treat either transport identically (spec §4.5 "Same contract").
type Backend struct {
	server     *Server
	mountPoint string
}

// NewBackend starts listening but does not yet mount; call Mount once
// the listener's ephemeral port is known to the OS collaborator.
func NewBackend(svc *blockdev.Service) (*Backend, error) {
	server, err := New(svc)
	if err != nil {
		return nil, err
	}
	return &Backend{server: server}, nil
}

// Mount runs Serve on a background goroutine and mounts mountPoint
// against the loopback NFSv4 export (spec §8 "Mount-point protection"
// is checked first, before the listener is ever dialed into).
func (b *Backend) Mount(mountPoint string) error {
	if err := blockdev.CheckMountPoint(mountPoint); err != nil {
		return err
	}

	go func() { _ = b.server.Serve() }()

	_, port, err := splitHostPort(b.server.Addr().String())
	if err != nil {
		return fmt.Errorf("nfsloop: %w", err)
	}
	data := "nfsvers=4,port=" + port + ",tcp,soft"
	if err := unix.Mount("127.0.0.1:/", mountPoint, "nfs", 0, data); err != nil {
		return fmt.Errorf("nfsloop: mount syscall failed: %w", err)
	}

	b.mountPoint = mountPoint
	return nil
}

// MountPoint returns the attached mount point.
func (b *Backend) MountPoint() string { return b.mountPoint }

// Unmount unmounts the filesystem and stops the server, guaranteeing no
// in-flight sector request issues after it returns (spec §4.5).
func (b *Backend) Unmount() error {
	if b.mountPoint != "" {
		if err := unix.Unmount(b.mountPoint, 0); err != nil {
			return fmt.Errorf("nfsloop: unmount syscall failed: %w", err)
		}
	}
	return b.server.Close()
}

func splitHostPort(addr string) (host, port string, err error) {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i], addr[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("address %q has no port", addr)
}
