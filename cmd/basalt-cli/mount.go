// Copyright (c) 2025 The Basalt Authors
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/basalt-project/basalt/pkg/blockdev"
	"github.com/basalt-project/basalt/pkg/blockdev/iscsiloop"
	"github.com/basalt-project/basalt/pkg/blockdev/nfsloop"
	"github.com/basalt-project/basalt/pkg/crypto"
	"github.com/basalt-project/basalt/pkg/registry"
	"github.com/basalt-project/basalt/pkg/volume"
)

// mountedBackend is the shape blockdev.FileBackend and nfsloop.Backend have
// in common: the two interchangeable back-ends a mount command can drive
// (spec §4.5 "Same contract"). iscsiloop.Target never reaches this
// interface because it has no working Mount/Unmount yet (see its own doc
// comment).
type mountedBackend interface {
	MountPoint() string
	Unmount() error
}

// cmdMount opens a volume, attaches one of the block-device back-ends at
// the given mount point, registers the mount so other processes can see and
// dismount it, and then blocks in the foreground serving I/O until a
// dismount signal arrives (spec §4.5, §6). Each basalt-cli invocation is
// its own process; a mount that returned control to the shell immediately
// would leave nothing running to answer read/write requests, so the
// process that issues `mount` stays alive as the volume's server and
// `dismount` — run from a second invocation — signals it to stop, the same
// way `registry`'s PID-liveness check already assumes one live process per
// mounted slot.
func (c *CLI) cmdMount(args []string) int {
	f, positional, err := parseFlags(args)
	if err != nil {
		_, _ = fmt.Fprintf(c.Stderr, "%v\n", err)
		return exitGeneric
	}
	if len(positional) < 2 {
		_, _ = fmt.Fprintln(c.Stdout, "Usage: basalt-cli mount <path> <mountpoint> [--backend fuse|nfs|iscsi] [--read-only]")
		return exitGeneric
	}
	path, mountPoint := positional[0], positional[1]

	if err := blockdev.CheckMountPoint(mountPoint); err != nil {
		_, _ = fmt.Fprintf(c.Stderr, "Refusing to mount: %v\n", err)
		return exitGeneric
	}
	if _, err := registry.LookupByPath(path); err == nil {
		_, _ = fmt.Fprintf(c.Stderr, "Already mounted: %s\n", path)
		return exitGeneric
	}

	backendName := f.backend
	if backendName == "" {
		backendName = "fuse"
	}

	c.showBanner()
	_, _ = fmt.Fprintf(c.Stdout, "Mounting volume: %s -> %s (%s)\n\n", path, mountPoint, backendName)

	password, err := c.password(f, "Enter password: ", false)
	if err != nil {
		_, _ = fmt.Fprintf(c.Stderr, "Error: %v\n", err)
		return exitGeneric
	}
	defer password.Wipe()

	vol, err := c.Ops.Open(path, password, f.keyfiles(), volume.OpenOptions{
		ReadOnly:         f.readOnly,
		UseBackupHeaders: f.useBackupHeaders,
	})
	if err != nil {
		_, _ = fmt.Fprintf(c.Stderr, "\nFailed to open volume: %v\n", err)
		return exitCodeFor(err)
	}

	svc := blockdev.New(vol)
	info := svc.Info()

	entry := registry.Entry{
		Path:       path,
		MountPoint: mountPoint,
		SizeBytes:  info.SizeBytes,
		Type:       "normal",
		Protection: "none",
		Encryption: info.Cipher,
		EncMode:    "xts",
		PKCS5:      info.KDFName,
	}
	if info.Hidden {
		entry.Type = "hidden"
	}
	if n, err := crypto.KeyAreaSize(info.Cipher); err == nil {
		entry.KeySize = n
	}
	entry.PKCS5Iterations = info.IterationCount

	entry, err = registry.Register(entry)
	if err != nil {
		_, _ = fmt.Fprintf(c.Stderr, "Failed to register mount: %v\n", err)
		_ = vol.Close()
		return exitGeneric
	}

	var backend mountedBackend
	switch backendName {
	case "fuse":
		fb := blockdev.NewFileBackend(svc)
		if err := fb.Mount(mountPoint); err != nil {
			_, _ = fmt.Fprintf(c.Stderr, "Failed to mount: %v\n", err)
			_ = registry.Unregister(entry.Slot)
			_ = vol.Close()
			return exitGeneric
		}
		backend = fb
	case "nfs":
		nb, err := nfsloop.NewBackend(svc)
		if err != nil {
			_, _ = fmt.Fprintf(c.Stderr, "Failed to start NFS loopback listener: %v\n", err)
			_ = registry.Unregister(entry.Slot)
			_ = vol.Close()
			return exitGeneric
		}
		if err := nb.Mount(mountPoint); err != nil {
			_, _ = fmt.Fprintf(c.Stderr, "Failed to mount: %v\n", err)
			_ = registry.Unregister(entry.Slot)
			_ = vol.Close()
			return exitGeneric
		}
		backend = nb
	case "iscsi":
		target := iscsiloop.NewTarget(entry.Slot)
		_, _ = fmt.Fprintf(c.Stderr, "iSCSI loopback target would listen at %s:%d (%s), but its login/session state machine is not implemented: %v\n", "127.0.0.1", iscsiloop.Port(entry.Slot), target.IQN, target.Serve())
		_ = registry.Unregister(entry.Slot)
		_ = vol.Close()
		return exitGeneric
	default:
		_, _ = fmt.Fprintf(c.Stderr, "Unknown backend: %s (want fuse, nfs, or iscsi)\n", backendName)
		_ = registry.Unregister(entry.Slot)
		_ = vol.Close()
		return exitGeneric
	}

	_, _ = fmt.Fprintf(c.Stdout, "\nMounted as slot %d. Serving until dismounted.\n", entry.Slot)
	_, _ = fmt.Fprintf(c.Stdout, "Dismount with: basalt-cli dismount %s\n", mountPoint)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	<-stop

	_, _ = fmt.Fprintln(c.Stdout, "\nDismounting...")
	if err := backend.Unmount(); err != nil {
		_, _ = fmt.Fprintf(c.Stderr, "Error during unmount: %v\n", err)
	}
	_ = registry.Unregister(entry.Slot)
	_ = vol.Close()

	return exitOK
}

// cmdDismount signals the process serving target's mount (a mount point
// path or a slot number) to stop. The signalled mount process performs the
// actual Unmount/Unregister/Close itself; this command only delivers the
// signal and, for robustness, reaps the registry entry if the process is
// already gone.
func (c *CLI) cmdDismount(args []string) int {
	_, positional, err := parseFlags(args)
	if err != nil {
		_, _ = fmt.Fprintf(c.Stderr, "%v\n", err)
		return exitGeneric
	}
	if len(positional) < 1 {
		_, _ = fmt.Fprintln(c.Stdout, "Usage: basalt-cli dismount <mountpoint|slot>")
		return exitGeneric
	}

	entry, err := registryEntryFor(positional[0])
	if err != nil {
		_, _ = fmt.Fprintf(c.Stderr, "Not mounted: %s\n", positional[0])
		return exitGeneric
	}

	if err := syscall.Kill(entry.PID, syscall.SIGTERM); err != nil {
		// The owning process is already gone; reap the stale record
		// ourselves so `list` doesn't keep reporting it.
		_ = registry.Unregister(entry.Slot)
		_, _ = fmt.Fprintf(c.Stderr, "Mount process was not running; cleaned up stale entry: %v\n", err)
		return exitGeneric
	}

	_, _ = fmt.Fprintf(c.Stdout, "Dismount signal sent for slot %d (%s)\n", entry.Slot, entry.MountPoint)
	return exitOK
}

// cmdList prints every live registry entry (spec §6's `list` command).
func (c *CLI) cmdList(args []string) int {
	if _, _, err := parseFlags(args); err != nil {
		_, _ = fmt.Fprintf(c.Stderr, "%v\n", err)
		return exitGeneric
	}

	entries, err := registry.List()
	if err != nil {
		_, _ = fmt.Fprintf(c.Stderr, "Failed to list mounts: %v\n", err)
		return exitGeneric
	}
	if len(entries) == 0 {
		_, _ = fmt.Fprintln(c.Stdout, "No volumes mounted")
		return exitOK
	}

	_, _ = fmt.Fprintf(c.Stdout, "%-5s %-8s %-30s %-20s %-12s %s\n", "SLOT", "PID", "PATH", "MOUNTPOINT", "CIPHER", "SIZE")
	for _, e := range entries {
		_, _ = fmt.Fprintf(c.Stdout, "%-5d %-8d %-30s %-20s %-12s %s\n",
			e.Slot, e.PID, e.Path, e.MountPoint, e.Encryption, strconv.FormatUint(e.SizeBytes, 10))
	}
	return exitOK
}

// a type assertion failure here would be a programmer error: both mount
// back-ends must satisfy mountedBackend.
var (
	_ mountedBackend = (*blockdev.FileBackend)(nil)
	_ mountedBackend = (*nfsloop.Backend)(nil)
)
