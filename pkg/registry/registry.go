// Copyright (c) 2025 The Basalt Authors
//
// SPDX-License-Identifier: Apache-2.0

// Package registry implements the cross-process mount registry (spec §3,
// §6): a directory of slot_<N>.info key=value files under a per-user
// local-state directory, one per mounted volume, readable by any process on
// the host so `basalt-cli list` and friends can see what other processes
// have mounted. A record's pid is validated live on read; stale records
// (owning process gone) are silently deleted, matching spec §6's
// "Persisted state outside volumes" paragraph.
package registry

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Entry is one registry record: the on-disk key=value fields spec §6 names,
// plus the owning PID used for liveness checks.
type Entry struct {
	Slot            int
	PID             int
	Path            string
	MountPoint      string
	SizeBytes       uint64
	Type            string // "normal" or "hidden"
	Protection      string // "none" or "hidden-protected"
	Encryption      string // cascade name
	EncMode         string // "xts"
	PKCS5           string // KDF name
	PKCS5Iterations int
	KeySize         int
}

// Dir returns the per-user local-state directory the registry lives under,
// creating it if necessary.
func Dir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("basalt/registry: %w: %v", ErrSystemError, err)
	}
	dir := filepath.Join(base, "basalt", "mounts")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("basalt/registry: %w: %v", ErrSystemError, err)
	}
	return dir, nil
}

func slotPath(dir string, slot int) string {
	return filepath.Join(dir, fmt.Sprintf("slot_%d.info", slot))
}

// Register writes entry's record, assigning it the smallest slot number not
// already held by a live entry (spec §9's "slot numbers" open question: the
// registry, not the Volume, is what assigns slots — see DESIGN.md).
func Register(e Entry) (Entry, error) {
	dir, err := Dir()
	if err != nil {
		return Entry{}, err
	}

	entries, err := list(dir, true)
	if err != nil {
		return Entry{}, err
	}

	taken := make(map[int]bool, len(entries))
	for _, existing := range entries {
		taken[existing.Slot] = true
	}
	slot := 1
	for taken[slot] {
		slot++
	}

	e.Slot = slot
	e.PID = os.Getpid()
	if err := writeEntry(dir, e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// Unregister removes slot's record, if present. Missing records are not an
// error: dismount is idempotent with respect to the registry.
func Unregister(slot int) error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	if err := os.Remove(slotPath(dir, slot)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("basalt/registry: %w: %v", ErrSystemError, err)
	}
	return nil
}

// List returns every live entry in the registry, sorted by slot, deleting
// any stale record (dead owning pid) it encounters along the way.
func List() ([]Entry, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	return list(dir, true)
}

// Lookup returns the entry for slot, or ErrSlotNotFound.
func Lookup(slot int) (Entry, error) {
	entries, err := List()
	if err != nil {
		return Entry{}, err
	}
	for _, e := range entries {
		if e.Slot == slot {
			return e, nil
		}
	}
	return Entry{}, ErrSlotNotFound
}

// LookupByPath returns the entry mounted from path, or ErrSlotNotFound.
func LookupByPath(path string) (Entry, error) {
	entries, err := List()
	if err != nil {
		return Entry{}, err
	}
	for _, e := range entries {
		if e.Path == path {
			return e, nil
		}
	}
	return Entry{}, ErrSlotNotFound
}

func list(dir string, reap bool) ([]Entry, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("basalt/registry: %w: %v", ErrSystemError, err)
	}

	var entries []Entry
	for _, f := range files {
		if f.IsDir() || !strings.HasPrefix(f.Name(), "slot_") {
			continue
		}
		path := filepath.Join(dir, f.Name())
		e, err := readEntry(path)
		if err != nil {
			continue // corrupt record; ignore rather than fail the whole list
		}
		if !pidLive(e.PID) {
			if reap {
				_ = os.Remove(path)
			}
			continue
		}
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Slot < entries[j].Slot })
	return entries, nil
}

// pidLive reports whether pid names a running process, by sending it the
// null signal: ESRCH means no such process, EPERM means it exists but is
// owned by someone else (still alive, from the registry's point of view).
func pidLive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

func writeEntry(dir string, e Entry) error {
	var b strings.Builder
	fmt.Fprintf(&b, "pid=%d\n", e.PID)
	fmt.Fprintf(&b, "slot=%d\n", e.Slot)
	fmt.Fprintf(&b, "path=%s\n", e.Path)
	fmt.Fprintf(&b, "mountpoint=%s\n", e.MountPoint)
	fmt.Fprintf(&b, "size=%d\n", e.SizeBytes)
	fmt.Fprintf(&b, "type=%s\n", e.Type)
	fmt.Fprintf(&b, "protection=%s\n", e.Protection)
	fmt.Fprintf(&b, "encryption=%s\n", e.Encryption)
	fmt.Fprintf(&b, "encmode=%s\n", e.EncMode)
	fmt.Fprintf(&b, "pkcs5=%s\n", e.PKCS5)
	fmt.Fprintf(&b, "pkcs5iterations=%d\n", e.PKCS5Iterations)
	fmt.Fprintf(&b, "keysize=%d\n", e.KeySize)

	if err := os.WriteFile(slotPath(dir, e.Slot), []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("basalt/registry: %w: %v", ErrSystemError, err)
	}
	return nil
}

func readEntry(path string) (Entry, error) {
	f, err := os.Open(path) // #nosec G304 -- fixed registry directory, not user-controlled
	if err != nil {
		return Entry{}, err
	}
	defer func() { _ = f.Close() }()

	fields := map[string]string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		fields[key] = value
	}
	if err := scanner.Err(); err != nil {
		return Entry{}, err
	}

	e := Entry{
		Path:       fields["path"],
		MountPoint: fields["mountpoint"],
		Type:       fields["type"],
		Protection: fields["protection"],
		Encryption: fields["encryption"],
		EncMode:    fields["encmode"],
		PKCS5:      fields["pkcs5"],
	}
	e.PID, _ = strconv.Atoi(fields["pid"])
	e.Slot, _ = strconv.Atoi(fields["slot"])
	size, _ := strconv.ParseUint(fields["size"], 10, 64)
	e.SizeBytes = size
	e.PKCS5Iterations, _ = strconv.Atoi(fields["pkcs5iterations"])
	e.KeySize, _ = strconv.Atoi(fields["keysize"])

	return e, nil
}
