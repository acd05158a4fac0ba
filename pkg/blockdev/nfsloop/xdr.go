// Copyright (c) 2025 The Basalt Authors
//
// SPDX-License-Identifier: Apache-2.0

// Package nfsloop implements the userspace NFSv4 loopback back-end (spec
// §4.5): an accept loop that serves each connection on its own goroutine,
// every request serialised behind blockdev.Service's mutex, speaking ONC
// RPC record marking,
// AUTH_SYS, and a deliberately small NFSv4.0 COMPOUND subset, exposing a
// two-entry pseudo-filesystem ("volume", "control") backed by a
// blockdev.Service. No ONC-RPC or NFS library appears anywhere in the
// retrieved example corpus, so the wire format is hand-rolled directly
// on net/encoding-binary — the same approach pkg/volume/header.go takes
// for the TrueCrypt header's binary layout (see DESIGN.md).
package nfsloop

import (
	"encoding/binary"
	"fmt"
	"io"
)

// decoder reads big-endian XDR values out of an in-memory RPC fragment.
type decoder struct {
	buf []byte
	pos int
}

func newDecoder(buf []byte) *decoder { return &decoder{buf: buf} }

func (d *decoder) uint32() (uint32, error) {
	if d.pos+4 > len(d.buf) {
		return 0, io.ErrUnexpectedEOF
	}
	v := binary.BigEndian.Uint32(d.buf[d.pos:])
	d.pos += 4
	return v, nil
}

func (d *decoder) uint64() (uint64, error) {
	if d.pos+8 > len(d.buf) {
		return 0, io.ErrUnexpectedEOF
	}
	v := binary.BigEndian.Uint64(d.buf[d.pos:])
	d.pos += 8
	return v, nil
}

// opaque reads an XDR variable-length opaque: a 4-byte length prefix
// followed by that many bytes, padded to a 4-byte boundary.
func (d *decoder) opaque() ([]byte, error) {
	n, err := d.uint32()
	if err != nil {
		return nil, err
	}
	padded := int(n+3) &^ 3
	if d.pos+padded > len(d.buf) {
		return nil, io.ErrUnexpectedEOF
	}
	v := d.buf[d.pos : d.pos+int(n)]
	d.pos += padded
	return v, nil
}

func (d *decoder) opaqueFixed(n int) ([]byte, error) {
	padded := (n + 3) &^ 3
	if d.pos+padded > len(d.buf) {
		return nil, io.ErrUnexpectedEOF
	}
	v := d.buf[d.pos : d.pos+n]
	d.pos += padded
	return v, nil
}

func (d *decoder) string() (string, error) {
	b, err := d.opaque()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (d *decoder) remaining() []byte { return d.buf[d.pos:] }

// encoder appends big-endian XDR values to an in-memory RPC fragment.
type encoder struct {
	buf []byte
}

func (e *encoder) putUint32(v uint32) {
	e.buf = binary.BigEndian.AppendUint32(e.buf, v)
}

func (e *encoder) putUint64(v uint64) {
	e.buf = binary.BigEndian.AppendUint64(e.buf, v)
}

func (e *encoder) putOpaque(b []byte) {
	e.putUint32(uint32(len(b)))
	e.buf = append(e.buf, b...)
	if pad := (4 - len(b)%4) % 4; pad != 0 {
		e.buf = append(e.buf, make([]byte, pad)...)
	}
}

func (e *encoder) putString(s string) { e.putOpaque([]byte(s)) }

func (e *encoder) bytes() []byte { return e.buf }

// readFragment reads one complete RPC record-marked message: a 4-byte
// length word whose high bit marks the final fragment, followed by that
// many bytes of payload (spec §4.5 "RPC record marking (4-byte length +
// fragment-last bit)").
func readFragment(r io.Reader) ([]byte, error) {
	var msg []byte
	for {
		var header [4]byte
		if _, err := io.ReadFull(r, header[:]); err != nil {
			return nil, err
		}
		word := binary.BigEndian.Uint32(header[:])
		last := word&0x80000000 != 0
		size := word &^ 0x80000000

		frag := make([]byte, size)
		if _, err := io.ReadFull(r, frag); err != nil {
			return nil, fmt.Errorf("nfsloop: reading fragment: %w", err)
		}
		msg = append(msg, frag...)
		if last {
			return msg, nil
		}
	}
}

// writeFragment writes payload as a single, final RPC fragment.
func writeFragment(w io.Writer, payload []byte) error {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload))|0x80000000)
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}
