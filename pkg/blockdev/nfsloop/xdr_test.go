// Copyright (c) 2025 The Basalt Authors
//
// SPDX-License-Identifier: Apache-2.0

//go:build !integration

package nfsloop

import (
	"bytes"
	"testing"
)

func TestEncoderDecoderRoundTrip(t *testing.T) {
	e := &encoder{}
	e.putUint32(0xdeadbeef)
	e.putUint64(0x0102030405060708)
	e.putString("volume")
	e.putOpaque([]byte{1, 2, 3}) // unpadded length, needs a padding byte

	d := newDecoder(e.bytes())
	v32, err := d.uint32()
	if err != nil || v32 != 0xdeadbeef {
		t.Fatalf("uint32 = %#x, %v", v32, err)
	}
	v64, err := d.uint64()
	if err != nil || v64 != 0x0102030405060708 {
		t.Fatalf("uint64 = %#x, %v", v64, err)
	}
	s, err := d.string()
	if err != nil || s != "volume" {
		t.Fatalf("string = %q, %v", s, err)
	}
	opaque, err := d.opaque()
	if err != nil || !bytes.Equal(opaque, []byte{1, 2, 3}) {
		t.Fatalf("opaque = %v, %v", opaque, err)
	}
}

func TestFragmentRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("a fake rpc message")
	if err := writeFragment(&buf, payload); err != nil {
		t.Fatalf("writeFragment: %v", err)
	}
	got, err := readFragment(&buf)
	if err != nil {
		t.Fatalf("readFragment: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("readFragment = %q, want %q", got, payload)
	}
}
