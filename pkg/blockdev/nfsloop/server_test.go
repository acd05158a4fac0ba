// Copyright (c) 2025 The Basalt Authors
//
// SPDX-License-Identifier: Apache-2.0

//go:build !integration

package nfsloop

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/basalt-project/basalt/pkg/blockdev"
	"github.com/basalt-project/basalt/pkg/kdf"
	"github.com/basalt-project/basalt/pkg/volume"
)

func newTestService(t *testing.T) *blockdev.Service {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "nfsloop.basalt")

	pw, _ := kdf.NewPassword([]byte("nfsloop-pass"))
	defer pw.Wipe()
	if _, err := volume.Create(volume.CreateOptions{
		Path: path, SizeBytes: 4 << 20, Cascade: "AES-256", KDF: kdf.Algorithms[6], Password: pw, Quick: true,
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	pw2, _ := kdf.NewPassword([]byte("nfsloop-pass"))
	defer pw2.Wipe()
	v, err := volume.Open(path, pw2, nil, volume.OpenOptions{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = v.Close() })

	return blockdev.New(v)
}

// buildCompoundCall assembles one ONC RPC call message wrapping a
// COMPOUND procedure call with ops (already-encoded opnum+args pairs
// concatenated in order).
func buildCompoundCall(xid uint32, ops []byte, numOps uint32) []byte {
	e := &encoder{}
	e.putUint32(xid)
	e.putUint32(rpcCall)
	e.putUint32(2) // rpcvers
	e.putUint32(nfsProgram)
	e.putUint32(nfsVersion)
	e.putUint32(procCompound)
	e.putUint32(authNone) // cred flavor
	e.putUint32(0)        // cred body length
	e.putUint32(authNone) // verf flavor
	e.putUint32(0)        // verf body length

	e.putString("")  // compound tag
	e.putUint32(0)   // minorversion
	e.putUint32(numOps)
	e.buf = append(e.buf, ops...)
	return e.bytes()
}

func TestHandleCallPutrootfhLookupGetfh(t *testing.T) {
	svc := newTestService(t)
	cs := &connState{svc: svc}

	ops := &encoder{}
	ops.putUint32(opPutrootfh)
	ops.putUint32(opLookup)
	ops.putString("volume")
	ops.putUint32(opGetfh)

	call := buildCompoundCall(1, ops.bytes(), 3)
	reply, err := handleCall(cs, call)
	if err != nil {
		t.Fatalf("handleCall: %v", err)
	}

	d := newDecoder(reply)
	xid, _ := d.uint32()
	if xid != 1 {
		t.Fatalf("xid = %d, want 1", xid)
	}
	mtype, _ := d.uint32()
	if mtype != rpcReply {
		t.Fatalf("mtype = %d, want rpcReply", mtype)
	}
	accepted, _ := d.uint32()
	if accepted != msgAccepted {
		t.Fatalf("accepted = %d, want msgAccepted", accepted)
	}
	if _, err := d.uint32(); err != nil { // verf flavor
		t.Fatalf("verf flavor: %v", err)
	}
	if _, err := d.opaque(); err != nil { // verf body
		t.Fatalf("verf body: %v", err)
	}
	acceptStat, _ := d.uint32()
	if acceptStat != acceptSuccess {
		t.Fatalf("accept_stat = %d, want acceptSuccess", acceptStat)
	}

	compoundStatus, _ := d.uint32()
	if compoundStatus != nfs4OK {
		t.Fatalf("compound status = %d, want nfs4OK", compoundStatus)
	}
	if _, err := d.string(); err != nil { // tag
		t.Fatalf("tag: %v", err)
	}
	numRes, _ := d.uint32()
	if numRes != 3 {
		t.Fatalf("numres = %d, want 3", numRes)
	}

	op1, _ := d.uint32()
	st1, _ := d.uint32()
	if op1 != opPutrootfh || st1 != nfs4OK {
		t.Fatalf("op1 = %d/%d, want PUTROOTFH/OK", op1, st1)
	}

	op2, _ := d.uint32()
	st2, _ := d.uint32()
	if op2 != opLookup || st2 != nfs4OK {
		t.Fatalf("op2 = %d/%d, want LOOKUP/OK", op2, st2)
	}

	op3, _ := d.uint32()
	st3, _ := d.uint32()
	if op3 != opGetfh || st3 != nfs4OK {
		t.Fatalf("op3 = %d/%d, want GETFH/OK", op3, st3)
	}
	fh, err := d.opaque()
	if err != nil || beUint32(fh) != fhVolume {
		t.Fatalf("GETFH result = %v (%v), want fhVolume", fh, err)
	}
}

func TestHandleCallLookupUnknownNameFails(t *testing.T) {
	svc := newTestService(t)
	cs := &connState{svc: svc}

	ops := &encoder{}
	ops.putUint32(opPutrootfh)
	ops.putUint32(opLookup)
	ops.putString("nonexistent")

	call := buildCompoundCall(2, ops.bytes(), 2)
	reply, err := handleCall(cs, call)
	if err != nil {
		t.Fatalf("handleCall: %v", err)
	}

	d := newDecoder(reply)
	for i := 0; i < 4; i++ { // xid, mtype, accepted, verf flavor
		if _, err := d.uint32(); err != nil {
			t.Fatalf("header word %d: %v", i, err)
		}
	}
	if _, err := d.opaque(); err != nil { // verf body
		t.Fatalf("verf body: %v", err)
	}
	if _, err := d.uint32(); err != nil { // accept_stat
		t.Fatalf("accept_stat: %v", err)
	}

	compoundStatus, _ := d.uint32()
	if compoundStatus != nfs4ErrNoent {
		t.Fatalf("compound status = %d, want nfs4ErrNoent", compoundStatus)
	}
}

func TestBuildCompoundCallIsWellFormed(t *testing.T) {
	ops := &encoder{}
	ops.putUint32(opPutrootfh)
	call := buildCompoundCall(42, ops.bytes(), 1)
	if !bytes.Contains(call, []byte{0, 0, 0, 42}) {
		t.Fatalf("xid not present in encoded call")
	}
}
