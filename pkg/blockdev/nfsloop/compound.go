// Copyright (c) 2025 The Basalt Authors
//
// SPDX-License-Identifier: Apache-2.0

package nfsloop

import "fmt"

// NFSv4.0 COMPOUND operation numbers (RFC 3530 §17), limited to the
// subset spec §4.5 names.
const (
	opAccess            = 3
	opClose             = 4
	opCommit            = 5
	opGetattr           = 9
	opGetfh             = 10
	opLock              = 12
	opLockt             = 13
	opLocku             = 14
	opLookup            = 15
	opNverify           = 17
	opOpen              = 18
	opOpenConfirm       = 20
	opPutfh             = 22
	opPutrootfh         = 24
	opRead              = 25
	opReaddir           = 26
	opRenew             = 30
	opRestorefh         = 31
	opSavefh            = 32
	opSecinfo           = 33
	opSetattr           = 34
	opSetclientid       = 35
	opSetclientidConfirm = 36
	opVerify            = 37
	opWrite             = 38
	opReleaseLockowner  = 39
)

// NFSv4 status codes actually returned by this subset.
const (
	nfs4OK           = 0
	nfs4ErrNoent     = 2
	nfs4ErrNotsupp   = 10004
	nfs4ErrBadhandle = 10001
)

// fileHandle values: the pseudo-filesystem has exactly three objects
// (spec §4.5 "File handles are 4-byte opaque integers: 1=root,
// 2=volume, 3=control").
const (
	fhRoot    = 1
	fhVolume  = 2
	fhControl = 3
)

// session is the per-connection COMPOUND evaluation state: current and
// saved file handles, carried across ops within one COMPOUND call (spec
// §4.5 PUTFH/SAVEFH/RESTOREFH/GETFH).
type session struct {
	current uint32
	saved   uint32
	conn    *connState
}

// evalCompound decodes a COMPOUND procedure call and writes its reply
// into e: status, tag, and one (opnum, status, results) triple per
// requested operation, stopping at the first operation that fails
// (RFC 3530 §14.2.2).
func evalCompound(conn *connState, args *decoder, e *encoder) error {
	tag, err := args.string()
	if err != nil {
		return fmt.Errorf("nfsloop: compound tag: %w", err)
	}
	if _, err := args.uint32(); err != nil { // minorversion, always 0
		return fmt.Errorf("nfsloop: compound minorversion: %w", err)
	}
	numOps, err := args.uint32()
	if err != nil {
		return fmt.Errorf("nfsloop: compound numops: %w", err)
	}

	s := &session{conn: conn}
	results := &encoder{}
	var overall uint32 = nfs4OK
	var done uint32

	for i := uint32(0); i < numOps; i++ {
		opnum, err := args.uint32()
		if err != nil {
			return fmt.Errorf("nfsloop: compound op %d: %w", i, err)
		}
		status := dispatchOp(s, opnum, args, results)
		done++
		if status != nfs4OK {
			overall = status
			break
		}
	}

	e.putUint32(overall)
	e.putString(tag)
	e.putUint32(done)
	e.buf = append(e.buf, results.bytes()...)
	return nil
}

// dispatchOp executes one operation, appending its (opnum, status,
// result) triple to res, and returns the status for the COMPOUND loop's
// early-exit check.
func dispatchOp(s *session, opnum uint32, args *decoder, res *encoder) uint32 {
	res.putUint32(opnum)

	var status uint32
	switch opnum {
	case opPutrootfh:
		s.current = fhRoot
		status = nfs4OK

	case opPutfh:
		fh, err := args.opaqueFixed(4)
		if err != nil {
			status = nfs4ErrBadhandle
			break
		}
		s.current = beUint32(fh)
		status = nfs4OK

	case opGetfh:
		status = nfs4OK
		res.putUint32(status)
		res.putOpaque(fhBytes(s.current))
		return status

	case opSavefh:
		s.saved = s.current
		status = nfs4OK

	case opRestorefh:
		s.current = s.saved
		status = nfs4OK

	case opLookup:
		name, err := args.string()
		if err != nil {
			status = nfs4ErrNoent
			break
		}
		switch name {
		case "volume":
			s.current = fhVolume
			status = nfs4OK
		case "control":
			s.current = fhControl
			status = nfs4OK
		default:
			status = nfs4ErrNoent
		}

	case opGetattr:
		if _, err := args.opaque(); err != nil { // attr request bitmap4
			status = nfs4ErrBadhandle
			break
		}
		status = nfs4OK
		res.putUint32(status)
		writeGetattrResult(s, res)
		return status

	// SETATTR, VERIFY and NVERIFY are no-ops against this read-mostly
	// pseudo-filesystem (spec §4.5): consume the attr bitmap+value the
	// caller supplied so the cursor stays in sync, report success.
	case opSetattr, opVerify, opNverify:
		if _, err := args.opaque(); err != nil {
			status = nfs4ErrBadhandle
			break
		}
		if _, err := args.opaque(); err != nil {
			status = nfs4ErrBadhandle
			break
		}
		status = nfs4OK

	case opAccess:
		if _, err := args.uint32(); err != nil { // requested access bits
			status = nfs4ErrBadhandle
			break
		}
		status = nfs4OK
		res.putUint32(status)
		res.putUint32(0x3f) // ACCESS4_READ|WRITE|... all bits granted
		res.putUint32(0x3f)
		return status

	case opReaddir:
		status = readdirResult(s, args, res)
		return status

	case opOpen:
		status = openResult(s, args, res)
		return status

	case opOpenConfirm:
		if _, _, err := readStateid(args); err != nil {
			status = nfs4ErrBadhandle
			break
		}
		if _, err := args.uint32(); err != nil { // seqid
			status = nfs4ErrBadhandle
			break
		}
		status = nfs4OK
		res.putUint32(status)
		writeStateid(res, 0, make([]byte, 12))
		return status

	case opClose:
		if _, err := args.uint32(); err != nil { // seqid
			status = nfs4ErrBadhandle
			break
		}
		if _, _, err := readStateid(args); err != nil {
			status = nfs4ErrBadhandle
			break
		}
		status = nfs4OK

	case opRead:
		status = readResult(s, args, res)
		return status

	case opWrite:
		status = writeResult(s, args, res)
		return status

	case opCommit:
		if _, err := args.uint64(); err != nil { // offset
			status = nfs4ErrBadhandle
			break
		}
		if _, err := args.uint32(); err != nil { // count
			status = nfs4ErrBadhandle
			break
		}
		status = nfs4OK
		res.putUint32(status)
		res.putOpaque(s.conn.writeverf[:])
		return status

	case opSetclientid:
		if _, err := args.opaqueFixed(8); err != nil { // verifier4
			status = nfs4ErrBadhandle
			break
		}
		if _, err := args.opaque(); err != nil { // client id string
			status = nfs4ErrBadhandle
			break
		}
		if _, err := args.uint32(); err != nil { // callback program
			status = nfs4ErrBadhandle
			break
		}
		if _, err := args.string(); err != nil { // callback netid
			status = nfs4ErrBadhandle
			break
		}
		if _, err := args.string(); err != nil { // callback addr
			status = nfs4ErrBadhandle
			break
		}
		if _, err := args.uint32(); err != nil { // callback ident
			status = nfs4ErrBadhandle
			break
		}
		s.conn.clientID++
		status = nfs4OK
		res.putUint32(status)
		res.putUint64(s.conn.clientID)
		res.putOpaque(s.conn.writeverf[:])
		return status

	case opSetclientidConfirm:
		if _, err := args.uint64(); err != nil {
			status = nfs4ErrBadhandle
			break
		}
		if _, err := args.opaqueFixed(8); err != nil {
			status = nfs4ErrBadhandle
			break
		}
		status = nfs4OK

	case opRenew:
		if _, err := args.uint64(); err != nil {
			status = nfs4ErrBadhandle
			break
		}
		status = nfs4OK

	case opLock, opLockt, opLocku, opReleaseLockowner:
		// Always grant: a loopback volume serves exactly one local
		// client, so POSIX advisory locking is not contended (spec
		// §4.5 "LOCK/LOCKT/LOCKU (always grant)").
		status = nfs4OK

	case opSecinfo:
		if _, err := args.string(); err != nil {
			status = nfs4ErrBadhandle
			break
		}
		status = nfs4OK
		res.putUint32(status)
		res.putUint32(1)
		res.putUint32(1) // AUTH_SYS only (spec §4.5 "SECINFO (AUTH_SYS only)")
		return status

	default:
		status = nfs4ErrNotsupp
	}

	res.putUint32(status)
	return status
}

func writeGetattrResult(s *session, res *encoder) {
	// Bitmap of attrs present: SUPPORTED_ATTRS(0), TYPE(1), SIZE(4) —
	// the minimum set RFC 7530 §5 requires every fattr4 response to be
	// able to self-describe.
	res.putUint32(1)            // bitmap word count
	res.putUint32(1<<0 | 1<<1 | 1<<4)

	attrs := &encoder{}
	// SUPPORTED_ATTRS value: the same bitmap, echoed back.
	attrs.putUint32(1)
	attrs.putUint32(1<<0 | 1<<1 | 1<<4)
	// TYPE: NF4REG for volume/control, NF4DIR for root.
	if s.current == fhRoot {
		attrs.putUint32(2) // NF4DIR
	} else {
		attrs.putUint32(1) // NF4REG
	}
	// SIZE
	switch s.current {
	case fhVolume:
		attrs.putUint64(s.conn.svc.SizeBytes())
	case fhControl:
		attrs.putUint64(uint64(len(s.conn.controlContents())))
	default:
		attrs.putUint64(0)
	}
	res.putOpaque(attrs.bytes())
}

func readdirResult(s *session, args *decoder, res *encoder) uint32 {
	if _, err := args.uint64(); err != nil { // cookie
		return nfs4ErrBadhandle
	}
	if _, err := args.opaqueFixed(8); err != nil { // cookieverf
		return nfs4ErrBadhandle
	}
	if _, err := args.uint32(); err != nil { // dircount
		return nfs4ErrBadhandle
	}
	if _, err := args.uint32(); err != nil { // maxcount
		return nfs4ErrBadhandle
	}
	if _, err := args.opaque(); err != nil { // attr request bitmap
		return nfs4ErrBadhandle
	}

	status := uint32(nfs4OK)
	if s.current != fhRoot {
		status = nfs4ErrNotsupp
		res.putUint32(status)
		return status
	}

	res.putUint32(status)
	res.putOpaque(s.conn.writeverf[:])
	for i, name := range []string{"volume", "control"} {
		res.putUint32(1) // entry follows
		res.putUint64(uint64(i + 1))
		res.putString(name)
		res.putUint32(0) // empty attr bitmap for this minimal READDIR
		res.putOpaque(nil)
	}
	res.putUint32(0) // no more entries follow
	res.putUint32(1) // eof
	return status
}

func openResult(s *session, args *decoder, res *encoder) uint32 {
	if _, err := args.uint32(); err != nil { // seqid
		return nfs4ErrBadhandle
	}
	if _, err := args.uint32(); err != nil { // share_access
		return nfs4ErrBadhandle
	}
	if _, err := args.uint32(); err != nil { // share_deny
		return nfs4ErrBadhandle
	}
	if _, err := args.uint64(); err != nil { // open_owner4.clientid
		return nfs4ErrBadhandle
	}
	if _, err := args.opaque(); err != nil { // open_owner4.owner
		return nfs4ErrBadhandle
	}
	opentype, err := args.uint32() // openflag4.opentype
	if err != nil {
		return nfs4ErrBadhandle
	}
	if opentype == 1 { // OPEN4_CREATE
		if _, err := args.uint32(); err != nil { // createmode4
			return nfs4ErrBadhandle
		}
		if _, err := args.opaque(); err != nil { // createattrs/verifier opaque
			return nfs4ErrBadhandle
		}
	}
	claim, err := args.uint32() // open_claim4.claim
	if err != nil {
		return nfs4ErrBadhandle
	}
	var name string
	if claim == 0 { // CLAIM_NULL
		name, err = args.string()
		if err != nil {
			return nfs4ErrBadhandle
		}
	}

	switch name {
	case "volume":
		s.current = fhVolume
	case "control":
		s.current = fhControl
	case "":
		// Reopen by current filehandle (delegation/claim variants this
		// subset doesn't distinguish); leave s.current as-is.
	default:
		status := uint32(nfs4ErrNoent)
		res.putUint32(status)
		return status
	}

	status := uint32(nfs4OK)
	res.putUint32(status)
	writeStateid(res, 0, make([]byte, 12))
	res.putUint32(0) // change_info.atomic = false
	res.putUint64(0)
	res.putUint64(0)
	res.putUint32(0) // rflags
	res.putUint32(1)
	res.putUint32(0) // attrset bitmap empty
	res.putUint32(0) // delegation type NONE
	return status
}

func readResult(s *session, args *decoder, res *encoder) uint32 {
	if _, _, err := readStateid(args); err != nil {
		return nfs4ErrBadhandle
	}
	off, err := args.uint64()
	if err != nil {
		return nfs4ErrBadhandle
	}
	count, err := args.uint32()
	if err != nil {
		return nfs4ErrBadhandle
	}

	var data []byte
	switch s.current {
	case fhVolume:
		data = make([]byte, count)
		n, rerr := s.conn.svc.ReadAt(data, int64(off))
		if rerr != nil {
			return nfs4ErrBadhandle
		}
		data = data[:n]
	case fhControl:
		content := s.conn.controlContents()
		if int64(off) < int64(len(content)) {
			end := int64(off) + int64(count)
			if end > int64(len(content)) {
				end = int64(len(content))
			}
			data = []byte(content[off:end])
		}
	default:
		return nfs4ErrNotsupp
	}

	status := uint32(nfs4OK)
	res.putUint32(status)
	eof := uint32(0)
	res.putUint32(eof)
	res.putOpaque(data)
	return status
}

func writeResult(s *session, args *decoder, res *encoder) uint32 {
	if _, _, err := readStateid(args); err != nil {
		return nfs4ErrBadhandle
	}
	off, err := args.uint64()
	if err != nil {
		return nfs4ErrBadhandle
	}
	if _, err := args.uint32(); err != nil { // stable
		return nfs4ErrBadhandle
	}
	data, err := args.opaque()
	if err != nil {
		return nfs4ErrBadhandle
	}

	if s.current != fhVolume {
		return nfs4ErrNotsupp
	}
	n, werr := s.conn.svc.WriteAt(data, int64(off))
	if werr != nil {
		return nfs4ErrBadhandle
	}

	status := uint32(nfs4OK)
	res.putUint32(status)
	res.putUint32(uint32(n))
	res.putUint32(2) // FILE_SYNC4
	res.putOpaque(s.conn.writeverf[:])
	return status
}

// readStateid decodes a stateid4 (RFC 3530 §3.6): a 4-byte seqid
// followed by a 12-byte opaque "other" field. This subset never tracks
// real open/lock state, so the value is parsed only to keep the
// decoder's cursor in sync with the caller's request.
func readStateid(d *decoder) (seqid uint32, other []byte, err error) {
	seqid, err = d.uint32()
	if err != nil {
		return 0, nil, err
	}
	other, err = d.opaqueFixed(12)
	if err != nil {
		return 0, nil, err
	}
	return seqid, other, nil
}

func writeStateid(e *encoder, seqid uint32, other []byte) {
	e.putUint32(seqid)
	e.buf = append(e.buf, other...)
}

func beUint32(b []byte) uint32 {
	var v uint32
	for _, c := range b {
		v = v<<8 | uint32(c)
	}
	return v
}

func fhBytes(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}
