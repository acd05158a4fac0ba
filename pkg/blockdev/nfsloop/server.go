// Copyright (c) 2025 The Basalt Authors
//
// SPDX-License-Identifier: Apache-2.0

package nfsloop

import (
	"fmt"
	"net"
	"strings"

	"github.com/google/uuid"

	"github.com/basalt-project/basalt/pkg/blockdev"
)

const (
	rpcCall  = 0
	rpcReply = 1

	msgAccepted = 0
	acceptSuccess = 0

	authNone = 0
	authSys  = 1

	nfsProgram = 100003
	nfsVersion = 4

	procNull     = 0
	procCompound = 1
)

// connState is the state one accepted TCP connection carries across its
// lifetime: the blockdev.Service it serves, a per-connection write
// verifier (RFC 3530 §3.3.8's stable-storage cookie), and the NFSv4
// clientid counter SETCLIENTID hands out.
type connState struct {
	svc       *blockdev.Service
	writeverf [8]byte
	clientID  uint64
}

func (c *connState) controlContents() string {
	info := c.svc.Info()
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

// Server is the userspace NFSv4 loopback back-end (spec §4.5): an accept
// loop bound to 127.0.0.1 on an ephemeral port, one goroutine per
// connection, exposing one blockdev.Service as a two-entry pseudo-filesystem.
type Server struct {
	svc      *blockdev.Service
	listener net.Listener
	done     chan struct{}
}

// New binds a listener on 127.0.0.1:0 and returns a Server ready for
// Serve. The ephemeral port actually bound is available via Addr.
func New(svc *blockdev.Service) (*Server, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("nfsloop: listen: %w", err)
	}
	return &Server{svc: svc, listener: l, done: make(chan struct{})}, nil
}

// Addr returns the bound TCP address, for the OS collaborator to mount.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Serve runs the accept loop until Close is called. Each connection is
// served on its own goroutine, but every connection's COMPOUND calls
// against one volume still funnel through blockdev.Service's single
// mutex (spec §4.5 "Concurrency": "if a back-end admits multiple
// connections, their requests are serialised on that thread or behind
// one mutex").
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
				return fmt.Errorf("nfsloop: accept: %w", err)
			}
		}
		go s.serveConn(conn)
	}
}

// Close stops the accept loop and dismounts the underlying service,
// guaranteeing no in-flight sector request issues after it returns
// (spec §4.5).
func (s *Server) Close() error {
	close(s.done)
	s.svc.Dismount()
	return s.listener.Close()
}

func (s *Server) serveConn(conn net.Conn) {
	defer func() { _ = conn.Close() }()

	cs := &connState{svc: s.svc}
	verf, err := uuid.NewRandom()
	if err == nil {
		copy(cs.writeverf[:], verf[:8])
	}

	for {
		msg, err := readFragment(conn)
		if err != nil {
			return
		}
		reply, err := handleCall(cs, msg)
		if err != nil {
			return
		}
		if err := writeFragment(conn, reply); err != nil {
			return
		}
	}
}

// handleCall parses one ONC RPC call message (RFC 1831 §9), skips its
// AUTH_SYS credential and verifier (spec §4.5 "AUTH_SYS"), dispatches
// NFSPROC4_NULL / NFSPROC4_COMPOUND, and returns a fully-formed reply
// message.
func handleCall(cs *connState, msg []byte) ([]byte, error) {
	d := newDecoder(msg)

	xid, err := d.uint32()
	if err != nil {
		return nil, err
	}
	mtype, err := d.uint32()
	if err != nil || mtype != rpcCall {
		return nil, fmt.Errorf("nfsloop: not a call message")
	}
	if _, err := d.uint32(); err != nil { // rpcvers
		return nil, err
	}
	prog, err := d.uint32()
	if err != nil {
		return nil, err
	}
	vers, err := d.uint32()
	if err != nil {
		return nil, err
	}
	proc, err := d.uint32()
	if err != nil {
		return nil, err
	}
	if err := skipOpaqueAuth(d); err != nil { // credential
		return nil, err
	}
	if err := skipOpaqueAuth(d); err != nil { // verifier
		return nil, err
	}

	e := &encoder{}
	e.putUint32(xid)
	e.putUint32(rpcReply)
	e.putUint32(msgAccepted)
	e.putUint32(authNone)
	e.putUint32(0) // empty verifier opaque

	if prog != nfsProgram || vers != nfsVersion {
		e.putUint32(2) // PROG_MISMATCH
		e.putUint32(nfsVersion)
		e.putUint32(nfsVersion)
		return e.bytes(), nil
	}

	switch proc {
	case procNull:
		e.putUint32(acceptSuccess)
	case procCompound:
		e.putUint32(acceptSuccess)
		if err := evalCompound(cs, d, e); err != nil {
			return nil, err
		}
	default:
		e.putUint32(3) // PROC_UNAVAIL
	}

	return e.bytes(), nil
}

// skipOpaqueAuth consumes one opaque_auth structure (flavor + variable
// body); AUTH_SYS bodies carry a timestamp, hostname, uid, gid and
// supplementary gids the loopback server never needs to check, since it
// only ever serves the local user who owns the mount.
func skipOpaqueAuth(d *decoder) error {
	flavor, err := d.uint32()
	if err != nil {
		return err
	}
	if _, err := d.opaque(); err != nil {
		return err
	}
	if flavor != authNone && flavor != authSys {
		return fmt.Errorf("nfsloop: unsupported auth flavor %d", flavor)
	}
	return nil
}
