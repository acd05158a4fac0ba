// Copyright (c) 2025 The Basalt Authors
//
// SPDX-License-Identifier: Apache-2.0

// Package iscsiloop implements the iSCSI loopback back-end's addressing
// scheme (spec §4.5): "the service binds an iSCSI target on 127.0.0.1 at
// 3260 + slot − 1 with an IQN derived from the slot". The login/session
// state machine itself is not implemented — see DESIGN.md for why: no
// iSCSI target library appears anywhere in the retrieved example corpus,
// and a from-scratch iSCSI target (login PDU negotiation, CHAP,
// SCSI CDB emulation over iSCSI PDUs) is an order of magnitude larger
// than the NFSv4 loopback subset, for a back-end the spec lists as one
// of three interchangeable options rather than the one every mount
// exercises.
package iscsiloop

import "fmt"

// iqnPrefix is this implementation's iSCSI Qualified Name authority
// string (RFC 3720 §3.2.6.3.1): "iqn.<yyyy-mm>.<reversed domain>:<name>".
const iqnPrefix = "iqn.2025-01.org.basalt-project"

// Port returns the TCP port the iSCSI target for the given mount slot
// binds on 127.0.0.1 (spec §4.5: "3260 + slot − 1").
func Port(slot int) int {
	return 3260 + slot - 1
}

// IQN returns the target name a host iSCSI initiator connects to for
// the given mount slot.
func IQN(slot int) string {
	return fmt.Sprintf("%s:slot%d", iqnPrefix, slot)
}

// Target describes one loopback iSCSI target's addressing; Serve is not
// implemented (see package doc).
type Target struct {
	Slot int
	Port int
	IQN  string
}

// NewTarget computes the addressing for slot without starting anything.
func NewTarget(slot int) Target {
	return Target{Slot: slot, Port: Port(slot), IQN: IQN(slot)}
}

// ErrNotImplemented is returned by any operation beyond addressing.
var ErrNotImplemented = fmt.Errorf("iscsiloop: target login/session state machine not implemented")

// Serve would bind the target and run its login/session state machine;
// it is not implemented (see package doc) and always fails.
func (t Target) Serve() error {
	return ErrNotImplemented
}
