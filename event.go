// Copyright (c) 2023 cheng-zhongliang. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package iomux

import (
	"fmt"
	"strings"
)

// Ops is a set of readiness operations.
type Ops uint32

const (
	// OpRead is readable readiness.
	OpRead Ops = 1 << iota
	// OpWrite is writable readiness.
	OpWrite
	// OpError is an error condition on the descriptor. Reported only.
	OpError
	// OpHangup is a hangup by the peer. Reported only.
	OpHangup
	// OneShot disables the registration after it reports once. Control only.
	OneShot
)

// interestOps are the ops a caller may express interest in.
const interestOps = OpRead | OpWrite

var opNames = [...]string{"read", "write", "error", "hangup", "oneshot"}

func (o Ops) String() string {
	if o == 0 {
		return "none"
	}
	var b strings.Builder
	for i, name := range opNames {
		if o&(1<<i) == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('|')
		}
		b.WriteString(name)
	}
	if rest := o &^ (1<<len(opNames) - 1); rest != 0 {
		if b.Len() > 0 {
			b.WriteByte('|')
		}
		fmt.Fprintf(&b, "%#x", uint32(rest))
	}
	return b.String()
}

// CtlOp is a control operation on a facility.
type CtlOp int

const (
	// CtlAdd arms a descriptor that is not registered.
	CtlAdd CtlOp = iota + 1
	// CtlModify re-arms a registered descriptor with a new mask.
	CtlModify
	// CtlDelete disarms a registered descriptor.
	CtlDelete
)

func (op CtlOp) String() string {
	switch op {
	case CtlAdd:
		return "ADD"
	case CtlModify:
		return "MOD"
	case CtlDelete:
		return "DEL"
	default:
		return fmt.Sprintf("CtlOp(%d)", int(op))
	}
}

// Event is one ready-event record decoded from a wait.
type Event struct {
	fd    int
	ready Ops
}

// Fd returns the descriptor the event is for.
func (ev Event) Fd() int { return ev.fd }

// Ready returns the ready operations reported for the descriptor.
func (ev Event) Ready() Ops { return ev.ready }
