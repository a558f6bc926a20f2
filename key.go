// Copyright (c) 2023 cheng-zhongliang. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package iomux

import (
	"fmt"
	"sync/atomic"
)

// Key is the registration of one descriptor with a Selector.
//
// Interest changes and cancellation are queued and take effect at the start
// of the next selection cycle.
type Key struct {
	sel        *Selector
	fd         int
	attachment any

	interest atomic.Uint32
	valid    atomic.Bool

	// owned by the selecting goroutine
	ready        Ops
	readyElem    *keyElement
	updatedCycle uint64
}

func newKey(sel *Selector, fd int, interest Ops, attachment any) *Key {
	k := &Key{sel: sel, fd: fd, attachment: attachment}
	k.interest.Store(uint32(interest))
	k.valid.Store(true)
	return k
}

// Fd returns the descriptor.
func (k *Key) Fd() int { return k.fd }

// Selector returns the selector the key was registered with.
func (k *Key) Selector() *Selector { return k.sel }

// Attachment returns the value passed to Register.
func (k *Key) Attachment() any { return k.attachment }

// Interest returns the most recently requested interest set.
func (k *Key) Interest() Ops { return Ops(k.interest.Load()) }

// Ready returns the ready set observed by the last Select that found the
// key ready. It is only meaningful while the key is in the ready set.
func (k *Key) Ready() Ops { return k.ready }

// Readable reports whether the key was found ready for reading.
func (k *Key) Readable() bool { return k.ready&OpRead != 0 }

// Writable reports whether the key was found ready for writing.
func (k *Key) Writable() bool { return k.ready&OpWrite != 0 }

// Valid reports whether the key is neither cancelled nor its selector closed.
func (k *Key) Valid() bool { return k.valid.Load() }

// SetInterest replaces the interest set. It never blocks on a Select in
// progress.
func (k *Key) SetInterest(ops Ops) error {
	if ops&^interestOps != 0 {
		return fmt.Errorf("iomux: invalid interest %s", ops)
	}
	if k.sel.closed.Load() {
		return ErrClosed
	}
	if !k.Valid() {
		return ErrCancelledKey
	}
	k.interest.Store(uint32(ops))
	k.sel.updates.push(k)
	return nil
}

// Cancel requests deregistration. The descriptor is removed from the
// facility by the next selection cycle. Cancel is idempotent.
func (k *Key) Cancel() {
	if k.valid.CompareAndSwap(true, false) {
		k.sel.cancelled.push(k)
	}
}

func (k *Key) String() string {
	return fmt.Sprintf("Key{fd=%d interest=%s ready=%s}", k.fd, k.Interest(), k.ready)
}
