// Copyright (c) 2023 cheng-zhongliang. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package iomux

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned when a Selector, Poller or PollerGroup is used after Close.
	ErrClosed = errors.New("iomux: use of closed multiplexer")
	// ErrInterrupted is returned by Facility.Wait when the wait was interrupted
	// by a signal before any event arrived. It is never surfaced by Select or Poll.
	ErrInterrupted = errors.New("iomux: wait interrupted")
	// ErrNotFound is matched by control errors for a descriptor that is not armed.
	ErrNotFound = errors.New("iomux: descriptor not registered")
	// ErrExists is matched by control errors for a descriptor that is already armed.
	ErrExists = errors.New("iomux: descriptor already registered")
	// ErrNotWakeable is returned by Wakeup on a dedicated poller.
	ErrNotWakeable = errors.New("iomux: poller has no wakeup descriptor")
	// ErrAlreadyRegistered is returned when a descriptor already has a live key.
	ErrAlreadyRegistered = errors.New("iomux: descriptor already has a key")
	// ErrCancelledKey is returned when changing the interest of a cancelled key.
	ErrCancelledKey = errors.New("iomux: key cancelled")
	// ErrAlreadyParked is returned when a goroutine already waits on the same descriptor and direction.
	ErrAlreadyParked = errors.New("iomux: descriptor already parked")
	// ErrAlreadyRunning is returned by a second call to PollerGroup.Run.
	ErrAlreadyRunning = errors.New("iomux: poller group already running")
	// ErrInvalidPollerCount is returned for a poller count that is not a power of two.
	ErrInvalidPollerCount = errors.New("iomux: poller count must be a power of two")
	// ErrUnsupported is returned on platforms without a readiness facility.
	ErrUnsupported = errors.New("iomux: readiness facility not supported on this platform")
)

// ControlError reports a failed control call on a facility.
type ControlError struct {
	// Call is the native call, e.g. epoll_ctl.
	Call string
	Op   CtlOp
	Fd   int
	Err  error
}

func (e *ControlError) Error() string {
	return fmt.Sprintf("iomux: %s(%s) fd=%d: %v", e.Call, e.Op, e.Fd, e.Err)
}

func (e *ControlError) Unwrap() error { return e.Err }

// WaitError reports a genuine failure of a facility wait call.
type WaitError struct {
	Call string
	Err  error
}

func (e *WaitError) Error() string {
	return fmt.Sprintf("iomux: %s: %v", e.Call, e.Err)
}

func (e *WaitError) Unwrap() error { return e.Err }
