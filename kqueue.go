// Copyright (c) 2023 cheng-zhongliang. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build darwin || dragonfly || freebsd || netbsd || openbsd

package iomux

import (
	"fmt"
	"math"
	"sync"

	"golang.org/x/sys/unix"
)

// kqueueBinding creates kqueue instances.
type kqueueBinding struct {
	fdLimit int
}

func newPlatformBinding() Binding {
	b := &kqueueBinding{}
	var rl unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rl); err == nil && rl.Cur < math.MaxInt32 {
		b.fdLimit = int(rl.Cur)
	}
	return b
}

// DescriptorLimit returns the soft RLIMIT_NOFILE read at initialisation, or 0 if unbounded.
func (b *kqueueBinding) DescriptorLimit() int { return b.fdLimit }

// Create creates a kqueue with an event buffer of the given capacity.
func (b *kqueueBinding) Create(capacity int) (Facility, error) {
	fd, err := unix.Kqueue()
	if err != nil {
		return nil, fmt.Errorf("iomux: kqueue: %w", err)
	}
	unix.CloseOnExec(fd)
	buf := newEventBuffer(capacity)
	return &kqueue{
		fd:     fd,
		native: make([]unix.Kevent_t, buf.Cap()),
		buf:    buf,
	}, nil
}

// kqueue is the kqueue facility. Read and write interest are separate
// filters; EV_DISPATCH keeps a one-shot filter registered but disabled
// after it fires, which is what EPOLLONESHOT does on Linux.
type kqueue struct {
	fd     int
	native []unix.Kevent_t
	buf    *EventBuffer

	closeOnce sync.Once
	closeErr  error
}

// Control applies op to both filters of fd. EV_ADD updates an existing
// filter, so CtlAdd and CtlModify are the same change list.
func (kq *kqueue) Control(op CtlOp, fd int, ops Ops) error {
	var extra int
	if ops&OneShot != 0 {
		extra = unix.EV_DISPATCH
	}

	var changes [2]unix.Kevent_t
	filters := [2]struct {
		filter int
		want   bool
	}{
		{unix.EVFILT_READ, ops&OpRead != 0 && op != CtlDelete},
		{unix.EVFILT_WRITE, ops&OpWrite != 0 && op != CtlDelete},
	}
	switch op {
	case CtlAdd, CtlModify, CtlDelete:
	default:
		return &ControlError{Call: "kevent", Op: op, Fd: fd, Err: unix.EINVAL}
	}
	for i, f := range filters {
		if f.want {
			unix.SetKevent(&changes[i], fd, f.filter, unix.EV_ADD|unix.EV_ENABLE|unix.EV_RECEIPT|extra)
		} else {
			unix.SetKevent(&changes[i], fd, f.filter, unix.EV_DELETE|unix.EV_RECEIPT)
		}
	}

	var receipts [2]unix.Kevent_t
	n, err := unix.Kevent(kq.fd, changes[:], receipts[:], nil)
	if err != nil {
		return controlError("kevent", op, fd, err)
	}

	missing := 0
	for i := 0; i < n; i++ {
		r := receipts[i]
		if r.Flags&unix.EV_ERROR == 0 || r.Data == 0 {
			continue
		}
		errno := unix.Errno(r.Data)
		if errno == unix.ENOENT && r.Flags&unix.EV_DELETE != 0 {
			// deleting a filter that was never added
			missing++
			continue
		}
		return controlError("kevent", op, fd, errno)
	}
	if op == CtlDelete && missing == len(filters) {
		return controlError("kevent", op, fd, unix.ENOENT)
	}
	return nil
}

// Wait calls kevent and decodes one record per fired filter.
func (kq *kqueue) Wait(timeoutMs int) (int, error) {
	kq.buf.reset()
	var ts *unix.Timespec
	if timeoutMs >= 0 {
		t := unix.NsecToTimespec(int64(timeoutMs) * 1e6)
		ts = &t
	}
	native := kq.native
	n, err := unix.Kevent(kq.fd, nil, native, ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, ErrInterrupted
		}
		return 0, &WaitError{Call: "kevent", Err: err}
	}
	for i := 0; i < n; i++ {
		ev := &native[i]
		var ops Ops
		switch int(ev.Filter) {
		case unix.EVFILT_READ:
			ops |= OpRead
		case unix.EVFILT_WRITE:
			ops |= OpWrite
		}
		if ev.Flags&unix.EV_EOF != 0 {
			ops |= OpHangup
		}
		if ev.Flags&unix.EV_ERROR != 0 {
			ops |= OpError
		}
		kq.buf.push(int(ev.Ident), ops)
	}
	return n, nil
}

// Events returns the buffer filled by the last Wait.
func (kq *kqueue) Events() *EventBuffer { return kq.buf }

// Close closes the kqueue descriptor and frees the buffer.
func (kq *kqueue) Close() error {
	kq.closeOnce.Do(func() {
		kq.closeErr = unix.Close(kq.fd)
		kq.buf.free()
		kq.native = nil
	})
	return kq.closeErr
}
