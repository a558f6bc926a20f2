// Copyright (c) 2023 cheng-zhongliang. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package iomux

import (
	"fmt"
	"math"
	"sync"

	"golang.org/x/sys/unix"
)

// epollBinding creates epoll instances.
type epollBinding struct {
	fdLimit int
}

func newPlatformBinding() Binding {
	b := &epollBinding{}
	var rl unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rl); err == nil && rl.Cur < math.MaxInt32 {
		b.fdLimit = int(rl.Cur)
	}
	return b
}

// DescriptorLimit returns the soft RLIMIT_NOFILE read at initialisation, or 0 if unbounded.
func (b *epollBinding) DescriptorLimit() int { return b.fdLimit }

// Create creates an epoll instance with an event buffer of the given capacity.
func (b *epollBinding) Create(capacity int) (Facility, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("iomux: epoll_create1: %w", err)
	}
	buf := newEventBuffer(capacity)
	return &epoll{
		fd:     fd,
		native: make([]unix.EpollEvent, buf.Cap()),
		buf:    buf,
	}, nil
}

// epoll is the epoll facility.
type epoll struct {
	fd     int
	native []unix.EpollEvent
	buf    *EventBuffer

	closeOnce sync.Once
	closeErr  error
}

// Control issues epoll_ctl for fd.
func (ep *epoll) Control(op CtlOp, fd int, ops Ops) error {
	var ctl int
	switch op {
	case CtlAdd:
		ctl = unix.EPOLL_CTL_ADD
	case CtlModify:
		ctl = unix.EPOLL_CTL_MOD
	case CtlDelete:
		ctl = unix.EPOLL_CTL_DEL
	default:
		return &ControlError{Call: "epoll_ctl", Op: op, Fd: fd, Err: unix.EINVAL}
	}

	// kernels before 2.6.9 require a non-nil event even for EPOLL_CTL_DEL
	ev := unix.EpollEvent{Events: toEpollEvents(ops), Fd: int32(fd)}
	if err := unix.EpollCtl(ep.fd, ctl, fd, &ev); err != nil {
		return controlError("epoll_ctl", op, fd, err)
	}
	return nil
}

// Wait calls epoll_wait and decodes the ready events.
func (ep *epoll) Wait(timeoutMs int) (int, error) {
	ep.buf.reset()
	native := ep.native
	n, err := unix.EpollWait(ep.fd, native, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, ErrInterrupted
		}
		return 0, &WaitError{Call: "epoll_wait", Err: err}
	}
	for i := 0; i < n; i++ {
		ep.buf.push(int(native[i].Fd), fromEpollEvents(native[i].Events))
	}
	return n, nil
}

// Events returns the buffer filled by the last Wait.
func (ep *epoll) Events() *EventBuffer { return ep.buf }

// Close closes the epoll descriptor and frees the buffer.
func (ep *epoll) Close() error {
	ep.closeOnce.Do(func() {
		ep.closeErr = unix.Close(ep.fd)
		ep.buf.free()
		ep.native = nil
	})
	return ep.closeErr
}

func toEpollEvents(ops Ops) uint32 {
	var events uint32
	if ops&OpRead != 0 {
		events |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if ops&OpWrite != 0 {
		events |= unix.EPOLLOUT
	}
	if ops&OneShot != 0 {
		events |= unix.EPOLLONESHOT
	}
	return events
}

func fromEpollEvents(events uint32) Ops {
	var ops Ops
	if events&unix.EPOLLIN != 0 {
		ops |= OpRead
	}
	if events&unix.EPOLLOUT != 0 {
		ops |= OpWrite
	}
	if events&unix.EPOLLERR != 0 {
		ops |= OpError
	}
	if events&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		ops |= OpHangup
	}
	return ops
}
