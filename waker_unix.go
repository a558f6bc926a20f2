// Copyright (c) 2023 cheng-zhongliang. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux || darwin || dragonfly || freebsd || netbsd || openbsd

package iomux

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// wake makes the read end readable. A full pipe or a saturated eventfd
// already has a wakeup pending, so EAGAIN is success.
func (w *waker) wake() error {
	for {
		_, err := unix.Write(w.wfd, wakePayload[:])
		switch err {
		case nil, unix.EAGAIN:
			return nil
		case unix.EINTR:
			continue
		}
		return fmt.Errorf("iomux: wakeup write: %w", err)
	}
}

// drain consumes every pending wakeup.
func (w *waker) drain() error {
	var buf [64]byte
	for {
		n, err := unix.Read(w.rfd, buf[:])
		switch {
		case err == unix.EINTR:
			continue
		case err != nil && temporaryErr(err):
			return nil
		case err != nil:
			return fmt.Errorf("iomux: wakeup drain: %w", err)
		case n < len(buf):
			return nil
		}
	}
}

// close closes both ends once.
func (w *waker) close() error {
	w.closeOnce.Do(func() {
		w.closeErr = unix.Close(w.rfd)
		if w.wfd != w.rfd {
			if err := unix.Close(w.wfd); err != nil && w.closeErr == nil {
				w.closeErr = err
			}
		}
	})
	return w.closeErr
}
