// Copyright (c) 2023 cheng-zhongliang. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build darwin || dragonfly || freebsd || netbsd || openbsd

package iomux

import (
	"fmt"

	"golang.org/x/sys/unix"
)

var wakePayload = [1]byte{1}

// newWaker creates a non-blocking, close-on-exec self-pipe.
func newWaker() (*waker, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return nil, fmt.Errorf("iomux: pipe: %w", err)
	}
	cleanup := func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	}
	for _, fd := range fds {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			cleanup()
			return nil, fmt.Errorf("iomux: pipe nonblock: %w", err)
		}
	}
	return &waker{rfd: fds[0], wfd: fds[1]}, nil
}
