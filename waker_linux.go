// Copyright (c) 2023 cheng-zhongliang. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package iomux

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// eventfd writes must be 8 bytes; any non-zero value increments the counter.
var wakePayload = [8]byte{1}

// newWaker creates a non-blocking eventfd used as both ends.
func newWaker() (*waker, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("iomux: eventfd: %w", err)
	}
	return &waker{rfd: fd, wfd: fd}, nil
}
