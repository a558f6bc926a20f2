// Copyright (c) 2023 cheng-zhongliang. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux || darwin || dragonfly || freebsd || netbsd || openbsd

package iomux

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// controlError wraps a failed control call, tagging the errnos callers branch on.
func controlError(call string, op CtlOp, fd int, err error) error {
	switch {
	case errors.Is(err, unix.ENOENT):
		err = fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, unix.EBADF) && op != CtlAdd:
		// a closed descriptor has already left the kernel set
		err = fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, unix.EEXIST):
		err = fmt.Errorf("%w: %w", ErrExists, err)
	}
	return &ControlError{Call: call, Op: op, Fd: fd, Err: err}
}

// temporaryErr reports errnos such as EAGAIN that resolve on retry.
func temporaryErr(err error) bool {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return false
	}
	return errno.Temporary()
}
