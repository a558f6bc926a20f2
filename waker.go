// Copyright (c) 2023 cheng-zhongliang. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package iomux

import "sync"

// waker is the descriptor pair used to interrupt a blocked wait. Writing to
// wfd makes rfd readable until drained. On Linux both are one eventfd.
type waker struct {
	rfd int
	wfd int

	closeOnce sync.Once
	closeErr  error
}

// arm registers the read end in fac, level-triggered, so a pending wakeup
// keeps interrupting waits until it is drained.
func (w *waker) arm(fac Facility) error {
	return fac.Control(CtlAdd, w.rfd, OpRead)
}
