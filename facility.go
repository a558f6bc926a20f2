// Copyright (c) 2023 cheng-zhongliang. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package iomux

import (
	"errors"
	"math"
	"sync"
	"time"
)

// Binding creates facility instances. One binding serves the whole process.
type Binding interface {
	// Create allocates one kernel instance and an event buffer of the given capacity.
	Create(capacity int) (Facility, error)
}

// Facility is one kernel readiness instance plus the event buffer its waits fill.
//
// Control may be called from any goroutine. Wait and Events belong to a
// single goroutine at a time.
type Facility interface {
	// Control arms, re-arms or disarms fd. Failures are *ControlError values
	// matching ErrNotFound or ErrExists where the kernel reports so.
	Control(op CtlOp, fd int, ops Ops) error
	// Wait blocks for up to timeoutMs milliseconds (-1 blocks indefinitely)
	// and returns the number of events decoded into Events. A wait cut short
	// by a signal returns ErrInterrupted.
	Wait(timeoutMs int) (int, error)
	// Events returns the buffer filled by the last Wait.
	Events() *EventBuffer
	// Close releases the kernel instance and the buffer. It is idempotent.
	Close() error
}

// descriptorLimiter is implemented by bindings that know the process descriptor limit.
type descriptorLimiter interface {
	DescriptorLimit() int
}

var defaultBinding struct {
	once sync.Once
	b    Binding
}

// DefaultBinding returns the platform binding, initialised once per process.
func DefaultBinding() Binding {
	defaultBinding.once.Do(func() {
		defaultBinding.b = newPlatformBinding()
	})
	return defaultBinding.b
}

// selectorCapacity bounds the selector buffer by the descriptor limit.
func selectorCapacity(b Binding) int {
	n := maxSelectorCapacity
	if l, ok := b.(descriptorLimiter); ok {
		if lim := l.DescriptorLimit(); lim > 0 && lim < n {
			n = lim
		}
	}
	return n
}

// timeoutMillis converts a timeout to the facility unit. Negative means no
// timeout; positive values round up so a short wait never becomes a poll.
func timeoutMillis(d time.Duration) int {
	switch {
	case d < 0:
		return -1
	case d == 0:
		return 0
	}
	ms := (d + time.Millisecond - 1) / time.Millisecond
	if ms > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(ms)
}

// waitFor waits on fac, retrying interrupted waits against the original
// deadline. An interrupted wait whose deadline has passed yields zero events.
func waitFor(fac Facility, timeout time.Duration, log *Logger) (int, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	ms := timeoutMillis(timeout)
	for {
		n, err := fac.Wait(ms)
		if !errors.Is(err, ErrInterrupted) {
			return n, err
		}
		if timeout == 0 {
			return 0, nil
		}
		if timeout > 0 {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return 0, nil
			}
			ms = timeoutMillis(remaining)
		}
		log.Trace().Int("timeout_ms", ms).Log("wait interrupted, retrying")
	}
}
