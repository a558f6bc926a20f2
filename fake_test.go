// Copyright (c) 2023 cheng-zhongliang. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package iomux

import (
	"sync"
	"time"
)

type ctlCall struct {
	op  CtlOp
	fd  int
	ops Ops
}

type fakeWait struct {
	events []Event
	err    error
	// block sleeps for the requested timeout before returning
	block bool
}

// fakeFacility keeps the armed set the way the kernel would and records
// every control call and wait timeout.
type fakeFacility struct {
	mu       sync.Mutex
	armed    map[int]Ops
	calls    []ctlCall
	waits    []fakeWait
	timeouts []int
	buf      *EventBuffer
	closed   bool
	// lateCalls counts control calls issued after Close
	lateCalls int
}

func newFakeFacility(capacity int) *fakeFacility {
	return &fakeFacility{armed: make(map[int]Ops), buf: newEventBuffer(capacity)}
}

func (f *fakeFacility) Control(op CtlOp, fd int, ops Ops) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ctlCall{op: op, fd: fd, ops: ops})
	if f.closed {
		f.lateCalls++
	}
	_, armed := f.armed[fd]
	switch op {
	case CtlAdd:
		if armed {
			return &ControlError{Call: "fake", Op: op, Fd: fd, Err: ErrExists}
		}
		f.armed[fd] = ops
	case CtlModify:
		if !armed {
			return &ControlError{Call: "fake", Op: op, Fd: fd, Err: ErrNotFound}
		}
		f.armed[fd] = ops
	case CtlDelete:
		if !armed {
			return &ControlError{Call: "fake", Op: op, Fd: fd, Err: ErrNotFound}
		}
		delete(f.armed, fd)
	}
	return nil
}

func (f *fakeFacility) Wait(timeoutMs int) (int, error) {
	f.mu.Lock()
	f.timeouts = append(f.timeouts, timeoutMs)
	f.buf.reset()
	if len(f.waits) == 0 {
		f.mu.Unlock()
		return 0, nil
	}
	w := f.waits[0]
	f.waits = f.waits[1:]
	f.mu.Unlock()

	if w.block && timeoutMs > 0 {
		time.Sleep(time.Duration(timeoutMs) * time.Millisecond)
	}
	if w.err != nil {
		return 0, w.err
	}
	for _, ev := range w.events {
		f.buf.push(ev.fd, ev.ready)
	}
	return len(w.events), nil
}

func (f *fakeFacility) Events() *EventBuffer { return f.buf }

func (f *fakeFacility) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeFacility) script(waits ...fakeWait) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waits = append(f.waits, waits...)
}

// take returns and forgets the recorded control calls.
func (f *fakeFacility) take() []ctlCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	calls := f.calls
	f.calls = nil
	return calls
}

func (f *fakeFacility) isArmed(fd int) (Ops, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ops, ok := f.armed[fd]
	return ops, ok
}

// drop forgets fd as the kernel does when a descriptor is closed.
func (f *fakeFacility) drop(fd int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.armed, fd)
}

func (f *fakeFacility) controlsAfterClose() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lateCalls
}

func (f *fakeFacility) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeBinding struct {
	mu         sync.Mutex
	facilities []*fakeFacility
	capacities []int
	err        error
}

func (b *fakeBinding) Create(capacity int) (Facility, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	f := newFakeFacility(capacity)
	b.facilities = append(b.facilities, f)
	b.capacities = append(b.capacities, capacity)
	return f, nil
}

func (b *fakeBinding) last() *fakeFacility {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.facilities[len(b.facilities)-1]
}

func ev(fd int, ready Ops) Event { return Event{fd: fd, ready: ready} }
