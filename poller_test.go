// Copyright (c) 2023 cheng-zhongliang. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package iomux

import (
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type readyRecorder struct {
	mu  sync.Mutex
	fds []int
}

func (r *readyRecorder) ready(fd int) {
	r.mu.Lock()
	r.fds = append(r.fds, fd)
	r.mu.Unlock()
}

func (r *readyRecorder) take() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	fds := r.fds
	r.fds = nil
	return fds
}

func TestNewPollerValidates(t *testing.T) {
	_, err := NewPoller(OpRead|OpWrite, func(int) {})
	assert.Error(t, err)
	_, err = NewSubPoller(OpRead, nil)
	assert.Error(t, err)

	b := &fakeBinding{err: assert.AnError}
	_, err = NewSubPoller(OpRead, func(int) {}, WithBinding(b))
	assert.ErrorIs(t, err, assert.AnError)
}

func TestPollerCapacities(t *testing.T) {
	b := &fakeBinding{}
	p, err := NewPoller(OpRead, func(int) {}, WithBinding(b))
	require.NoError(t, err)
	defer p.Close()
	sp, err := NewSubPoller(OpWrite, func(int) {}, WithBinding(b))
	require.NoError(t, err)
	defer sp.Close()

	assert.Equal(t, []int{PollerCapacity, SubPollerCapacity}, b.capacities)
	assert.False(t, p.Wakeable())
	assert.True(t, sp.Wakeable())
	assert.Equal(t, OpWrite, sp.Direction())

	// the wakeup descriptor is armed level-triggered
	calls := b.last().take()
	require.Len(t, calls, 1)
	assert.Equal(t, ctlCall{op: CtlAdd, fd: sp.res.wake.rfd, ops: OpRead}, calls[0])
}

func TestPollerStartPollFallsBackToAdd(t *testing.T) {
	b := &fakeBinding{}
	p, err := NewPoller(OpWrite, func(int) {}, WithBinding(b))
	require.NoError(t, err)
	defer p.Close()
	fac := b.last()

	require.NoError(t, p.StartPoll(7))
	assert.Equal(t, []ctlCall{
		{op: CtlModify, fd: 7, ops: OpWrite | OneShot},
		{op: CtlAdd, fd: 7, ops: OpWrite | OneShot},
	}, fac.take())

	require.NoError(t, p.StartPoll(7))
	assert.Equal(t, []ctlCall{{op: CtlModify, fd: 7, ops: OpWrite | OneShot}}, fac.take())
}

func TestPollerStopPoll(t *testing.T) {
	b := &fakeBinding{}
	p, err := NewPoller(OpRead, func(int) {}, WithBinding(b))
	require.NoError(t, err)
	defer p.Close()
	fac := b.last()

	require.NoError(t, p.StartPoll(3))
	fac.take()

	require.NoError(t, p.StopPoll(3, true))
	assert.Empty(t, fac.take())

	require.NoError(t, p.StopPoll(3, false))
	assert.Equal(t, []ctlCall{{op: CtlDelete, fd: 3}}, fac.take())

	require.NoError(t, p.StopPoll(3, false))
}

func TestPollerRearm(t *testing.T) {
	var rec readyRecorder
	p, err := NewPoller(OpRead, rec.ready)
	require.NoError(t, err)
	defer p.Close()

	r, w := newPipe(t)
	writeByte(t, w)

	require.NoError(t, p.StartPoll(r))
	n, err := p.Poll(time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []int{r}, rec.take())

	// one-shot: the unread byte does not fire again
	n, err = p.Poll(10 * time.Millisecond)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, p.StartPoll(r))
	n, err = p.Poll(time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []int{r}, rec.take())
}

func TestPollerStopPollDisarms(t *testing.T) {
	var rec readyRecorder
	p, err := NewPoller(OpRead, rec.ready)
	require.NoError(t, err)
	defer p.Close()

	r, w := newPipe(t)
	require.NoError(t, p.StartPoll(r))
	require.NoError(t, p.StopPoll(r, false))
	writeByte(t, w)

	n, err := p.Poll(10 * time.Millisecond)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, rec.take())
}

func TestSubPollerWakeup(t *testing.T) {
	var rec readyRecorder
	p, err := NewSubPoller(OpRead, rec.ready)
	require.NoError(t, err)
	defer p.Close()

	done := make(chan struct{})
	var n int
	var pollErr error
	go func() {
		defer close(done)
		n, pollErr = p.Poll(-1)
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, p.Wakeup())
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("poll not woken")
	}
	require.NoError(t, pollErr)
	assert.Zero(t, n)
	assert.Empty(t, rec.take())

	// the wakeup was drained
	n, err = p.Poll(10 * time.Millisecond)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSubPollerWakeupKeepsRegistration(t *testing.T) {
	var rec readyRecorder
	p, err := NewSubPoller(OpRead, rec.ready)
	require.NoError(t, err)
	defer p.Close()

	r, w := newPipe(t)
	require.NoError(t, p.StartPoll(r))

	done := make(chan int, 1)
	go func() {
		n, err := p.Poll(-1)
		assert.NoError(t, err)
		done <- n
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, p.Wakeup())
	select {
	case n := <-done:
		assert.Zero(t, n)
	case <-time.After(5 * time.Second):
		t.Fatal("poll not woken")
	}

	writeByte(t, w)
	n, err := p.Poll(time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []int{r}, rec.take())
}

func TestSubPollerWakeupBeforePoll(t *testing.T) {
	p, err := NewSubPoller(OpWrite, func(int) {})
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Wakeup())
	require.NoError(t, p.Wakeup())

	start := time.Now()
	n, err := p.Poll(5 * time.Second)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Less(t, time.Since(start), time.Second)
}

func TestPollerWakeupNotSupported(t *testing.T) {
	p, err := NewPoller(OpRead, func(int) {})
	require.NoError(t, err)
	defer p.Close()
	assert.ErrorIs(t, p.Wakeup(), ErrNotWakeable)
}

func TestPollerClose(t *testing.T) {
	p, err := NewSubPoller(OpRead, func(int) {})
	require.NoError(t, err)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.NoError(t, p.Wakeup())

	_, err = p.Poll(0)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, p.StartPoll(1), ErrClosed)
	assert.ErrorIs(t, p.StopPoll(1, false), ErrClosed)
}

func TestPollerCloseOrdersControlCalls(t *testing.T) {
	for range 20 {
		b := &fakeBinding{}
		p, err := NewSubPoller(OpRead, func(int) {}, WithBinding(b))
		require.NoError(t, err)
		fac := b.last()

		var wg sync.WaitGroup
		for i := range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				fd := 100 + i
				for {
					if err := p.StartPoll(fd); err != nil {
						assert.ErrorIs(t, err, ErrClosed)
						return
					}
					if err := p.StopPoll(fd, false); err != nil {
						assert.ErrorIs(t, err, ErrClosed)
						return
					}
				}
			}()
		}
		time.Sleep(time.Millisecond)
		require.NoError(t, p.Close())
		wg.Wait()

		assert.Zero(t, fac.controlsAfterClose())
	}
}

func TestSubPollerReleasedWhenUnreachable(t *testing.T) {
	b := &fakeBinding{}
	func() {
		p, err := NewSubPoller(OpRead, func(int) {}, WithBinding(b))
		require.NoError(t, err)
		_ = p
	}()
	fac := b.last()

	assert.Eventually(t, func() bool {
		runtime.GC()
		return fac.isClosed()
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSubPollerCloseStopsCleanup(t *testing.T) {
	b := &fakeBinding{}
	p, err := NewSubPoller(OpRead, func(int) {}, WithBinding(b))
	require.NoError(t, err)
	fac := b.last()

	require.NoError(t, p.Close())
	assert.True(t, fac.isClosed())
	runtime.GC()
	runtime.KeepAlive(p)
}
