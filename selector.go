// Copyright (c) 2023 cheng-zhongliang. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package iomux

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Selector multiplexes readiness of many descriptors behind one blocking
// wait. Register, SetInterest and Cancel may be called from any goroutine
// and only queue work; the queued changes are applied by the next Select.
type Selector struct {
	// mu is held for a whole selection cycle.
	mu   sync.Mutex
	fac  Facility
	wake *waker
	log  *Logger

	// owned by the goroutine holding mu
	keys       map[int]*Key
	registered map[int]struct{}
	ready      ReadySet
	cycle      uint64
	updateBuf  []*Key
	keyBuf     []*Key
	seen       map[*Key]struct{}

	// regMu guards members, the live key per descriptor seen by Register.
	regMu   sync.Mutex
	members map[int]*Key

	newKeys   *updateQueue[*Key]
	updates   *updateQueue[*Key]
	cancelled *updateQueue[*Key]

	// interruptMu orders wakeup writes against draining and closing.
	interruptMu        sync.Mutex
	interruptTriggered bool
	closed             atomic.Bool
}

// NewSelector opens a facility and its interrupt descriptor.
func NewSelector(opts ...Option) (*Selector, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	capacity := cfg.capacity
	if capacity == 0 {
		capacity = selectorCapacity(cfg.binding)
	}

	fac, err := cfg.binding.Create(capacity)
	if err != nil {
		return nil, err
	}
	w, err := newWaker()
	if err != nil {
		_ = fac.Close()
		return nil, err
	}
	if err := w.arm(fac); err != nil {
		_ = w.close()
		_ = fac.Close()
		return nil, err
	}

	s := &Selector{
		fac:        fac,
		wake:       w,
		log:        cfg.logger,
		keys:       make(map[int]*Key),
		registered: make(map[int]struct{}),
		seen:       make(map[*Key]struct{}),
		members:    make(map[int]*Key),
		newKeys:    newUpdateQueue[*Key](),
		updates:    newUpdateQueue[*Key](),
		cancelled:  newUpdateQueue[*Key](),
	}
	s.log.Debug().Int("capacity", capacity).Log("selector created")
	return s, nil
}

// Register queues fd for registration with the given interest. The
// descriptor is armed by the next selection cycle.
func (s *Selector) Register(fd int, interest Ops, attachment any) (*Key, error) {
	if fd < 0 {
		return nil, fmt.Errorf("iomux: invalid descriptor %d", fd)
	}
	if interest&^interestOps != 0 {
		return nil, fmt.Errorf("iomux: invalid interest %s", interest)
	}

	s.regMu.Lock()
	defer s.regMu.Unlock()
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if old, ok := s.members[fd]; ok && old.Valid() {
		return nil, ErrAlreadyRegistered
	}
	k := newKey(s, fd, interest, attachment)
	s.members[fd] = k
	s.newKeys.push(k)
	s.updates.push(k)
	return k, nil
}

// Select runs one selection cycle, waiting up to timeout for readiness. A
// negative timeout waits until a descriptor is ready or Wakeup is called.
// It returns the number of keys added to the ready set or whose ready set
// grew.
func (s *Selector) Select(timeout time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return 0, ErrClosed
	}
	return s.doSelect(timeout)
}

// SelectNow runs one selection cycle without blocking.
func (s *Selector) SelectNow() (int, error) {
	return s.Select(0)
}

// SelectContext runs one selection cycle without a timeout, woken when ctx
// is done. If the cycle ends because of ctx with no ready keys, ctx.Err()
// is returned.
func (s *Selector) SelectContext(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	stop := context.AfterFunc(ctx, func() { s.Wakeup() })
	defer stop()
	n, err := s.Select(-1)
	if err == nil && n == 0 && ctx.Err() != nil {
		return 0, ctx.Err()
	}
	return n, err
}

func (s *Selector) doSelect(timeout time.Duration) (int, error) {
	s.processNewKeys()
	if err := s.processDeregistrations(); err != nil {
		return 0, err
	}
	if err := s.processUpdates(); err != nil {
		return 0, err
	}

	s.cycle++
	if _, err := waitFor(s.fac, timeout, s.log); err != nil {
		return 0, err
	}

	updated, interrupted := s.processEvents()
	if interrupted {
		if err := s.clearInterrupt(); err != nil {
			return updated, err
		}
	}

	if err := s.processDeregistrations(); err != nil {
		return updated, err
	}
	if err := s.processUpdates(); err != nil {
		return updated, err
	}
	return updated, nil
}

func (s *Selector) processNewKeys() {
	s.keyBuf = s.newKeys.drain(s.keyBuf[:0])
	for _, k := range s.keyBuf {
		if k.Valid() {
			s.keys[k.fd] = k
		}
	}
	clear(s.keyBuf)
}

func (s *Selector) processDeregistrations() error {
	s.keyBuf = s.cancelled.drain(s.keyBuf[:0])
	defer clear(s.keyBuf)
	for _, k := range s.keyBuf {
		if err := s.deregister(k); err != nil {
			return err
		}
	}
	return nil
}

// deregister removes a cancelled key. The facility registration belongs to
// the key only while the registry still maps its descriptor to it; a newer
// key for a reused descriptor number keeps it.
func (s *Selector) deregister(k *Key) error {
	s.ready.Remove(k)
	s.regMu.Lock()
	if s.members[k.fd] == k {
		delete(s.members, k.fd)
	}
	s.regMu.Unlock()

	if s.keys[k.fd] != k {
		return nil
	}
	delete(s.keys, k.fd)
	if _, armed := s.registered[k.fd]; !armed {
		return nil
	}
	delete(s.registered, k.fd)
	err := s.fac.Control(CtlDelete, k.fd, 0)
	if errors.Is(err, ErrNotFound) {
		s.log.Debug().Int("fd", k.fd).Log("deregister: descriptor not armed")
		return nil
	}
	if err != nil {
		s.log.Err().Err(err).Int("fd", k.fd).Log("deregister failed")
	}
	return err
}

// processUpdates applies queued interest changes. A key queued several
// times is armed once, with the interest it holds at drain time, so the
// facility mask always matches Interest.
func (s *Selector) processUpdates() error {
	s.updateBuf = s.updates.drain(s.updateBuf[:0])
	defer func() {
		clear(s.updateBuf)
		clear(s.seen)
	}()
	for i := len(s.updateBuf) - 1; i >= 0; i-- {
		k := s.updateBuf[i]
		if _, dup := s.seen[k]; dup {
			continue
		}
		s.seen[k] = struct{}{}
		if !k.Valid() {
			continue
		}
		// a key registered after this cycle drained the new keys replaces
		// any cancelled key still mapped to the descriptor
		s.keys[k.fd] = k
		if err := s.applyInterest(k, k.Interest()); err != nil {
			return err
		}
	}
	return nil
}

func (s *Selector) applyInterest(k *Key, ops Ops) error {
	fd := k.fd
	_, armed := s.registered[fd]
	var err error
	switch {
	case ops == 0 && armed:
		err = s.fac.Control(CtlDelete, fd, 0)
		if errors.Is(err, ErrNotFound) {
			err = nil
		}
		delete(s.registered, fd)
	case armed:
		err = s.fac.Control(CtlModify, fd, ops)
		if errors.Is(err, ErrNotFound) {
			s.log.Debug().Int("fd", fd).Log("descriptor left the facility, adding")
			err = s.fac.Control(CtlAdd, fd, ops)
		}
	case ops != 0:
		err = s.fac.Control(CtlAdd, fd, ops)
		if errors.Is(err, ErrExists) {
			err = s.fac.Control(CtlModify, fd, ops)
		}
		if err == nil {
			s.registered[fd] = struct{}{}
		}
	}
	if err != nil {
		s.log.Err().Err(err).Int("fd", fd).Stringer("interest", ops).Log("interest update failed")
		return err
	}
	return nil
}

// processEvents translates the events of the last wait into the ready set.
func (s *Selector) processEvents() (updated int, interrupted bool) {
	buf := s.fac.Events()
	for i := 0; i < buf.Len(); i++ {
		ev := buf.At(i)
		if ev.Fd() == s.wake.rfd {
			interrupted = true
			continue
		}
		k, ok := s.keys[ev.Fd()]
		if !ok || !k.Valid() {
			continue
		}
		if s.translate(k, ev.Ready()) && k.updatedCycle != s.cycle {
			k.updatedCycle = s.cycle
			updated++
		}
	}
	return updated, interrupted
}

// translate merges ready into k, reporting whether k was added to the ready
// set or its ready ops grew.
func (s *Selector) translate(k *Key, ready Ops) bool {
	interest := k.Interest()
	var ops Ops
	if ready&(OpError|OpHangup) != 0 {
		ops = interest
	} else {
		ops = ready & interest & interestOps
	}

	if s.ready.Contains(k) {
		old := k.ready
		k.ready |= ops
		return k.ready != old
	}
	k.ready = ops
	if ops == 0 {
		return false
	}
	s.ready.add(k)
	return true
}

func (s *Selector) clearInterrupt() error {
	s.interruptMu.Lock()
	defer s.interruptMu.Unlock()
	err := s.wake.drain()
	if !s.closed.Load() {
		s.interruptTriggered = false
	}
	return err
}

// Ready returns the ready set. It must only be used by the goroutine that
// calls Select.
func (s *Selector) Ready() *ReadySet { return &s.ready }

// Wakeup makes a blocked Select return, or the next Select return at once
// if none is in progress. It is safe to call from any goroutine, any number
// of times, and after Close.
func (s *Selector) Wakeup() *Selector {
	s.interruptMu.Lock()
	defer s.interruptMu.Unlock()
	if s.interruptTriggered {
		return s
	}
	if err := s.wake.wake(); err != nil {
		s.log.Warning().Err(err).Log("wakeup failed")
		return s
	}
	s.interruptTriggered = true
	return s
}

// Keys returns the keys registered with the facility. It waits for a
// Select in progress to finish.
func (s *Selector) Keys() []*Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]*Key, 0, len(s.keys))
	for _, k := range s.keys {
		if k.Valid() {
			keys = append(keys, k)
		}
	}
	return keys
}

// Close wakes a blocked Select, releases the facility and the interrupt
// descriptor, and invalidates every key. Close is idempotent.
func (s *Selector) Close() error {
	s.interruptMu.Lock()
	if s.closed.Load() {
		s.interruptMu.Unlock()
		return nil
	}
	if !s.interruptTriggered {
		_ = s.wake.wake()
	}
	s.interruptTriggered = true
	s.closed.Store(true)
	s.interruptMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	err := errors.Join(s.fac.Close(), s.wake.close())

	for _, k := range s.keys {
		k.valid.Store(false)
	}
	s.keyBuf = s.newKeys.drain(s.keyBuf[:0])
	s.keyBuf = s.cancelled.drain(s.keyBuf)
	for _, k := range s.keyBuf {
		k.valid.Store(false)
	}
	clear(s.keyBuf)
	s.updates.drain(nil)

	s.regMu.Lock()
	for _, k := range s.members {
		k.valid.Store(false)
	}
	clear(s.members)
	s.regMu.Unlock()

	s.ready.Clear()
	clear(s.keys)
	clear(s.registered)

	s.log.Debug().Log("selector closed")
	return err
}
