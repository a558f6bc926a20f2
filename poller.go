// Copyright (c) 2023 cheng-zhongliang. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package iomux

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// ReadyFunc is called by Poll for each descriptor whose one-shot interest fired.
type ReadyFunc func(fd int)

// pollerResources is everything a Poller must release. It is kept apart
// from the Poller so a reachability cleanup on the Poller can release it.
type pollerResources struct {
	fac  Facility
	wake *waker

	// mu is held shared by control calls and wakeup writes, and
	// exclusively by release, so neither reaches a closed descriptor.
	mu     sync.RWMutex
	closed atomic.Bool

	once sync.Once
	err  error
}

func (r *pollerResources) release() error {
	r.once.Do(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.closed.Store(true)

		errs := []error{r.fac.Close()}
		if r.wake != nil {
			errs = append(errs, r.wake.close())
		}
		r.err = errors.Join(errs...)
	})
	return r.err
}

// Poller serves one-shot readiness requests for a single direction.
//
// A dedicated poller is driven by one goroutine and closed by its owner. A
// wakeable sub-poller can additionally be interrupted from any goroutine,
// and releases its descriptors when it becomes unreachable if nobody
// closed it.
type Poller struct {
	res     *pollerResources
	dir     Ops
	onReady ReadyFunc
	log     *Logger
	cleanup runtime.Cleanup
}

// NewPoller creates a dedicated poller for dir (OpRead or OpWrite).
func NewPoller(dir Ops, onReady ReadyFunc, opts ...Option) (*Poller, error) {
	return newPoller(dir, onReady, PollerCapacity, false, opts)
}

// NewSubPoller creates a wakeable sub-poller for dir (OpRead or OpWrite).
func NewSubPoller(dir Ops, onReady ReadyFunc, opts ...Option) (*Poller, error) {
	return newPoller(dir, onReady, SubPollerCapacity, true, opts)
}

func newPoller(dir Ops, onReady ReadyFunc, capacity int, wakeable bool, opts []Option) (*Poller, error) {
	if dir != OpRead && dir != OpWrite {
		return nil, fmt.Errorf("iomux: poller direction must be read or write, got %s", dir)
	}
	if onReady == nil {
		return nil, errors.New("iomux: nil ready callback")
	}
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	fac, err := cfg.binding.Create(capacity)
	if err != nil {
		return nil, err
	}
	res := &pollerResources{fac: fac}
	if wakeable {
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
		res.wake = w
	}

	p := &Poller{
		res:     res,
		dir:     dir,
		onReady: onReady,
		log:     cfg.logger,
	}
	if wakeable {
		log := cfg.logger
		p.cleanup = runtime.AddCleanup(p, func(r *pollerResources) {
			if err := r.release(); err != nil {
				log.Warning().Err(err).Log("releasing unreachable sub-poller")
			}
		}, res)
	}

	p.log.Debug().
		Stringer("direction", dir).
		Bool("wakeable", wakeable).
		Int("capacity", capacity).
		Log("poller created")

	return p, nil
}

// Direction returns the direction the poller arms descriptors for.
func (p *Poller) Direction() Ops { return p.dir }

// Wakeable reports whether Wakeup is supported.
func (p *Poller) Wakeable() bool { return p.res.wake != nil }

// StartPoll arms fd for one notification. A descriptor whose one-shot
// interest already fired is still registered, so MODIFY is tried first and
// ADD only when the facility reports it absent.
func (p *Poller) StartPoll(fd int) error {
	p.res.mu.RLock()
	defer p.res.mu.RUnlock()
	if p.res.closed.Load() {
		return ErrClosed
	}
	ops := p.dir | OneShot
	err := p.res.fac.Control(CtlModify, fd, ops)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		p.log.Trace().Int("fd", fd).Log("descriptor not armed, adding")
		err = p.res.fac.Control(CtlAdd, fd, ops)
		if err == nil {
			return nil
		}
	}
	p.log.Err().Err(err).Int("fd", fd).Log("start poll failed")
	return err
}

// StopPoll disarms fd unless its notification already fired (polled), in
// which case the facility disabled it and a DELETE could race with a new
// registration of a reused descriptor number.
func (p *Poller) StopPoll(fd int, polled bool) error {
	p.res.mu.RLock()
	defer p.res.mu.RUnlock()
	if p.res.closed.Load() {
		return ErrClosed
	}
	if polled {
		return nil
	}
	err := p.res.fac.Control(CtlDelete, fd, 0)
	if errors.Is(err, ErrNotFound) {
		// closing a descriptor removes it from the kernel set
		p.log.Debug().Int("fd", fd).Log("stop poll: descriptor not armed")
		return nil
	}
	return err
}

// Poll waits up to timeout (negative waits indefinitely) and calls the
// ready callback for each descriptor that fired. It returns the number of
// descriptors delivered; a wakeup alone returns 0.
func (p *Poller) Poll(timeout time.Duration) (int, error) {
	if p.res.closed.Load() {
		return 0, ErrClosed
	}
	if _, err := waitFor(p.res.fac, timeout, p.log); err != nil {
		if p.res.closed.Load() {
			return 0, ErrClosed
		}
		return 0, err
	}

	buf := p.res.fac.Events()
	polled := 0
	var drainErr error
	for i := 0; i < buf.Len(); i++ {
		ev := buf.At(i)
		if p.res.wake != nil && ev.Fd() == p.res.wake.rfd {
			drainErr = p.res.wake.drain()
			continue
		}
		p.onReady(ev.Fd())
		polled++
	}
	runtime.KeepAlive(p)
	return polled, drainErr
}

// Wakeup forces a blocked Poll to return. It may be called from any
// goroutine, and is a no-op once the poller is closed.
func (p *Poller) Wakeup() error {
	if p.res.wake == nil {
		return ErrNotWakeable
	}
	p.res.mu.RLock()
	defer p.res.mu.RUnlock()
	if p.res.closed.Load() {
		return nil
	}
	return p.res.wake.wake()
}

// Close releases the facility, its buffer and the wakeup descriptor. It
// must not race with Poll. Calling it more than once returns the first result.
func (p *Poller) Close() error {
	if p.res.wake != nil {
		p.cleanup.Stop()
	}
	err := p.res.release()
	p.log.Debug().Stringer("direction", p.dir).Log("poller closed")
	return err
}
