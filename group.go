// Copyright (c) 2023 cheng-zhongliang. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package iomux

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// PollerGroup owns the read and write pollers sized by ComputeSizing and
// parks goroutines until their descriptor is ready.
type PollerGroup struct {
	sizing       Sizing
	readers      []*Poller
	writers      []*Poller
	readWaiters  sync.Map // fd -> chan struct{}
	writeWaiters sync.Map
	pollInterval time.Duration
	log          *Logger

	mu      sync.Mutex
	closed  bool
	cancel  context.CancelFunc
	stopped chan struct{}
	done    chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// NewPollerGroup creates the pollers for both directions. In ModePerCarrier
// they are dedicated pollers, in ModeSubPollers wakeable sub-pollers.
func NewPollerGroup(opts ...Option) (*PollerGroup, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	g := &PollerGroup{
		sizing:       sizingFor(cfg),
		pollInterval: cfg.pollInterval,
		log:          cfg.logger,
		done:         make(chan struct{}),
	}

	create := NewPoller
	if g.sizing.Mode == ModeSubPollers {
		create = NewSubPoller
	}
	for range g.sizing.ReadPollers {
		p, err := create(OpRead, g.readyFunc(&g.readWaiters), opts...)
		if err != nil {
			_ = g.closePollers()
			return nil, err
		}
		g.readers = append(g.readers, p)
	}
	for range g.sizing.WritePollers {
		p, err := create(OpWrite, g.readyFunc(&g.writeWaiters), opts...)
		if err != nil {
			_ = g.closePollers()
			return nil, err
		}
		g.writers = append(g.writers, p)
	}

	g.log.Info().
		Stringer("mode", g.sizing.Mode).
		Int("read_pollers", g.sizing.ReadPollers).
		Int("write_pollers", g.sizing.WritePollers).
		Log("poller group created")
	return g, nil
}

// Sizing returns the mode and poller counts of the group.
func (g *PollerGroup) Sizing() Sizing { return g.sizing }

func (g *PollerGroup) readyFunc(waiters *sync.Map) ReadyFunc {
	return func(fd int) {
		if ch, ok := waiters.LoadAndDelete(fd); ok {
			close(ch.(chan struct{}))
		}
	}
}

func (g *PollerGroup) route(fd int, op Ops) (*Poller, *sync.Map, bool) {
	switch op {
	case OpRead:
		return g.readers[fd&(len(g.readers)-1)], &g.readWaiters, true
	case OpWrite:
		return g.writers[fd&(len(g.writers)-1)], &g.writeWaiters, true
	}
	return nil, nil, false
}

// Run drives every poller on its own goroutine until ctx is done or Close
// is called. Dedicated pollers lock their OS thread and wait in bounded
// intervals; sub-pollers wait without timeout and are woken to stop.
func (g *PollerGroup) Run(ctx context.Context) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return ErrClosed
	}
	if g.cancel != nil {
		g.mu.Unlock()
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	stopped := make(chan struct{})
	g.cancel, g.stopped = cancel, stopped
	g.mu.Unlock()
	defer close(stopped)
	defer cancel()

	eg, ctx := errgroup.WithContext(ctx)
	pollers := g.pollers()
	for _, p := range pollers {
		eg.Go(func() error { return g.drive(ctx, p) })
	}
	if g.sizing.Mode == ModeSubPollers {
		eg.Go(func() error {
			<-ctx.Done()
			for _, p := range pollers {
				if err := p.Wakeup(); err != nil {
					g.log.Warning().Err(err).Stringer("direction", p.Direction()).Log("wakeup on shutdown failed")
				}
			}
			return nil
		})
	}
	return eg.Wait()
}

func (g *PollerGroup) drive(ctx context.Context, p *Poller) error {
	timeout := time.Duration(-1)
	if !p.Wakeable() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		timeout = g.pollInterval
	}
	for ctx.Err() == nil {
		if _, err := p.Poll(timeout); err != nil {
			if errors.Is(err, ErrClosed) {
				return nil
			}
			g.log.Err().Err(err).Stringer("direction", p.Direction()).Log("poll failed")
			return err
		}
	}
	return nil
}

// Park blocks until fd is ready for op (OpRead or OpWrite), ctx is done or
// the group is closed. Only one goroutine may be parked per descriptor and
// direction.
//
// A nil return is a hint, not a guarantee: a notification decoded for an
// earlier, cancelled Park on the same descriptor may resume the next one.
// Callers must retry their I/O and park again on EAGAIN.
func (g *PollerGroup) Park(ctx context.Context, fd int, op Ops) error {
	p, waiters, ok := g.route(fd, op)
	if !ok {
		return errors.New("iomux: park direction must be read or write")
	}
	select {
	case <-g.done:
		return ErrClosed
	default:
	}

	ch := make(chan struct{})
	if _, loaded := waiters.LoadOrStore(fd, ch); loaded {
		return ErrAlreadyParked
	}
	if err := p.StartPoll(fd); err != nil {
		waiters.CompareAndDelete(fd, ch)
		return err
	}

	var cause error
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		cause = ctx.Err()
	case <-g.done:
		cause = ErrClosed
	}

	// the waiter is gone if the ready callback won the race
	polled := !waiters.CompareAndDelete(fd, ch)
	if err := p.StopPoll(fd, polled); err != nil && !errors.Is(err, ErrClosed) {
		g.log.Warning().Err(err).Int("fd", fd).Log("stop poll failed")
	}
	if polled {
		return nil
	}
	return cause
}

func (g *PollerGroup) pollers() []*Poller {
	all := make([]*Poller, 0, len(g.readers)+len(g.writers))
	all = append(all, g.readers...)
	return append(all, g.writers...)
}

func (g *PollerGroup) closePollers() error {
	var errs []error
	for _, p := range g.pollers() {
		errs = append(errs, p.Close())
	}
	return errors.Join(errs...)
}

// Close releases parked goroutines with ErrClosed, stops Run and closes
// every poller. Close is idempotent.
func (g *PollerGroup) Close() error {
	g.closeOnce.Do(func() {
		g.mu.Lock()
		g.closed = true
		close(g.done)
		cancel, stopped := g.cancel, g.stopped
		g.mu.Unlock()

		if cancel != nil {
			cancel()
			<-stopped
		}
		g.closeErr = g.closePollers()
		g.log.Info().Log("poller group closed")
	})
	return g.closeErr
}
