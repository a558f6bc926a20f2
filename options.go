// Copyright (c) 2023 cheng-zhongliang. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package iomux

import (
	"runtime"
	"time"

	"github.com/joeycumines/logiface"
)

// Logger is the structured logger accepted by every component.
type Logger = logiface.Logger[logiface.Event]

// defaultPollInterval bounds each wait of a per-carrier poller, since it
// cannot be woken to observe shutdown.
const defaultPollInterval = 50 * time.Millisecond

// options holds configuration shared by Selector, Poller and PollerGroup.
// Each component reads only the fields that concern it.
type options struct {
	logger       *Logger
	binding      Binding
	capacity     int
	parallelism  int
	capable      bool
	readPollers  int
	writePollers int
	pollInterval time.Duration
}

// Option configures a Selector, Poller or PollerGroup.
type Option interface {
	apply(*options) error
}

type optionFunc func(*options) error

func (f optionFunc) apply(opts *options) error { return f(opts) }

// WithLogger sets the logger. A nil logger disables logging.
func WithLogger(logger *Logger) Option {
	return optionFunc(func(opts *options) error {
		opts.logger = logger
		return nil
	})
}

// WithBinding replaces the platform binding, e.g. with an instrumented one.
func WithBinding(b Binding) Option {
	return optionFunc(func(opts *options) error {
		if b != nil {
			opts.binding = b
		}
		return nil
	})
}

// WithCapacity sets the Selector event buffer capacity.
func WithCapacity(n int) Option {
	return optionFunc(func(opts *options) error {
		if n > 0 {
			opts.capacity = n
		}
		return nil
	})
}

// WithParallelism replaces the available parallelism used for poller sizing.
func WithParallelism(n int) Option {
	return optionFunc(func(opts *options) error {
		opts.parallelism = n
		return nil
	})
}

// WithCapability sets whether a pool of shared wakeable sub-pollers should
// be used instead of one dedicated poller per carrier.
func WithCapability(capable bool) Option {
	return optionFunc(func(opts *options) error {
		opts.capable = capable
		return nil
	})
}

// WithReadPollers overrides the number of read pollers. It must be a power of two.
func WithReadPollers(n int) Option {
	return optionFunc(func(opts *options) error {
		if !isPowerOfTwo(n) {
			return ErrInvalidPollerCount
		}
		opts.readPollers = n
		return nil
	})
}

// WithWritePollers overrides the number of write pollers. It must be a power of two.
func WithWritePollers(n int) Option {
	return optionFunc(func(opts *options) error {
		if !isPowerOfTwo(n) {
			return ErrInvalidPollerCount
		}
		opts.writePollers = n
		return nil
	})
}

// WithPollInterval bounds each wait of a per-carrier poller.
func WithPollInterval(d time.Duration) Option {
	return optionFunc(func(opts *options) error {
		if d > 0 {
			opts.pollInterval = d
		}
		return nil
	})
}

func resolveOptions(opts []Option) (*options, error) {
	cfg := &options{
		parallelism:  runtime.GOMAXPROCS(0),
		capable:      true,
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.binding == nil {
		cfg.binding = DefaultBinding()
	}
	return cfg, nil
}
