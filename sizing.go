// Copyright (c) 2023 cheng-zhongliang. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package iomux

import (
	"fmt"
	"math/bits"
)

// Mode is the operating mode of a poller group.
type Mode int

const (
	// ModePerCarrier uses dedicated pollers, each driven by its own OS thread.
	ModePerCarrier Mode = iota
	// ModeSubPollers uses a small pool of wakeable sub-pollers shared by all carriers.
	ModeSubPollers
)

func (m Mode) String() string {
	switch m {
	case ModePerCarrier:
		return "per-carrier"
	case ModeSubPollers:
		return "sub-pollers"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// maxSubPollers caps the shared pool size per direction.
const maxSubPollers = 32

// Sizing is the mode and per-direction poller counts of a poller group.
type Sizing struct {
	Mode         Mode
	ReadPollers  int
	WritePollers int
}

// ComputeSizing derives the poller group shape from the available
// parallelism and whether shared sub-pollers are supported. Counts are
// powers of two and at least 1.
func ComputeSizing(parallelism int, capable bool) Sizing {
	if parallelism < 1 {
		parallelism = 1
	}
	if capable {
		n := min(highestOneBit(parallelism), maxSubPollers)
		return Sizing{Mode: ModeSubPollers, ReadPollers: n, WritePollers: n}
	}
	n := max(highestOneBit(parallelism/4), 1)
	return Sizing{Mode: ModePerCarrier, ReadPollers: n, WritePollers: n}
}

// sizingFor applies explicit poller count overrides on top of ComputeSizing.
func sizingFor(cfg *options) Sizing {
	s := ComputeSizing(cfg.parallelism, cfg.capable)
	if cfg.readPollers > 0 {
		s.ReadPollers = cfg.readPollers
	}
	if cfg.writePollers > 0 {
		s.WritePollers = cfg.writePollers
	}
	return s
}

func highestOneBit(n int) int {
	if n <= 0 {
		return 0
	}
	return 1 << (bits.Len(uint(n)) - 1)
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}
