// Copyright (c) 2023 cheng-zhongliang. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package iomux

const (
	// SubPollerCapacity is the event buffer capacity of a wakeable sub-poller.
	SubPollerCapacity = 16
	// PollerCapacity is the event buffer capacity of a dedicated poller.
	PollerCapacity = 64
	// maxSelectorCapacity bounds the selector buffer, further bounded by the descriptor limit.
	maxSelectorCapacity = 1024
)

// EventBuffer is a fixed-capacity block of ready events, refilled by each wait.
// It is only touched by the goroutine inside the owning facility's Wait.
type EventBuffer struct {
	events []Event
	n      int
}

func newEventBuffer(capacity int) *EventBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &EventBuffer{events: make([]Event, capacity)}
}

// Cap returns the fixed capacity of the buffer.
func (b *EventBuffer) Cap() int { return len(b.events) }

// Len returns the number of events decoded by the last wait.
func (b *EventBuffer) Len() int { return b.n }

// At returns the i-th decoded event.
func (b *EventBuffer) At(i int) Event { return b.events[i] }

func (b *EventBuffer) reset() { b.n = 0 }

// push appends a record, reporting false once the buffer is full.
func (b *EventBuffer) push(fd int, ready Ops) bool {
	if b.n == len(b.events) {
		return false
	}
	b.events[b.n] = Event{fd: fd, ready: ready}
	b.n++
	return true
}

// free drops the backing array; the buffer must not be used afterwards.
func (b *EventBuffer) free() {
	b.events = nil
	b.n = 0
}
