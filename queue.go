// Copyright (c) 2023 cheng-zhongliang. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package iomux

import (
	"sync"

	"github.com/eapache/queue"
)

// updateQueue is a FIFO appended to by any goroutine and drained by the
// selecting goroutine. Appends never wait on a drain in progress beyond
// the short critical section that swaps the batch out.
type updateQueue[T any] struct {
	mu sync.Mutex
	q  *queue.Queue
}

func newUpdateQueue[T any]() *updateQueue[T] {
	return &updateQueue[T]{q: queue.New()}
}

// push appends v.
func (u *updateQueue[T]) push(v T) {
	u.mu.Lock()
	u.q.Add(v)
	u.mu.Unlock()
}

// drain removes every queued value in FIFO order, appending them to dst.
func (u *updateQueue[T]) drain(dst []T) []T {
	u.mu.Lock()
	defer u.mu.Unlock()
	for u.q.Length() > 0 {
		dst = append(dst, u.q.Remove().(T))
	}
	return dst
}
