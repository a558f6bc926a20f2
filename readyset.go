// Copyright (c) 2023 cheng-zhongliang. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package iomux

// ReadySet is the collection of keys a Selector found ready. Keys stay in
// the set until the caller removes them; a later Select adds new ready bits
// to keys still present.
//
// ReadySet is not safe for concurrent use. Use it from the goroutine that
// calls Select, between calls.
type ReadySet struct {
	l keyList
}

// Len returns the number of keys in the set.
func (s *ReadySet) Len() int { return s.l.len }

// Contains reports whether k is in the set.
func (s *ReadySet) Contains(k *Key) bool {
	return k != nil && k.readyElem != nil && k.readyElem.list == &s.l
}

// Remove removes k, reporting whether it was present.
func (s *ReadySet) Remove(k *Key) bool {
	if !s.Contains(k) {
		return false
	}
	s.l.remove(k.readyElem)
	k.readyElem = nil
	return true
}

// Clear removes every key.
func (s *ReadySet) Clear() {
	for e := s.l.front(); e != nil; {
		next := e.nextElement()
		e.key.readyElem = nil
		s.l.remove(e)
		e = next
	}
}

// Keys returns the keys in the order they became ready.
func (s *ReadySet) Keys() []*Key {
	keys := make([]*Key, 0, s.l.len)
	for e := s.l.front(); e != nil; e = e.nextElement() {
		keys = append(keys, e.key)
	}
	return keys
}

// Range calls fn for each key until it returns false. fn may remove the
// key it was called with.
func (s *ReadySet) Range(fn func(k *Key) bool) {
	for e := s.l.front(); e != nil; {
		next := e.nextElement()
		if !fn(e.key) {
			return
		}
		e = next
	}
}

func (s *ReadySet) add(k *Key) {
	k.readyElem = s.l.pushBack(k)
}
