// Copyright (c) 2023 cheng-zhongliang. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package iomux

// keyElement is an element of a keyList.
type keyElement struct {
	next, prev *keyElement
	list       *keyList
	key        *Key
}

// nextElement returns the next list element or nil.
func (e *keyElement) nextElement() *keyElement {
	if p := e.next; e.list != nil && p != &e.list.root {
		return p
	}
	return nil
}

// keyList is an intrusive doubly linked list of keys with O(1) removal.
type keyList struct {
	root keyElement
	len  int
}

func (l *keyList) lazyInit() {
	if l.root.next == nil {
		l.root.next = &l.root
		l.root.prev = &l.root
	}
}

// front returns the first element of the list or nil.
func (l *keyList) front() *keyElement {
	if l.len == 0 {
		return nil
	}
	return l.root.next
}

// pushBack inserts k at the back of the list and returns its element.
func (l *keyList) pushBack(k *Key) *keyElement {
	l.lazyInit()
	e := &keyElement{list: l, key: k}
	n := &l.root
	p := n.prev
	e.next = n
	e.prev = p
	p.next = e
	n.prev = e
	l.len++
	return e
}

// remove unlinks e, which must belong to l.
func (l *keyList) remove(e *keyElement) *Key {
	e.prev.next = e.next
	e.next.prev = e.prev
	e.next = nil
	e.prev = nil
	e.list = nil
	l.len--
	return e.key
}
