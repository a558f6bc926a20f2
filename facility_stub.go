// Copyright (c) 2023 cheng-zhongliang. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !linux && !darwin && !dragonfly && !freebsd && !netbsd && !openbsd

package iomux

type unsupportedBinding struct{}

func newPlatformBinding() Binding { return unsupportedBinding{} }

func (unsupportedBinding) Create(int) (Facility, error) { return nil, ErrUnsupported }

func newWaker() (*waker, error) { return nil, ErrUnsupported }

func (w *waker) wake() error { return ErrUnsupported }

func (w *waker) drain() error { return ErrUnsupported }

func (w *waker) close() error { return nil }
