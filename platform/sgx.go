// Copyright 2024 The dlmalloc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build dlmsgx

// Package platform's SGX variant models an enclave heap: a single fixed
// region handed out once by the enclave image, never grown, never
// released, and not guaranteed zero-filled. There is no Go SGX enclave
// runtime available to this module, so this file is gated behind the
// dlmsgx build tag and never compiles into an ordinary build; it exists
// to keep the capability documented and satisfiable by a real enclave
// runtime's cgo shim later.
package platform

import "sync"

// SGX is a fixed-heap Source: Alloc ignores size after the first call and
// always returns the same enclave-provided region. There is no lock: an
// enclave has no OS-level mutual exclusion primitive to build one on, so
// SGX deliberately does not implement GlobalLocker. Using this backend with
// the global singleton package still compiles; that package then guards
// the singleton with its own internal mutex.
type SGX struct {
	once sync.Once
	base uintptr
	size uintptr
}

// enclaveHeapBase and enclaveHeapSize are supplied by the enclave loader
// at image-build time; zero here since no loader exists in this module.
var (
	enclaveHeapBase uintptr
	enclaveHeapSize uintptr
)

func New() Source { return &SGX{} }

func (s *SGX) PageSize() uintptr { return 4 << 10 }

func (s *SGX) Alloc(size uintptr) (uintptr, uintptr, Flags) {
	s.once.Do(func() {
		s.base, s.size = enclaveHeapBase, enclaveHeapSize
	})
	if s.base == 0 || size > s.size {
		return 0, 0, 0
	}
	return s.base, s.size, 0
}

func (s *SGX) Remap(ptr uintptr, oldSize, newSize uintptr, canMove bool) uintptr { return 0 }
func (s *SGX) FreePart(ptr uintptr, oldSize, newSize uintptr) bool               { return false }
func (s *SGX) Free(ptr uintptr, size uintptr) bool                              { return false }
func (s *SGX) CanReleasePart(flags Flags) bool                                  { return false }
func (s *SGX) AllocatesZeros() bool                                             { return false }
