// Copyright 2024 The dlmalloc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build wasm

package platform

import "unsafe"

// Wasm is the single-threaded, append-only Source for GOARCH=wasm: there
// is no munmap equivalent and no remap, only forward growth of the linear
// memory. Go's wasm targets do not expose the raw memory.grow instruction
// to user code the way the original Rust crate's wasm.rs does (it calls
// core::arch::wasm32::memory_grow directly); the closest equivalent
// reachable from Go is handing out one freshly allocated, page-rounded
// buffer per growth request and keeping a live reference to it so Go's
// non-moving collector never reclaims or relocates it. Pages are always
// zero-filled, matching the real instruction's guarantee.
type Wasm struct {
	arenas   [][]byte
	pageSize uintptr
}

func New() Source { return &Wasm{pageSize: wasmPageSize} }

const wasmPageSize = 64 << 10 // wasm's fixed page size

func (w *Wasm) PageSize() uintptr { return w.pageSize }

func (w *Wasm) Alloc(size uintptr) (uintptr, uintptr, Flags) {
	grown := alignUpWasm(size, w.pageSize)
	b := make([]byte, grown)
	w.arenas = append(w.arenas, b) // keep alive: never moved, never freed
	return addrOf(b), grown, Mmapped
}

func (w *Wasm) Remap(ptr uintptr, oldSize, newSize uintptr, canMove bool) uintptr { return 0 }
func (w *Wasm) FreePart(ptr uintptr, oldSize, newSize uintptr) bool               { return false }
func (w *Wasm) Free(ptr uintptr, size uintptr) bool                              { return false }
func (w *Wasm) CanReleasePart(flags Flags) bool                                  { return false }
func (w *Wasm) AllocatesZeros() bool                                             { return true }

func alignUpWasm(n, align uintptr) uintptr { return (n + align - 1) &^ (align - 1) }

func addrOf(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}
