// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dlmalloc

import "unsafe"

// The engine addresses chunks by their uintptr base address into
// platform-provided memory rather than through Go slices: this memory is
// never scanned or moved by the garbage collector (it did not come from the
// Go heap), and chunk headers are overlaid on raw bytes the way the C/Rust
// dlmalloc lineage does it.

func readUintptr(addr uintptr) uintptr {
	return *(*uintptr)(unsafe.Pointer(addr))
}

func writeUintptr(addr uintptr, v uintptr) {
	*(*uintptr)(unsafe.Pointer(addr)) = v
}

// memzero zeroes n bytes starting at addr. Used by calloc when the backing
// page is not guaranteed zero-filled by the platform.
func memzero(addr uintptr, n uintptr) {
	b := unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(n))
	for i := range b {
		b[i] = 0
	}
}

// memcopy copies n bytes from src to dst; ranges never overlap in this
// engine (realloc's fallback path always copies into a freshly allocated
// chunk).
func memcopy(dst, src uintptr, n uintptr) {
	d := unsafe.Slice((*byte)(unsafe.Pointer(dst)), int(n))
	s := unsafe.Slice((*byte)(unsafe.Pointer(src)), int(n))
	copy(d, s)
}
