// Copyright 2024 The dlmalloc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package platform defines the capability set the dlmalloc engine needs
// from a host operating environment, and a per-GOOS/GOARCH implementation
// of it selected at compile time via build tags. The engine is generic
// over Source; nothing in this package knows about chunks, bins, or
// segments.
package platform

// Flags describes properties of a region a Source handed back from
// Alloc, carried forward by the engine alongside the segment it backs.
type Flags uint32

const (
	// Mmapped marks a region obtained via an anonymous, swap-backed
	// mapping (as opposed to a once-only fixed region such as SGX's).
	Mmapped Flags = 1 << iota

	// CanReleasePartFlag marks a region whose tail bytes can be handed
	// back to the host independently of the rest of the mapping.
	CanReleasePartFlag
)

// Source is the platform capability set needed by the engine: request and
// release page-aligned memory, optionally remap or release a region's
// tail in place, and (for the optional global singleton) provide a
// process-wide mutual-exclusion primitive.
type Source interface {
	// Alloc requests size bytes, returning a page-aligned base of at
	// least size bytes and flags describing the returned region, or
	// (0, 0, 0) on failure.
	Alloc(size uintptr) (base uintptr, actualSize uintptr, flags Flags)

	// Remap attempts to grow or shrink an existing mapping in place (or
	// relocate it, if canMove), returning the new base or 0 if remapping
	// is unsupported on this platform or the call failed.
	Remap(ptr uintptr, oldSize, newSize uintptr, canMove bool) (newPtr uintptr)

	// FreePart releases the tail [ptr+newSize, ptr+oldSize) of a region,
	// reporting whether the platform honored the request.
	FreePart(ptr uintptr, oldSize, newSize uintptr) bool

	// Free releases an entire region obtained from Alloc.
	Free(ptr uintptr, size uintptr) bool

	// CanReleasePart reports whether a region obtained with flags
	// supports FreePart.
	CanReleasePart(flags Flags) bool

	// AllocatesZeros reports whether memory fresh from Alloc is
	// guaranteed to read as zero.
	AllocatesZeros() bool

	// PageSize is this platform's page granularity.
	PageSize() uintptr
}

// GlobalLocker is implemented by sources that can back a process-wide
// singleton allocator. Single-threaded targets (wasm) and targets with no
// supported lock (SGX) do not implement it.
type GlobalLocker interface {
	AcquireGlobalLock()
	ReleaseGlobalLock()
}
