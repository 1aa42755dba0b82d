// Copyright 2011 Evan Shaw. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE-MMAP-GO file.

// Modifications (c) 2024 The dlmalloc Authors.

//go:build windows

package platform

import (
	"sync"

	"golang.org/x/sys/windows"
)

// Windows is the VirtualAlloc/VirtualFree backed Source. There is no
// remap: growth always falls back to allocate/copy/free, same as macOS.
type Windows struct {
	mu sync.Mutex
}

func New() Source { return &Windows{} }

func (w *Windows) PageSize() uintptr {
	var info windows.SystemInfo
	windows.GetSystemInfo(&info)
	return uintptr(info.PageSize)
}

func (w *Windows) Alloc(size uintptr) (uintptr, uintptr, Flags) {
	addr, err := windows.VirtualAlloc(0, size, windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil || addr == 0 {
		return 0, 0, 0
	}
	return addr, size, Mmapped
}

func (w *Windows) Remap(ptr uintptr, oldSize, newSize uintptr, canMove bool) uintptr {
	return 0
}

func (w *Windows) FreePart(ptr uintptr, oldSize, newSize uintptr) bool {
	// VirtualFree cannot release an interior sub-range of a reserved
	// region; a segment's tail can only be dropped by releasing the
	// whole mapping, which the engine only ever does once a segment is
	// entirely free.
	return false
}

func (w *Windows) Free(ptr uintptr, size uintptr) bool {
	return windows.VirtualFree(ptr, 0, windows.MEM_RELEASE) == nil
}

func (w *Windows) CanReleasePart(flags Flags) bool { return false }

func (w *Windows) AllocatesZeros() bool { return true }

func (w *Windows) AcquireGlobalLock() { w.mu.Lock() }
func (w *Windows) ReleaseGlobalLock() { w.mu.Unlock() }
