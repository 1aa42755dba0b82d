// Copyright 2011 Evan Shaw. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE-MMAP-GO file.

// Modifications (c) 2024 The dlmalloc Authors.

//go:build unix

package platform

import (
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Unix is the POSIX Source: anonymous, private mmap for allocation,
// munmap for release, and (where remapSupported reports true, i.e. on
// Linux) mremap for in-place/relocating growth. macOS and the BSDs share
// this file for Alloc/Free/FreePart but get remapSupported == false from
// remap_nolinux.go, matching the POSIX/macOS split.
type Unix struct {
	mu        sync.Mutex
	pageSize  uintptr
	pageOnce  sync.Once
}

// New returns a POSIX platform backend ready for use.
func New() Source { return &Unix{} }

func (u *Unix) PageSize() uintptr {
	u.pageOnce.Do(func() { u.pageSize = uintptr(os.Getpagesize()) })
	return u.pageSize
}

func (u *Unix) Alloc(size uintptr) (uintptr, uintptr, Flags) {
	b, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return 0, 0, 0
	}
	return uintptr(unsafe.Pointer(&b[0])), uintptr(len(b)), Mmapped | CanReleasePartFlag
}

func (u *Unix) Remap(ptr uintptr, oldSize, newSize uintptr, canMove bool) uintptr {
	if !remapSupported {
		return 0
	}
	return remapLinux(ptr, oldSize, newSize, canMove)
}

func (u *Unix) FreePart(ptr uintptr, oldSize, newSize uintptr) bool {
	if newSize >= oldSize {
		return true
	}
	tail := ptr + newSize
	b := unsafe.Slice((*byte)(unsafe.Pointer(tail)), int(oldSize-newSize))
	return unix.Munmap(b) == nil
}

func (u *Unix) Free(ptr uintptr, size uintptr) bool {
	b := unsafe.Slice((*byte)(unsafe.Pointer(ptr)), int(size))
	return unix.Munmap(b) == nil
}

func (u *Unix) CanReleasePart(flags Flags) bool { return flags&CanReleasePartFlag != 0 }

func (u *Unix) AllocatesZeros() bool { return true }

func (u *Unix) AcquireGlobalLock() { u.mu.Lock() }
func (u *Unix) ReleaseGlobalLock() { u.mu.Unlock() }
