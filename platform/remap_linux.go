// Copyright 2024 The dlmalloc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package platform

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// remapSupported is true on Linux, the one POSIX target where mremap
// exists; macOS and the BSDs fall back to copy-and-free (see
// remap_nolinux.go).
const remapSupported = true

func remapLinux(ptr uintptr, oldSize, newSize uintptr, canMove bool) uintptr {
	flags := 0
	if canMove {
		flags = unix.MREMAP_MAYMOVE
	}
	b := unsafe.Slice((*byte)(unsafe.Pointer(ptr)), int(oldSize))
	nb, err := unix.Mremap(b, int(newSize), flags)
	if err != nil {
		return 0
	}
	return uintptr(unsafe.Pointer(&nb[0]))
}
