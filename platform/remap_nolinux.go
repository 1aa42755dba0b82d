// Copyright 2024 The dlmalloc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build unix && !linux

package platform

// remapSupported is false on macOS and the BSDs: mmap/munmap is all they
// give us, so the engine falls back to allocate/copy/free for growth.
const remapSupported = false

func remapLinux(ptr uintptr, oldSize, newSize uintptr, canMove bool) uintptr { return 0 }
