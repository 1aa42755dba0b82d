// Copyright 2024 The dlmalloc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package global provides a process-wide dlmalloc.Allocator guarded by
// the platform's global lock, exposing the standard
// malloc/calloc/realloc/free contract as package-level functions so a
// program needs no explicit Allocator value of its own.
package global

import (
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/cznic/dlmalloc"
	"github.com/cznic/dlmalloc/platform"
)

var (
	once     sync.Once
	instance *dlmalloc.Allocator
	locker   platform.GlobalLocker
	fallback sync.Mutex // used when the platform source has no GlobalLocker
	log      = logrus.StandardLogger()
)

func initOnce() {
	source := platform.New()
	instance = dlmalloc.New(source)
	if l, ok := source.(platform.GlobalLocker); ok {
		locker = l
	}
	log.Debug("dlmalloc/global: singleton initialized")
}

func lock() {
	once.Do(initOnce)
	if locker != nil {
		locker.AcquireGlobalLock()
		return
	}
	fallback.Lock()
}

func unlock() {
	if locker != nil {
		locker.ReleaseGlobalLock()
		return
	}
	fallback.Unlock()
}

// Malloc is the process-wide, lock-guarded dlmalloc.Allocator.Malloc.
func Malloc(size, align uintptr) (p uintptr) {
	lock()
	defer unlock()
	return instance.Malloc(size, align)
}

// Calloc is the process-wide, lock-guarded dlmalloc.Allocator.Calloc.
func Calloc(size, align uintptr) (p uintptr) {
	lock()
	defer unlock()
	return instance.Calloc(size, align)
}

// Free is the process-wide, lock-guarded dlmalloc.Allocator.Free.
func Free(p, size, align uintptr) {
	lock()
	defer unlock()
	instance.Free(p, size, align)
}

// Realloc is the process-wide, lock-guarded dlmalloc.Allocator.Realloc.
func Realloc(p, oldSize, align, newSize uintptr) uintptr {
	lock()
	defer unlock()
	return instance.Realloc(p, oldSize, align, newSize)
}

// SetLogger replaces the logger used for the lazy-init diagnostic; lock
// acquire and release are not logged. Passing nil silences logging
// entirely.
func SetLogger(l *logrus.Logger) {
	if l == nil {
		log = logrus.New()
		log.SetOutput(io.Discard)
		return
	}
	log = l
}
