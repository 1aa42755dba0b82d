// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dlmalloc implements a Doug Lea style (dlmalloc/ptmalloc lineage)
// general purpose allocator.
//
// The allocator manages a process-local pool of virtual memory obtained in
// large chunks from the operating system (see the platform subpackage) and
// subdivides that pool into variable sized user allocations using a
// boundary-tag chunk layout, a segregated small-bin/tree-bin free list
// index, and a single "top" chunk carved from the most recently grown
// segment.
//
// Changelog
//
// 2024-01-08 Ported the boundary-tag engine from the C/Rust dlmalloc
// lineage onto the segment/page machinery of this package.
package dlmalloc
