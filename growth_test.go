// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dlmalloc

import "testing"

// TestExtendSegmentAfterTopFullyCarvedPreservesPriorChunks exercises the
// case where a prior allocation exactly consumed the remainder of top
// (carveTop's remaining==0 branch, which drives a.top/a.topSize to 0)
// followed by a contiguous grow of the same segment. extendSegment must
// anchor the new top at the old fencepost's position, not at the
// segment's base, or it clobbers whatever chunk already lives there.
func TestExtendSegmentAfterTopFullyCarvedPreservesPriorChunks(t *testing.T) {
	const usedSize = 256
	const grownBy = 4096

	buf := make([]byte, usedSize+chunkOverhead+grownBy)
	base := bytesAddr(buf)

	var a Allocator
	used := chunkPtr(base)
	used.setSizeAndFlags(usedSize, flagPInUse|flagCInUse)
	write(used.payload(), int(usedSize-chunkOverhead), 0x5A)

	fencepost := used.next()
	fencepost.setSizeAndFlags(0, flagCInUse|flagPInUse)

	s := &segment{base: base, size: usedSize + chunkOverhead}
	a.registerSegment(s)

	// Simulate carveTop's exact-fit branch: top fully consumed.
	a.top = 0
	a.topSize = 0

	a.extendSegment(s, grownBy)

	if a.top == 0 {
		t.Fatal("extendSegment left top nil after a contiguous grow")
	}
	if uintptr(a.top) != uintptr(fencepost) {
		t.Fatalf("new top base = %#x, want old fencepost address %#x", uintptr(a.top), uintptr(fencepost))
	}
	if a.topSize != grownBy {
		t.Fatalf("new topSize = %d, want %d", a.topSize, grownBy)
	}

	if used.size() != usedSize || !used.cinuse() {
		t.Fatalf("pre-existing chunk header corrupted: size=%d cinuse=%v", used.size(), used.cinuse())
	}
	check(t, used.payload(), int(usedSize-chunkOverhead), 0x5A)
}

// TestExtendSegmentMergesLiveTop exercises the companion path where top is
// still a live free chunk at the moment of a contiguous grow: the existing
// top must be extended in place rather than re-fenced from scratch.
func TestExtendSegmentMergesLiveTop(t *testing.T) {
	const topSize = 128
	const grownBy = 4096

	buf := make([]byte, topSize+chunkOverhead+grownBy)
	base := bytesAddr(buf)

	top, oldTopSize := setupTop(base, topSize+chunkOverhead)

	var a Allocator
	s := &segment{base: base, size: topSize + chunkOverhead}
	a.registerSegment(s)
	a.top = top
	a.topSize = oldTopSize

	a.extendSegment(s, grownBy)

	if uintptr(a.top) != uintptr(top) {
		t.Fatalf("top address changed: got %#x, want %#x", uintptr(a.top), uintptr(top))
	}
	if a.topSize != oldTopSize+grownBy {
		t.Fatalf("topSize = %d, want %d", a.topSize, oldTopSize+grownBy)
	}
}
