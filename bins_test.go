// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dlmalloc

import (
	"testing"
	"unsafe"
)

// bytesAddr returns the address of buf's backing array, standing in for a
// chunk of platform memory in tests that exercise bin bookkeeping directly
// without going through the full allocator/platform path.
func bytesAddr(buf []byte) uintptr { return uintptr(unsafe.Pointer(&buf[0])) }

func TestSmallIndexRoundTrip(t *testing.T) {
	for idx := 0; idx < nSmallBins; idx++ {
		size := smallIndexToSize(idx)
		if g := smallIndex(size); g != idx {
			t.Fatalf("smallIndex(smallIndexToSize(%d)=%d) = %d, want %d", idx, size, g, idx)
		}
	}
}

func TestTreeIndexForIsMonotonicAndBounded(t *testing.T) {
	prev := -1
	for size := uintptr(minLargeSize); size < minLargeSize<<10; size += 17 {
		idx := treeIndexFor(size)
		if idx < 0 || idx >= nTreeBins {
			t.Fatalf("treeIndexFor(%d) = %d out of range [0,%d)", size, idx, nTreeBins)
		}
		if idx < prev {
			t.Fatalf("treeIndexFor not monotonic: size=%d idx=%d < prev=%d", size, idx, prev)
		}
		prev = idx
	}
}

func TestTreeIndexForBoundaryAtMinLargeSize(t *testing.T) {
	if g := treeIndexFor(minLargeSize); g != 0 {
		t.Fatalf("treeIndexFor(minLargeSize) = %d, want 0", g)
	}
}

// TestSmallBinInsertUnlinkRoundTrip exercises the doubly-linked small-bin
// list operations directly against a scratch buffer standing in for chunk
// memory, without going through the full allocator.
func TestSmallBinInsertUnlinkRoundTrip(t *testing.T) {
	const n = 4
	buf := make([]byte, n*128)
	base := uintptr(bytesAddr(buf))

	var a Allocator
	idx := 3
	var chunks [n]chunkPtr
	for i := 0; i < n; i++ {
		c := chunkPtr(base + uintptr(i)*128)
		c.setSizeAndFlags(smallIndexToSize(idx), flagPInUse)
		chunks[i] = c
		a.insertSmallChunk(c, idx)
	}
	if a.smallMap&(1<<uint(idx)) == 0 {
		t.Fatal("smallMap bit not set after insert")
	}

	seen := map[chunkPtr]bool{}
	for c := a.smallBins[idx]; c != 0; c = chunkPtr(c.fd()) {
		seen[c] = true
	}
	for _, c := range chunks {
		if !seen[c] {
			t.Fatalf("chunk %#x missing from small-bin list", uintptr(c))
		}
	}

	for _, c := range chunks {
		a.unlinkSmallChunk(c, idx)
	}
	if a.smallBins[idx] != 0 {
		t.Fatal("small-bin head non-zero after unlinking all members")
	}
	if a.smallMap&(1<<uint(idx)) != 0 {
		t.Fatal("smallMap bit still set after unlinking all members")
	}
}

// TestTreeBinInsertFindUnlink exercises the trie on a handful of distinct
// and duplicate sizes.
func TestTreeBinInsertFindUnlink(t *testing.T) {
	sizes := []uintptr{
		minLargeSize, minLargeSize, minLargeSize + 64,
		minLargeSize * 2, minLargeSize * 4, minLargeSize*4 + 32,
	}
	buf := make([]byte, len(sizes)*512)
	base := uintptr(bytesAddr(buf))

	var a Allocator
	var chunks []chunkPtr
	for i, size := range sizes {
		c := chunkPtr(base + uintptr(i)*512)
		c.setSizeAndFlags(size, flagPInUse)
		a.insertTreeChunk(c, size)
		chunks = append(chunks, c)
	}

	best := a.findBestTreeChunk(minLargeSize + 1)
	if best == 0 || best.size() < minLargeSize+1 {
		t.Fatalf("findBestTreeChunk(minLargeSize+1) returned unsuitable chunk %#x size %d", uintptr(best), best.size())
	}

	for _, c := range chunks {
		a.unlinkTreeChunk(c)
	}
	if a.treeMap != 0 {
		t.Fatalf("treeMap not empty after unlinking every chunk: %#x", a.treeMap)
	}
	for _, root := range a.treeBins {
		if root != 0 {
			t.Fatal("tree bin root left dangling after unlinking every chunk")
		}
	}
}
