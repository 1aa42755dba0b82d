// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dlmalloc

import "github.com/google/btree"

// segFlags records what the platform told the engine about one segment.
type segFlags uint32

const (
	segMmapped        segFlags = 1 << iota // obtained via a plain anonymous mapping
	segExternal                            // supplied once by the platform, e.g. SGX's fixed heap; never released
	segCanReleasePart                      // platform supports shrinking this segment's tail
)

// segment is one contiguous [base, base+size) region obtained from the
// platform. Segments are kept in a singly-linked list, most recently
// registered first, and, once more than a handful exist, mirrored into a btree keyed by base
// address so segmentFor can resolve an arbitrary chunk address in O(log n)
// instead of a linear scan.
type segment struct {
	base  uintptr
	size  uintptr
	flags segFlags
	next  *segment
}

func (s *segment) end() uintptr          { return s.base + s.size }
func (s *segment) holds(addr uintptr) bool { return addr >= s.base && addr < s.end() }

// segItem adapts *segment to btree.Item, ordered by base address.
type segItem struct {
	base uintptr
	seg  *segment
}

func (s segItem) Less(than btree.Item) bool { return s.base < than.(segItem).base }

// segIndexThreshold is the segment count above which the engine starts
// maintaining the btree index alongside the linked list; below it a linear
// scan of the (short) list is cheaper than tree overhead.
const segIndexThreshold = 8

func (a *Allocator) registerSegment(s *segment) {
	s.next = a.segments
	a.segments = s
	a.segCount++
	if a.segCount > segIndexThreshold {
		a.ensureSegIndex()
	}
	if a.segIndex != nil {
		a.segIndex.ReplaceOrInsert(segItem{base: s.base, seg: s})
	}
}

func (a *Allocator) unregisterSegment(s *segment) {
	var prev *segment
	for cur := a.segments; cur != nil; cur = cur.next {
		if cur == s {
			if prev == nil {
				a.segments = cur.next
			} else {
				prev.next = cur.next
			}
			a.segCount--
			break
		}
		prev = cur
	}
	if a.segIndex != nil {
		a.segIndex.Delete(segItem{base: s.base})
	}
}

func (a *Allocator) ensureSegIndex() {
	if a.segIndex != nil {
		return
	}
	a.segIndex = btree.New(32)
	for s := a.segments; s != nil; s = s.next {
		a.segIndex.ReplaceOrInsert(segItem{base: s.base, seg: s})
	}
}

// segmentFor returns the segment containing addr, or nil if addr does not
// belong to any segment this allocator owns.
func (a *Allocator) segmentFor(addr uintptr) *segment {
	if a.segIndex != nil {
		var found *segment
		a.segIndex.DescendLessOrEqual(segItem{base: addr}, func(it btree.Item) bool {
			cand := it.(segItem).seg
			if cand.holds(addr) {
				found = cand
			}
			return false
		})
		return found
	}
	for s := a.segments; s != nil; s = s.next {
		if s.holds(addr) {
			return s
		}
	}
	return nil
}

// setupTop installs a fresh top chunk and terminating fencepost over
// [base, base+size). The fencepost is a zero-size, permanently in-use
// chunk that stops forward coalescing from ever reading past the segment.
func setupTop(base, size uintptr) (top chunkPtr, topSize uintptr) {
	topSize = size - chunkOverhead
	top = chunkPtr(base)
	top.setSizeAndFlags(topSize, flagPInUse)
	fencepost := top.next()
	fencepost.setSizeAndFlags(0, flagCInUse|flagPInUse)
	return top, topSize
}

// rewriteFencepost re-terminates a segment after top has grown or shrunk,
// keeping the fencepost immediately after the (new) top chunk.
func rewriteFencepost(top chunkPtr) {
	fencepost := top.next()
	fencepost.setSizeAndFlags(0, flagCInUse|flagPInUse)
}
