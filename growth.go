// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dlmalloc

import (
	"time"

	"github.com/cenkalti/backoff"

	"github.com/cznic/dlmalloc/platform"
)

// defaultSource resolves the build's platform backend; exactly one
// platform.New implementation is compiled into any given build (selected
// by the GOOS/GOARCH/build-tag rules in the platform package), so this
// call never needs its own switch.
func defaultSource() platform.Source { return platform.New() }

// allocFromPlatform requests size bytes from the platform, retrying a
// transient failure (e.g. a concurrent grow racing another process for
// address space) with bounded exponential backoff before surfacing OOM to
// the caller. A single attempt is the overwhelmingly common case; the
// retry exists for the rare platform hiccup, not as a substitute for
// reporting genuine exhaustion.
func (a *Allocator) allocFromPlatform(size uintptr) (base, actual uintptr, flags uintptr) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Millisecond
	b.MaxElapsedTime = 20 * time.Millisecond

	var rbase, ractual uintptr
	var rflags uintptr
	err := backoff.Retry(func() error {
		pbase, pactual, pflags := a.source.Alloc(size)
		if pbase == 0 {
			return errOOM
		}
		rbase, ractual, rflags = pbase, pactual, uintptr(pflags)
		return nil
	}, b)
	if err != nil {
		return 0, 0, 0
	}
	return rbase, ractual, rflags
}

// grow asks the segment manager for at least `need` additional payload
// bytes for top, per segment-growth policy: requests
// max(need+overhead, trimThreshold) from the platform, rounded to page
// size, then either extends an existing segment contiguous with the new
// memory or registers a brand-new segment and installs a fresh top.
func (a *Allocator) grow(need uintptr) bool {
	ask := need + chunkOverhead + minChunkSize
	if ask < a.trimThreshold {
		ask = a.trimThreshold
	}
	pageSize := a.source.PageSize()
	ask = alignUp(ask, pageSize)

	base, actual, flags := a.allocFromPlatform(ask)
	if base == 0 {
		return false
	}

	a.footprint += actual
	if a.footprint > a.maxFootprint {
		a.maxFootprint = a.footprint
	}

	if s := a.contiguousSegment(base); s != nil {
		a.extendSegment(s, actual)
		return true
	}

	top, topSize := setupTop(base, actual)
	a.absorbOldTop()
	a.top = top
	a.topSize = topSize
	sf := segExternal
	if platform.Flags(flags)&platform.Mmapped != 0 {
		sf = segMmapped
	}
	if a.source.CanReleasePart(platform.Flags(flags)) {
		sf |= segCanReleasePart
	}
	a.registerSegment(&segment{base: base, size: actual, flags: sf})
	return true
}

// contiguousSegment returns the segment whose end equals base, if any,
// so growth can extend it in place instead of starting a new one.
func (a *Allocator) contiguousSegment(base uintptr) *segment {
	for s := a.segments; s != nil; s = s.next {
		if s.end() == base {
			return s
		}
	}
	return nil
}

// extendSegment absorbs newly grown memory that is physically contiguous
// with an existing segment's end, extending that segment's top in place
// rather than starting a fresh one (contiguous growth).
//
// The segment's old fencepost always sits at s.end()-grownBy-chunkOverhead
// (the tail of the segment before this growth), whether or not top itself
// is still live: a request that exactly consumed the remaining top drives
// a.top/a.topSize to 0 (carveTop) without touching that fencepost, so its
// address and PINUSE bit are still the authoritative record of whatever
// chunk immediately precedes it. The new top chunk must therefore be
// anchored there (or at the old top, if one still exists) rather than at
// s.base — re-stamping a header at s.base would overwrite a chunk that
// may already be in use further back in the segment.
func (a *Allocator) extendSegment(s *segment, grownBy uintptr) {
	oldTop := a.top
	oldTopSize := a.topSize
	s.size += grownBy

	fencepost := chunkPtr(s.end() - grownBy - chunkOverhead)
	anchor := oldTop
	if anchor == 0 {
		anchor = fencepost
	}

	if fencepost.size() == 0 && fencepost.cinuse() && (oldTop == 0 || uintptr(oldTop.next()) == uintptr(fencepost)) {
		// The old fencepost sat exactly where new memory now begins:
		// absorb it into top instead of re-fencing.
		a.topSize = oldTopSize + grownBy
		a.top = anchor
		a.top.setSizeAndFlags(a.topSize, (anchor.head() & flagPInUse))
		rewriteFencepost(a.top)
		return
	}

	// top lives in another segment: bin it and start a fresh top at this
	// segment's old fencepost.
	a.absorbOldTop()
	a.top = fencepost
	a.topSize = grownBy
	a.top.setSizeAndFlags(grownBy, fencepost.head()&flagPInUse)
	rewriteFencepost(a.top)
}

// absorbOldTop folds a still-live top chunk into a small/tree bin before
// it is replaced by a fresh segment's top, so its bytes are not leaked.
func (a *Allocator) absorbOldTop() {
	if a.top == 0 || a.topSize == 0 {
		return
	}
	c := a.top
	size := a.topSize
	c.setSizeAndFlags(size, (c.head()&flagPInUse))
	c.next().clearPInUse()
	c.setFoot()
	if isSmallRequest(size) {
		a.insertSmallChunk(c, smallIndex(size))
	} else {
		a.insertTreeChunk(c, size)
	}
	a.top = 0
	a.topSize = 0
}

// trim releases pages back to the platform once top grows past the trim
// watermark, and returns a wholly-empty segment
// to the platform outright when the platform supports it.
func (a *Allocator) trim(pad uintptr) bool {
	if a.topSize <= a.trimThreshold+pad {
		return false
	}
	s := a.segmentFor(uintptr(a.top))
	if s == nil {
		return false
	}

	if s.flags&segExternal != 0 {
		return false
	}

	// A whole segment with no outstanding allocations: top spans the
	// segment except for the fencepost.
	if uintptr(a.top) == s.base && a.topSize == s.size-chunkOverhead {
		if a.source.Free(s.base, s.size) {
			a.unregisterSegment(s)
			a.footprint -= s.size
			a.top = 0
			a.topSize = 0
			return true
		}
		return false
	}

	if s.flags&segCanReleasePart == 0 {
		return false
	}
	pageSize := a.source.PageSize()
	extra := alignDown(a.topSize-pad, pageSize)
	if extra < pageSize {
		return false
	}
	releaseBase := s.end() - extra
	if !a.source.FreePart(s.base, s.size, s.size-extra) {
		return false
	}
	s.size -= extra
	a.topSize -= extra
	a.footprint -= extra
	a.top.setSize(a.topSize)
	rewriteFencepost(a.top)
	_ = releaseBase
	return true
}

func alignDown(n, align uintptr) uintptr { return n &^ (align - 1) }

var errOOM = oomError{}

type oomError struct{}

func (oomError) Error() string { return "dlmalloc: platform allocation failed" }
