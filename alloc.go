// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dlmalloc

import (
	"github.com/google/btree"

	"github.com/cznic/dlmalloc/platform"
)

// Allocator allocates and frees memory against a single platform.Source.
// Its zero value is ready for use: the source is resolved lazily from the
// build's default platform backend on first call, the way a zero-value
// Allocator lazily mmaps its first page.
type Allocator struct {
	source platform.Source

	smallMap  uint32
	treeMap   uint32
	smallBins [nSmallBins]chunkPtr
	treeBins  [nTreeBins]chunkPtr

	dv      chunkPtr
	dvSize  uintptr
	top     chunkPtr
	topSize uintptr

	segments *segment
	segCount int
	segIndex *btree.BTree

	releaseChecks int

	footprint    uintptr
	maxFootprint uintptr

	growThreshold uintptr
	trimThreshold uintptr

	magic uint32
}

// New returns an Allocator backed by source. A nil source defers to the
// build's default platform backend on first use.
func New(source platform.Source) *Allocator {
	a := &Allocator{source: source}
	a.init()
	return a
}

func (a *Allocator) init() {
	a.magic = stateMagic
	a.growThreshold = defaultGrowThreshold
	a.trimThreshold = defaultTrimThreshold
	a.releaseChecks = defaultReleaseChecks
}

// ensureInit lazily finishes construction of a zero-value Allocator: the
// zero value is ready for use.
func (a *Allocator) ensureInit() {
	if a.magic != stateMagic {
		a.init()
	}
	if a.source == nil {
		a.source = defaultSource()
	}
}

// Malloc allocates a chunk able to hold at least size bytes, aligned to
// at least align (which must be a power of two), and returns its payload
// address. It returns 0 on out-of-memory; allocator state is unchanged on
// failure.
func (a *Allocator) Malloc(size, align uintptr) uintptr {
	a.ensureInit()
	if trace {
		defer func(size, align uintptr) { traceLog("Malloc", size, align) }(size, align)
	}
	if align > mallocAlignment() {
		return a.memalign(align, size)
	}
	return a.mallocInternal(padRequest(size))
}

// mallocInternal runs the split/coalesce/grow policy for an already-padded
// request size.
func (a *Allocator) mallocInternal(want uintptr) uintptr {
	if isSmallRequest(want) {
		if p := a.mallocSmall(want); p != 0 {
			return p
		}
	} else if c := a.findBestTreeChunk(want); c != 0 {
		return a.splitAndUse(c, want)
	}

	if a.topSize >= want+minChunkSize || a.topSize == want {
		return a.carveTop(want)
	}

	if want >= a.growThreshold {
		return a.mallocDirect(want)
	}

	if a.grow(want) {
		if a.topSize >= want {
			return a.carveTop(want)
		}
	}
	// Out of other options: try a direct mapping as a last resort even
	// below the threshold, the way dlmalloc falls back once segment
	// growth itself fails.
	return a.mallocDirect(want)
}

// mallocSmall implements the small-bin / dv fast paths.
func (a *Allocator) mallocSmall(want uintptr) uintptr {
	idx := smallIndex(want)
	if smallIndexToSize(idx) < want {
		// bin idx also holds chunks one granularity step smaller than want
		idx++
	}
	if idx, ok := a.smallBinWithRoom(idx); ok {
		c := a.unlinkFirstSmallChunk(idx)
		have := c.size()
		if have >= want+minChunkSize {
			rest := c.plusOffset(want)
			c.setSizeAndFlags(want, (c.head()&flagPInUse)|flagCInUse)
			rest.setSizeAndFlags(have-want, flagPInUse)
			rest.next().clearPInUse()
			a.replaceDV(rest, have-want)
			return c.payload()
		}
		c.setCInUse()
		c.next().setPInUse()
		return c.payload()
	}

	if a.dv != 0 && a.dvSize >= want {
		return a.splitDV(want)
	}
	return 0
}

// splitDV carves want bytes from the front of the designated victim.
func (a *Allocator) splitDV(want uintptr) uintptr {
	c := a.dv
	remaining := a.dvSize - want
	if remaining < minChunkSize {
		c.setCInUse()
		c.next().setPInUse()
		a.dv = 0
		a.dvSize = 0
		return c.payload()
	}
	c.setSizeAndFlags(want, (c.head()&flagPInUse)|flagCInUse)
	rest := c.plusOffset(want)
	rest.setSizeAndFlags(remaining, flagPInUse)
	rest.next().clearPInUse()
	a.dv = rest
	a.dvSize = remaining
	rest.setFoot()
	return c.payload()
}

// replaceDV installs a newly split remainder as the designated victim,
// returning any previous dv to the small or tree bin for its size first
// (coalescing in freeInSegment can grow dv past the small sizes).
func (a *Allocator) replaceDV(c chunkPtr, size uintptr) {
	if old := a.dv; old != 0 {
		if isSmallRequest(a.dvSize) {
			a.insertSmallChunk(old, smallIndex(a.dvSize))
		} else {
			a.insertTreeChunk(old, a.dvSize)
		}
	}
	a.dv = c
	a.dvSize = size
	c.setFoot()
}

// splitAndUse carves want bytes from a tree chunk found by
// findBestTreeChunk, reinstalling any worthwhile remainder.
func (a *Allocator) splitAndUse(c chunkPtr, want uintptr) uintptr {
	a.unlinkTreeChunk(c)
	have := c.size()
	remaining := have - want
	if remaining < minChunkSize {
		c.setCInUse()
		c.next().setPInUse()
		return c.payload()
	}
	c.setSizeAndFlags(want, (c.head()&flagPInUse)|flagCInUse)
	rest := c.plusOffset(want)
	rest.setSizeAndFlags(remaining, flagPInUse)
	rest.next().clearPInUse()
	if isSmallRequest(remaining) {
		a.insertSmallChunk(rest, smallIndex(remaining))
	} else {
		a.insertTreeChunk(rest, remaining)
		rest.setFoot()
	}
	if isSmallRequest(remaining) {
		rest.setFoot()
	}
	return c.payload()
}

// carveTop allocates want bytes from the front of top.
func (a *Allocator) carveTop(want uintptr) uintptr {
	c := a.top
	remaining := a.topSize - want
	c.setSizeAndFlags(want, (c.head()&flagPInUse)|flagCInUse)
	if remaining == 0 {
		a.top = 0
		a.topSize = 0
		return c.payload()
	}
	newTop := c.plusOffset(want)
	newTop.setSizeAndFlags(remaining, flagPInUse)
	a.top = newTop
	a.topSize = remaining
	return c.payload()
}

// mallocDirect satisfies a request too large (or segment growth having
// failed) via a standalone platform mapping, distinguished by flagMmap.
func (a *Allocator) mallocDirect(want uintptr) uintptr {
	mmapSize := want + mallocAlignment() // room to align the payload
	base, actual, flags := a.allocFromPlatform(mmapSize)
	if base == 0 {
		return 0
	}
	payload := alignUp(base+chunkOverhead, mallocAlignment())
	offset := payload - chunkOverhead - base
	c := chunkPtr(base + offset)
	c.setPrevFoot(offset)
	c.setSizeAndFlags(actual-offset, flagPInUse|flagCInUse|flagMmap)
	_ = flags
	a.footprint += actual
	if a.footprint > a.maxFootprint {
		a.maxFootprint = a.footprint
	}
	return c.payload()
}

// Calloc is like Malloc except the payload is guaranteed to read as zero.
func (a *Allocator) Calloc(size, align uintptr) uintptr {
	a.ensureInit()
	p := a.Malloc(size, align)
	if p == 0 {
		return 0
	}
	if !a.source.AllocatesZeros() || a.chunkIsDirty(p) {
		memzero(p, size)
	}
	return p
}

// chunkIsDirty reports whether the payload at p might hold leftover bytes
// from a previous allocation rather than platform-fresh zeroed pages. It
// always answers true, so Calloc zeroes every payload, including one from
// a brand-new direct mapping on a platform that zeros fresh pages. A
// conservative "always dirty" answer is always safe; only a false answer
// would need to be exact.
func (a *Allocator) chunkIsDirty(p uintptr) bool { return true }

// Free releases a block previously returned by Malloc/Calloc/Realloc.
// size and align are advisory (the engine ignores them, as many dlmalloc
// variants do).
func (a *Allocator) Free(p, size, align uintptr) {
	if p == 0 {
		return
	}
	a.ensureInit()
	if trace {
		defer func() { traceLog("Free", p, size) }()
	}
	c := chunkFromPayload(p)
	if c.isMmapped() {
		a.freeMmapped(c)
		return
	}
	a.freeInSegment(c)

	a.releaseChecks--
	if a.releaseChecks <= 0 {
		a.releaseChecks = defaultReleaseChecks
		a.trim(0)
	}
}

func (a *Allocator) freeMmapped(c chunkPtr) {
	offset := c.prevFoot()
	base := uintptr(c) - offset
	size := c.size() + offset
	a.source.Free(base, size)
	if a.footprint >= size {
		a.footprint -= size
	}
}

// freeInSegment implements the coalescing rules of the coalescing rules:
// merge with a free physical predecessor and/or successor, specially
// absorbing into dv or top when either is the neighbor, otherwise
// inserting into the appropriate bin.
func (a *Allocator) freeInSegment(c chunkPtr) {
	size := c.size()
	c.clearCInUse()

	if !c.pinuse() {
		prev := c.prev()
		a.unlinkChunkIfBinned(prev)
		size += prev.size()
		c = prev
	}

	next := c.next()
	if next == a.top {
		a.topSize += size
		c.setSizeAndFlags(a.topSize, flagPInUse)
		a.top = c
		return
	}
	if next == a.dv {
		a.dvSize += size
		c.setSizeAndFlags(a.dvSize, flagPInUse)
		c.setFoot()
		a.dv = c
		return
	}
	if !next.cinuse() {
		a.unlinkChunkIfBinned(next)
		size += next.size()
	}

	c.setSizeAndFlags(size, flagPInUse)
	c.next().clearPInUse()
	c.setFoot()
	if isSmallRequest(size) {
		a.insertSmallChunk(c, smallIndex(size))
	} else {
		a.insertTreeChunk(c, size)
	}
}

// unlinkChunkIfBinned removes a free neighbor from whichever structure
// currently holds it (dv, top, a small bin, or a tree bin) before it is
// absorbed by coalescing. freeInSegment handles a dv/top "next" neighbor
// itself and passes only the "previous" side here; Realloc's growInPlace
// passes the "next" neighbor, which may be dv or top.
func (a *Allocator) unlinkChunkIfBinned(c chunkPtr) {
	switch {
	case c == a.dv:
		a.dv = 0
		a.dvSize = 0
	case c == a.top:
		a.top = 0
		a.topSize = 0
	case isSmallRequest(c.size()):
		a.unlinkSmallChunk(c, smallIndex(c.size()))
	default:
		a.unlinkTreeChunk(c)
	}
}

// Realloc resizes the block at p, preserving bytes 0..min(oldSize,newSize)
// and returning the new payload address, or 0 on failure (in which case p
// remains valid and unchanged). align must not change between calls. A p
// of 0 behaves like Malloc; a newSize of 0 frees p and also returns 0.
func (a *Allocator) Realloc(p, oldSize, align, newSize uintptr) uintptr {
	a.ensureInit()
	if trace {
		defer func() { traceLog("Realloc", p, newSize) }()
	}
	if p == 0 {
		return a.Malloc(newSize, align)
	}
	if newSize == 0 {
		a.Free(p, oldSize, align)
		return 0
	}
	if align > mallocAlignment() {
		return a.reallocCopy(p, oldSize, align, newSize)
	}

	c := chunkFromPayload(p)
	if c.isMmapped() {
		return a.reallocMmapped(c, newSize)
	}

	want := padRequest(newSize)
	have := c.size()
	if want <= have {
		if have-want >= minChunkSize {
			a.shrinkInPlace(c, want)
		}
		return p
	}

	next := c.next()
	if !next.cinuse() {
		avail := have + a.neighborFreeSize(next)
		if avail >= want {
			a.growInPlace(c, next, want, avail)
			return p
		}
	}
	return a.reallocCopy(p, oldSize, align, newSize)
}

func (a *Allocator) neighborFreeSize(next chunkPtr) uintptr {
	switch next {
	case a.top:
		return a.topSize
	case a.dv:
		return a.dvSize
	default:
		return next.size()
	}
}

func (a *Allocator) shrinkInPlace(c chunkPtr, want uintptr) {
	have := c.size()
	rest := c.plusOffset(want)
	restSize := have - want
	c.setSizeAndFlags(want, (c.head()&flagPInUse)|flagCInUse)
	rest.setSizeAndFlags(restSize, flagPInUse|flagCInUse)
	rest.next().setPInUse()
	a.Free(rest.payload(), 0, 0)
}

func (a *Allocator) growInPlace(c, next chunkPtr, want, avail uintptr) {
	a.unlinkChunkIfBinned(next)
	remaining := avail - want
	c.setSizeAndFlags(want, (c.head()&flagPInUse)|flagCInUse)
	if remaining < minChunkSize {
		c.setSizeAndFlags(avail, (c.head()&flagPInUse)|flagCInUse)
		c.next().setPInUse()
		return
	}
	rest := c.plusOffset(want)
	rest.setSizeAndFlags(remaining, flagPInUse)
	rest.next().clearPInUse()
	if isSmallRequest(remaining) {
		a.insertSmallChunk(rest, smallIndex(remaining))
	} else {
		a.insertTreeChunk(rest, remaining)
	}
	rest.setFoot()
}

func (a *Allocator) reallocMmapped(c chunkPtr, newSize uintptr) uintptr {
	offset := c.prevFoot()
	base := uintptr(c) - offset
	oldMapSize := c.size() + offset
	newMapSize := alignUp(newSize+chunkOverhead+mallocAlignment(), a.source.PageSize())
	if nb := a.source.Remap(base, oldMapSize, newMapSize, true); nb != 0 {
		payload := alignUp(nb+offset+chunkOverhead, mallocAlignment())
		newOffset := payload - chunkOverhead - nb
		nc := chunkPtr(nb + newOffset)
		nc.setPrevFoot(newOffset)
		nc.setSizeAndFlags(newMapSize-newOffset, flagPInUse|flagCInUse|flagMmap)
		a.footprint += newMapSize - oldMapSize
		return nc.payload()
	}
	return a.reallocCopy(c.payload(), c.size()-chunkOverhead-offset, mallocAlignment(), newSize)
}

func (a *Allocator) reallocCopy(p, oldSize, align, newSize uintptr) uintptr {
	np := a.Malloc(newSize, align)
	if np == 0 {
		return 0
	}
	n := oldSize
	if newSize < n {
		n = newSize
	}
	memcopy(np, p, n)
	a.Free(p, oldSize, align)
	return np
}

// memalign allocates size bytes aligned to align, which must be a power of
// two (it panics otherwise); an align below mallocAlignment() is raised to
// it. Malloc calls it for any align above mallocAlignment().
func (a *Allocator) memalign(align, size uintptr) uintptr {
	if !isPowerOfTwo(align) {
		panic("dlmalloc: alignment must be a power of two")
	}
	if align < mallocAlignment() {
		align = mallocAlignment()
	}
	want := padRequest(size)
	req := want + align + minChunkSize
	p := a.mallocInternal(req)
	if p == 0 {
		return 0
	}
	c := chunkFromPayload(p)
	aligned := alignUp(c.payload(), align)
	if aligned == c.payload() {
		a.trimMemalignTail(c, want)
		return p
	}

	leadSize := aligned - chunkOverhead - uintptr(c)
	lead := c
	body := lead.plusOffset(leadSize)
	bodySize := lead.size() - leadSize
	body.setSizeAndFlags(bodySize, flagPInUse|flagCInUse)
	lead.setSizeAndFlags(leadSize, (lead.head()&flagPInUse)|flagCInUse)
	a.Free(lead.payload(), 0, 0)
	a.trimMemalignTail(body, want)
	return body.payload()
}

func (a *Allocator) trimMemalignTail(c chunkPtr, want uintptr) {
	have := c.size()
	if have-want < minChunkSize {
		return
	}
	rest := c.plusOffset(want)
	restSize := have - want
	c.setSizeAndFlags(want, (c.head()&flagPInUse)|flagCInUse)
	rest.setSizeAndFlags(restSize, flagPInUse|flagCInUse)
	rest.next().setPInUse()
	a.Free(rest.payload(), 0, 0)
}

// Destroy returns every segment this allocator owns to the platform.
// Subsequent use of the Allocator is undefined.
func (a *Allocator) Destroy() {
	for s := a.segments; s != nil; {
		next := s.next
		if s.flags&segExternal == 0 {
			a.source.Free(s.base, s.size)
		}
		s = next
	}
	*a = Allocator{}
}

// Footprint is the total bytes currently held from the platform.
func (a *Allocator) Footprint() uintptr { return a.footprint }

// MaxFootprint is the high-water mark of Footprint.
func (a *Allocator) MaxFootprint() uintptr { return a.maxFootprint }
