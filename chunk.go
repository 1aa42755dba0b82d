// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dlmalloc

// chunkPtr is the base address of a chunk's two-word boundary tag
// (prevFoot, head). It is never a Go pointer: the bytes it addresses live
// in platform-provided memory, outside the Go heap.
//
//	[ prevFoot | head ][ payload / fd,bk / child[2],parent,index ... ]
//	^ chunkPtr          ^ chunkPtr+chunkOverhead (payload / fd)
type chunkPtr uintptr

// Offsets of the free-chunk linkage fields, relative to chunkOverhead
// (i.e. relative to fd, the first payload word).
const (
	offFd     = 0 * wordSize
	offBk     = 1 * wordSize
	offChild0 = 2 * wordSize
	offChild1 = 3 * wordSize
	offParent = 4 * wordSize
	offTIndex = 5 * wordSize
)

func chunkFromPayload(payload uintptr) chunkPtr { return chunkPtr(payload - chunkOverhead) }

func (c chunkPtr) payload() uintptr { return uintptr(c) + chunkOverhead }

func (c chunkPtr) prevFoot() uintptr     { return readUintptr(uintptr(c)) }
func (c chunkPtr) setPrevFoot(v uintptr) { writeUintptr(uintptr(c), v) }

func (c chunkPtr) head() uintptr     { return readUintptr(uintptr(c) + wordSize) }
func (c chunkPtr) setHead(v uintptr) { writeUintptr(uintptr(c)+wordSize, v) }

func (c chunkPtr) size() uintptr { return c.head() &^ flagsMask }

// setSize overwrites the size field, preserving whatever flags are
// currently set.
func (c chunkPtr) setSize(n uintptr) { c.setHead(n | (c.head() & flagsMask)) }

// setSizeAndFlags replaces both size and flags at once.
func (c chunkPtr) setSizeAndFlags(n uintptr, flags uintptr) { c.setHead(n | flags) }

func (c chunkPtr) pinuse() bool { return c.head()&flagPInUse != 0 }
func (c chunkPtr) cinuse() bool { return c.head()&flagCInUse != 0 }
func (c chunkPtr) isMmapped() bool {
	return c.head()&(flagCInUse|flagMmap) == flagCInUse|flagMmap
}

func (c chunkPtr) setPInUse()   { c.setHead(c.head() | flagPInUse) }
func (c chunkPtr) clearPInUse() { c.setHead(c.head() &^ flagPInUse) }
func (c chunkPtr) setCInUse()   { c.setHead(c.head() | flagCInUse) }
func (c chunkPtr) clearCInUse() { c.setHead(c.head() &^ flagCInUse) }

// next returns the chunk immediately following c in memory.
func (c chunkPtr) next() chunkPtr { return chunkPtr(uintptr(c) + c.size()) }

// plusOffset returns the chunk n bytes after c (used while splitting).
func (c chunkPtr) plusOffset(n uintptr) chunkPtr { return chunkPtr(uintptr(c) + n) }

// prev returns the chunk immediately preceding c in memory. Only valid
// when !c.pinuse(), since the predecessor's size is only recorded (in c's
// prevFoot) while that predecessor is free.
func (c chunkPtr) prev() chunkPtr { return chunkPtr(uintptr(c) - c.prevFoot()) }

// setFoot writes this chunk's size into the prevFoot of its successor, so
// the successor can find c when coalescing backward. Only meaningful while
// c is free.
func (c chunkPtr) setFoot() { c.next().setPrevFoot(c.size()) }

func (c chunkPtr) fd() uintptr     { return readUintptr(c.payload() + offFd) }
func (c chunkPtr) setFd(v uintptr) { writeUintptr(c.payload()+offFd, v) }

func (c chunkPtr) bk() uintptr     { return readUintptr(c.payload() + offBk) }
func (c chunkPtr) setBk(v uintptr) { writeUintptr(c.payload()+offBk, v) }

func (c chunkPtr) child(i int) chunkPtr {
	off := offChild0
	if i != 0 {
		off = offChild1
	}
	return chunkPtr(readUintptr(c.payload() + off))
}

func (c chunkPtr) setChild(i int, v chunkPtr) {
	off := offChild0
	if i != 0 {
		off = offChild1
	}
	writeUintptr(c.payload()+off, uintptr(v))
}

func (c chunkPtr) parent() chunkPtr     { return chunkPtr(readUintptr(c.payload() + offParent)) }
func (c chunkPtr) setParent(v chunkPtr) { writeUintptr(c.payload()+offParent, uintptr(v)) }

func (c chunkPtr) treeIndex() int     { return int(readUintptr(c.payload() + offTIndex)) }
func (c chunkPtr) setTreeIndex(i int) { writeUintptr(c.payload()+offTIndex, uintptr(i)) }

// leftmostChild returns c's left child if it has one, else its right child,
// or 0 if c is a leaf. findBestTreeChunk follows it repeatedly to walk from
// a tree's root down to a leaf.
func (c chunkPtr) leftmostChild() chunkPtr {
	if l := c.child(0); l != 0 {
		return l
	}
	return c.child(1)
}
