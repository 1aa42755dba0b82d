// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dlmalloc

import (
	"testing"
	"unsafe"

	"github.com/cznic/mathutil"
)

func write(p uintptr, n int, seed byte) {
	for i := 0; i < n; i++ {
		writeByte(p+uintptr(i), seed+byte(i))
	}
}

func check(t *testing.T, p uintptr, n int, seed byte) {
	t.Helper()
	for i := 0; i < n; i++ {
		if g, e := readByte(p+uintptr(i)), seed+byte(i); g != e {
			t.Fatalf("byte %d: got %#02x, want %#02x", i, g, e)
		}
	}
}

func writeByte(addr uintptr, v byte) { *(*byte)(unsafe.Pointer(addr)) = v }
func readByte(addr uintptr) byte     { return *(*byte)(unsafe.Pointer(addr)) }

func TestMallocOneByteThenFree(t *testing.T) {
	var a Allocator
	p := a.Malloc(1, 1)
	if p == 0 {
		t.Fatal("malloc(1,1) returned nil")
	}
	writeByte(p, 0xCE)
	if g := readByte(p); g != 0xCE {
		t.Fatalf("readback: got %#02x, want 0xce", g)
	}
	a.Free(p, 1, 1)
}

func TestMallocAlignment(t *testing.T) {
	var a Allocator
	p := a.Malloc(64, 128)
	if p == 0 {
		t.Fatal("malloc(64,128) returned nil")
	}
	if p%128 != 0 {
		t.Fatalf("p = %#x is not 128-byte aligned", p)
	}
	a.Free(p, 64, 128)
}

func TestReallocGrowingPreservesContent(t *testing.T) {
	var a Allocator
	p := a.Malloc(16, 8)
	if p == 0 {
		t.Fatal("malloc(16,8) returned nil")
	}
	write(p, 16, 1)
	p2 := a.Realloc(p, 16, 8, 64)
	if p2 == 0 {
		t.Fatal("realloc to 64 returned nil")
	}
	check(t, p2, 16, 1)
	a.Free(p2, 64, 8)
}

func TestReallocShrinkingBelowThresholdReturnsTail(t *testing.T) {
	var a Allocator
	p := a.Malloc(1024, 8)
	if p == 0 {
		t.Fatal("malloc(1024,8) returned nil")
	}
	write(p, 16, 7)
	footprintBefore := a.Footprint()
	p2 := a.Realloc(p, 1024, 8, 16)
	if p2 == 0 {
		t.Fatal("realloc to 16 returned nil")
	}
	check(t, p2, 16, 7)
	// The coalesced tail goes back to the free pool rather than growing
	// footprint: a subsequent small allocation should be satisfiable
	// without the platform footprint increasing.
	q := a.Malloc(32, 8)
	if q == 0 {
		t.Fatal("malloc(32,8) after shrink returned nil")
	}
	if a.Footprint() > footprintBefore {
		t.Fatalf("footprint grew from %d to %d after shrink+reuse", footprintBefore, a.Footprint())
	}
	a.Free(q, 32, 8)
	a.Free(p2, 16, 8)
}

func TestCallocZeroes(t *testing.T) {
	var a Allocator
	p := a.Malloc(64, 8)
	write(p, 64, 1)
	a.Free(p, 64, 8)

	q := a.Calloc(64, 8)
	if q == 0 {
		t.Fatal("calloc returned nil")
	}
	for i := 0; i < 64; i++ {
		if g := readByte(q + uintptr(i)); g != 0 {
			t.Fatalf("byte %d not zeroed: %#02x", i, g)
		}
	}
	a.Free(q, 64, 8)
}

func TestAllocFreeIdempotentOnState(t *testing.T) {
	var a Allocator
	// A first allocation grows the initial segment, so the footprint
	// compared below is non-zero.
	if a.Malloc(256, 8) == 0 {
		t.Fatal("warm-up malloc returned nil")
	}
	before := a.Footprint()
	p := a.Malloc(256, 8)
	if p == 0 {
		t.Fatal("malloc returned nil")
	}
	a.Free(p, 256, 8)
	after := a.Footprint()
	if before != 0 && after != before {
		t.Fatalf("footprint changed across malloc/free: %d -> %d", before, after)
	}
}

// TestStressRandomizedMallocFreeRealloc runs a scaled-down version of the
// malloc/free/realloc stress loop: every surviving pointer is checked
// against its last-written content before the run ends.
func TestStressRandomizedMallocFreeRealloc(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping stress test in short mode")
	}

	const iterations = 20000
	const quota = 32 << 20 // 32 MiB working set

	rng, err := mathutil.NewFC32(1, 128<<10, true)
	if err != nil {
		t.Fatal(err)
	}
	alignRng, err := mathutil.NewFC32(0, 5, true) // picks among {8,16,32,64,128,256}
	if err != nil {
		t.Fatal(err)
	}

	var a Allocator
	type block struct {
		p     uintptr
		size  uintptr
		align uintptr
		seed  byte
	}
	var live []block
	var outstanding uintptr

	for i := 0; i < iterations; i++ {
		if outstanding < quota || len(live) == 0 {
			size := uintptr(rng.Next())
			align := uintptr(8) << uint(alignRng.Next())
			p := a.Malloc(size, align)
			if p == 0 {
				continue // working set exceeded platform capacity; acceptable per spec
			}
			seed := byte(i)
			write(p, int(size), seed)
			live = append(live, block{p, size, align, seed})
			outstanding += size
			continue
		}

		idx := int(rng.Next()) % len(live)
		b := live[idx]
		switch int(rng.Next()) % 3 {
		case 0: // free
			check(t, b.p, int(b.size), b.seed)
			a.Free(b.p, b.size, b.align)
			outstanding -= b.size
			live[idx] = live[len(live)-1]
			live = live[:len(live)-1]
		case 1: // realloc grow
			check(t, b.p, int(b.size), b.seed)
			newSize := b.size + uintptr(rng.Next())
			np := a.Realloc(b.p, b.size, b.align, newSize)
			if np != 0 {
				check(t, np, int(b.size), b.seed)
				outstanding += newSize - b.size
				live[idx] = block{np, newSize, b.align, b.seed}
			}
		default: // realloc shrink
			if b.size <= 1 {
				continue
			}
			check(t, b.p, int(b.size), b.seed)
			newSize := b.size / 2
			np := a.Realloc(b.p, b.size, b.align, newSize)
			if np != 0 {
				check(t, np, int(newSize), b.seed)
				outstanding -= b.size - newSize
				live[idx] = block{np, newSize, b.align, b.seed}
			}
		}
	}

	for _, b := range live {
		check(t, b.p, int(b.size), b.seed)
		a.Free(b.p, b.size, b.align)
	}
}

// TestInvariantsAfterMixedWorkload walks every live segment/chunk after a
// mixed workload and checks the structural invariants from the testable
// properties: granularity, PINUSE consistency, and no two adjacent free
// chunks.
func TestInvariantsAfterMixedWorkload(t *testing.T) {
	var a Allocator
	rng, err := mathutil.NewFC32(1, 4096, true)
	if err != nil {
		t.Fatal(err)
	}

	var live []uintptr
	for i := 0; i < 2000; i++ {
		if len(live) > 0 && rng.Next()%3 == 0 {
			idx := int(rng.Next()) % len(live)
			a.Free(live[idx], 0, 0)
			live[idx] = live[len(live)-1]
			live = live[:len(live)-1]
			continue
		}
		size := uintptr(rng.Next())
		p := a.Malloc(size, 8)
		if p != 0 {
			live = append(live, p)
		}
	}

	for s := a.segments; s != nil; s = s.next {
		c := chunkPtr(s.base)
		var prevWasFree bool
		for uintptr(c) < s.end() {
			if c.size()%granularity != 0 {
				t.Fatalf("chunk at %#x has non-granularity size %d", uintptr(c), c.size())
			}
			free := !c.cinuse() && c != a.top
			if free && prevWasFree {
				t.Fatalf("two adjacent free chunks at %#x", uintptr(c))
			}
			prevWasFree = free
			if c.size() == 0 {
				break // fencepost
			}
			next := c.next()
			if next.pinuse() != c.cinuse() {
				t.Fatalf("PINUSE mismatch between %#x and successor %#x", uintptr(c), uintptr(next))
			}
			c = next
		}
	}

	for _, p := range live {
		a.Free(p, 0, 0)
	}
}
