// Package region implements a first-fit, coalescing free-list allocator
// over an arbitrary contiguous address range, grounded on gen_mem.c.
package region

import (
	"fmt"
	"sync"

	"github.com/esa-tud/tapasco-runtime/internal/logging"
)

// InvalidAddress is returned by NextBase when the free list is
// exhausted.
const InvalidAddress uint64 = ^uint64(0)

type freeBlock struct {
	base uint64
	size uint64
	next *freeBlock
}

// Allocator hands out non-overlapping [base, base+size) ranges from a
// fixed span, coalescing adjacent free blocks on release. It is safe for
// concurrent use.
type Allocator struct {
	mu    sync.Mutex
	base  uint64
	limit uint64
	free  *freeBlock
}

// New creates an allocator over [base, base+extent).
func New(base, extent uint64) *Allocator {
	a := &Allocator{base: base, limit: base + extent}
	a.free = &freeBlock{base: base, size: extent}
	return a
}

// NextBase reports the base address of the first non-empty free block,
// skipping any zero-size blocks left behind by Malloc/Free, or
// InvalidAddress if the list is exhausted.
func (a *Allocator) NextBase() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	b := a.free
	for b != nil && b.size == 0 {
		b = b.next
	}
	if b == nil {
		return InvalidAddress
	}
	return b.base
}

// Malloc reserves the first free block of at least length bytes,
// first-fit, returning its base address. It fails if no block is large
// enough.
func (a *Allocator) Malloc(length uint64) (uint64, error) {
	if length == 0 {
		return 0, fmt.Errorf("region: malloc of zero length")
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	var prev *freeBlock
	for b := a.free; b != nil; b = b.next {
		if b.size >= length {
			addr := b.base
			if b.size == length {
				if prev == nil {
					a.free = b.next
				} else {
					prev.next = b.next
				}
			} else {
				b.base += length
				b.size -= length
			}
			return addr, nil
		}
		prev = b
	}
	return 0, fmt.Errorf("region: out of space for %d bytes", length)
}

// Free returns a previously allocated [addr, addr+length) range to the
// pool, merging with adjacent free blocks. A range outside the
// allocator's span is logged and ignored; a range inside the span is
// not checked against what Malloc handed out. Free always succeeds.
func (a *Allocator) Free(addr, length uint64) {
	if length == 0 {
		return
	}
	if addr < a.base || addr+length > a.limit {
		logging.Warn("region: ignoring free of range outside the span", "addr", fmt.Sprintf("%#x", addr), "length", length)
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	var prev *freeBlock
	cur := a.free
	for cur != nil && cur.base < addr {
		prev = cur
		cur = cur.next
	}

	mergedPrev := prev != nil && prev.base+prev.size == addr
	mergedNext := cur != nil && addr+length == cur.base

	switch {
	case mergedPrev && mergedNext:
		prev.size += length + cur.size
		prev.next = cur.next
	case mergedPrev:
		prev.size += length
	case mergedNext:
		cur.base = addr
		cur.size += length
	default:
		n := &freeBlock{base: addr, size: length, next: cur}
		if prev == nil {
			a.free = n
		} else {
			prev.next = n
		}
	}
}

// FreeBytes returns the total number of bytes currently available,
// for diagnostics and tests.
func (a *Allocator) FreeBytes() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	var total uint64
	for b := a.free; b != nil; b = b.next {
		total += b.size
	}
	return total
}

// Blocks returns a snapshot of the current free-list ranges, ordered by
// base address, for diagnostics and tests.
func (a *Allocator) Blocks() []struct{ Base, Size uint64 } {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []struct{ Base, Size uint64 }
	for b := a.free; b != nil; b = b.next {
		out = append(out, struct{ Base, Size uint64 }{b.base, b.size})
	}
	return out
}
