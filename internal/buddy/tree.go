// Package buddy implements a power-of-two buddy allocator over device
// memory, grounded on buddy_allocator.cpp/.hpp and buddy_tree.cpp. Each
// Tree manages one contiguous region; Pool composes three independently
// locked Trees (small/medium/large) the way the platform layer exposes
// three size classes of device memory.
package buddy

import (
	"fmt"
	"sync"

	"github.com/esa-tud/tapasco-runtime/internal/logging"
)

// Tree is a single power-of-two buddy allocator over [base, base+size),
// where size == 1<<maxOrder and the smallest allocatable block is
// 1<<minOrder. It mirrors the original's build_Tree/find_Free/
// find_Node/find_Sibling/fit_Order/split_Till_Fit structure, represented
// as a flat array of "leaf-count size of the largest free block in this
// subtree" -- 0 means the subtree has no free space at all, which is
// why sizes rather than orders are stored: a free leaf's size is always
// 1, never 0, so the sentinel never collides with a real value.
type Tree struct {
	mu       sync.Mutex
	base     uint64
	minOrder uint
	maxOrder uint
	leaves   uint32
	longest  []uint32 // longest[i] = leaf count of the largest free block in node i's subtree, 0 if none
}

// NewTree creates a buddy tree over [base, base+(1<<maxOrder)) with a
// minimum allocation granularity of 1<<minOrder bytes.
func NewTree(base uint64, minOrder, maxOrder uint) *Tree {
	leaves := uint32(1) << (maxOrder - minOrder)
	t := &Tree{
		base:     base,
		minOrder: minOrder,
		maxOrder: maxOrder,
		leaves:   leaves,
		longest:  make([]uint32, 2*leaves-1),
	}
	t.buildTree()
	return t
}

// buildTree initializes every node's longest value to its own full
// subtree leaf count. Node 0 is the root; node i's children sit at
// 2i+1/2i+2, each covering half of i's leaves.
func (t *Tree) buildTree() {
	nodeSize := 2 * t.leaves
	for i := range t.longest {
		if isPowerOfTwo(i + 1) {
			nodeSize /= 2
		}
		t.longest[i] = nodeSize
	}
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// fitOrder rounds size up to the smallest order (in minOrder units) that
// can hold it, returning both the order and the leaf count it spans.
func (t *Tree) fitOrder(size uint64) (order uint, leafCount uint32, err error) {
	want := uint64(1) << t.minOrder
	for want < size {
		want <<= 1
		order++
		if t.minOrder+order > t.maxOrder {
			return 0, 0, fmt.Errorf("buddy: %d bytes exceeds tree capacity", size)
		}
	}
	return order, uint32(1) << order, nil
}

// Alloc reserves a block of at least size bytes, returning its device
// address. It fails with an error if the tree has no sufficiently large
// free block.
func (t *Tree) Alloc(size uint64) (uint64, error) {
	if size == 0 {
		return 0, fmt.Errorf("buddy: alloc of zero length")
	}
	_, leafCount, err := t.fitOrder(size)
	if err != nil {
		return 0, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.longest[0] < leafCount {
		return 0, fmt.Errorf("buddy: out of space for %d bytes", size)
	}

	index := 0
	nodeSize := t.leaves
	for nodeSize != leafCount {
		nodeSize /= 2
		left := 2*index + 1
		right := left + 1
		if t.longest[left] >= leafCount {
			index = left
		} else {
			index = right
		}
	}
	t.longest[index] = 0
	offsetLeaves := uint64(index+1)*uint64(nodeSize) - uint64(t.leaves)

	for index != 0 {
		index = (index - 1) / 2
		left := 2*index + 1
		right := left + 1
		t.longest[index] = maxu32(t.longest[left], t.longest[right])
	}

	return t.base + offsetLeaves*(uint64(1)<<t.minOrder), nil
}

// Free releases the block at addr, merging with its buddy when
// possible. Freeing an address that is not the base of a block this
// tree handed out, or that is already free, is logged and otherwise
// ignored, per the allocator's forgiving-free contract.
func (t *Tree) Free(addr uint64) {
	span := uint64(1) << t.maxOrder
	if addr < t.base || addr >= t.base+span {
		logging.Warn("buddy: ignoring free of address outside the tree", "addr", fmt.Sprintf("%#x", addr))
		return
	}
	offsetLeaves := (addr - t.base) >> t.minOrder
	if offsetLeaves >= uint64(t.leaves) {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	index := int(offsetLeaves) + int(t.leaves) - 1
	nodeSize := uint32(1)
	for t.longest[index] != 0 {
		if index == 0 {
			logging.Warn("buddy: ignoring free of address that is not allocated", "addr", fmt.Sprintf("%#x", addr))
			return
		}
		index = (index - 1) / 2
		nodeSize *= 2
	}
	blockLeaves := uint64(index+1)*uint64(nodeSize) - uint64(t.leaves)
	if blockLeaves != offsetLeaves || (addr-t.base)&(uint64(1)<<t.minOrder-1) != 0 {
		logging.Warn("buddy: ignoring free of address inside an allocated block", "addr", fmt.Sprintf("%#x", addr))
		return
	}
	t.longest[index] = nodeSize

	for index != 0 {
		index = (index - 1) / 2
		nodeSize *= 2
		left := 2*index + 1
		right := left + 1
		if t.longest[left]+t.longest[right] == nodeSize {
			t.longest[index] = nodeSize
		} else {
			t.longest[index] = maxu32(t.longest[left], t.longest[right])
		}
	}
}

// FreeBytes returns the total bytes currently free, for diagnostics.
// longest[] records the largest contiguous free block per subtree, not
// the total, so this walks the tree summing fully-free subtrees.
func (t *Tree) FreeBytes() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return uint64(t.freeLeaves(0, t.leaves)) << t.minOrder
}

func (t *Tree) freeLeaves(index int, nodeSize uint32) uint32 {
	if t.longest[index] == nodeSize || t.longest[index] == 0 {
		return t.longest[index]
	}
	left := 2*index + 1
	right := left + 1
	return t.freeLeaves(left, nodeSize/2) + t.freeLeaves(right, nodeSize/2)
}

// LargestFreeBlock returns the size in bytes of the largest single
// contiguous free block, i.e. the largest allocation that could succeed
// right now.
func (t *Tree) LargestFreeBlock() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return uint64(t.longest[0]) << t.minOrder
}

func maxu32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}
