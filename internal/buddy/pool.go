package buddy

import (
	"fmt"

	"github.com/esa-tud/tapasco-runtime/internal/constants"
	"github.com/esa-tud/tapasco-runtime/internal/logging"
)

// Pool composes the three independent device-memory regions (small,
// medium, large), each backed by its own Tree with its own mutex, the
// way the platform's buddy allocator exposes three size classes rather
// than one. Alloc picks the smallest region whose maximum order can
// satisfy the request; Free routes by address range.
//
// Each region's Tree starts at the region's base and spans 1<<MaxOrder
// bytes of it (32 KiB, 2 MiB and 2 GiB). The rest of each region sized
// by the Pool*Size constants is never handed out; Free uses those sizes
// only to route an address to its Tree.
type Pool struct {
	small  *Tree
	medium *Tree
	large  *Tree
}

// NewPool builds the default three-region pool using the geometry in
// package constants.
func NewPool() *Pool {
	return &Pool{
		small:  NewTree(constants.SmallPoolBase, constants.SmallMinOrder, constants.SmallMaxOrder),
		medium: NewTree(constants.MediumPoolBase, constants.MediumMinOrder, constants.MediumMaxOrder),
		large:  NewTree(constants.LargePoolBase, constants.LargeMinOrder, constants.LargeMaxOrder),
	}
}

func (p *Pool) regionFor(size uint64) *Tree {
	if size <= uint64(1)<<constants.SmallMaxOrder {
		return p.small
	}
	if size <= uint64(1)<<constants.MediumMaxOrder {
		return p.medium
	}
	return p.large
}

// Alloc reserves size bytes, routing to the smallest region that can
// hold the request and falling through to larger regions if the
// preferred one is exhausted.
func (p *Pool) Alloc(size uint64) (uint64, error) {
	if size == 0 {
		return 0, fmt.Errorf("buddy: alloc of zero length")
	}
	candidates := p.candidateRegions(size)
	var lastErr error
	for _, t := range candidates {
		addr, err := t.Alloc(size)
		if err == nil {
			return addr, nil
		}
		lastErr = err
	}
	return 0, lastErr
}

func (p *Pool) candidateRegions(size uint64) []*Tree {
	preferred := p.regionFor(size)
	switch preferred {
	case p.small:
		return []*Tree{p.small, p.medium, p.large}
	case p.medium:
		return []*Tree{p.medium, p.large}
	default:
		return []*Tree{p.large}
	}
}

// Free releases addr, dispatching to whichever region's address range
// contains it. Addresses outside all three regions are logged and
// ignored.
func (p *Pool) Free(addr uint64) {
	switch {
	case inRange(addr, constants.SmallPoolBase, constants.SmallPoolSize):
		p.small.Free(addr)
	case inRange(addr, constants.MediumPoolBase, constants.MediumPoolSize):
		p.medium.Free(addr)
	case inRange(addr, constants.LargePoolBase, constants.LargePoolSize):
		p.large.Free(addr)
	default:
		logging.Warn("buddy: ignoring free of address outside every region", "addr", fmt.Sprintf("%#x", addr))
	}
}

func inRange(addr, base uint64, size int) bool {
	return addr >= base && addr < base+uint64(size)
}

// Stats reports free bytes per region, for metrics and diagnostics.
type Stats struct {
	SmallFree, MediumFree, LargeFree uint64
}

func (p *Pool) Stats() Stats {
	return Stats{
		SmallFree:  p.small.FreeBytes(),
		MediumFree: p.medium.FreeBytes(),
		LargeFree:  p.large.FreeBytes(),
	}
}
