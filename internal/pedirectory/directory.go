// Package pedirectory enumerates processing element instances from a
// bitstream's status core, grounded on kernel_desc.c's kernel-id ->
// instance list construction.
package pedirectory

import (
	"fmt"

	"github.com/esa-tud/tapasco-runtime/internal/uapi"
)

// Slot describes one PE instantiation: its kernel id, slot index, and
// register aperture within the slot window.
type Slot struct {
	SlotID   int32
	KernelID uint32
	Offset   uint64
	Size     uint64
	Caps     uint64
}

// Directory maps kernel ids to the slots implementing them.
type Directory struct {
	slots    []Slot
	byKernel map[uint32][]int32
}

// Build parses a status-core mmap window into a Directory.
func Build(statusCore []byte) (*Directory, error) {
	if len(statusCore) < uapi.StatusCoreHeaderSize {
		return nil, fmt.Errorf("tapasco: status core window too small for header")
	}
	hdr := uapi.ReadStatusCoreHeader(statusCore)

	needed := uapi.StatusCoreHeaderSize + int(hdr.NumSlots)*uapi.SlotDescriptorSize
	if len(statusCore) < needed {
		return nil, fmt.Errorf("tapasco: status core window too small for %d slots", hdr.NumSlots)
	}

	d := &Directory{
		byKernel: make(map[uint32][]int32, hdr.NumSlots),
	}
	for i := 0; i < int(hdr.NumSlots); i++ {
		desc := uapi.ReadSlotDescriptor(statusCore, i)
		slot := Slot{
			SlotID:   int32(i),
			KernelID: desc.KernelID,
			Offset:   desc.Offset,
			Size:     desc.Size,
			Caps:     desc.Caps,
		}
		d.slots = append(d.slots, slot)
		d.byKernel[desc.KernelID] = append(d.byKernel[desc.KernelID], slot.SlotID)
	}
	return d, nil
}

// Slots returns every enumerated slot, ordered by slot id.
func (d *Directory) Slots() []Slot {
	return d.slots
}

// SlotsForKernel returns the slot ids implementing the given kernel id,
// in ascending order.
func (d *Directory) SlotsForKernel(kernelID uint32) []int32 {
	return d.byKernel[kernelID]
}

// Slot looks up a single slot's descriptor by id.
func (d *Directory) Slot(slotID int32) (Slot, bool) {
	if slotID < 0 || int(slotID) >= len(d.slots) {
		return Slot{}, false
	}
	return d.slots[slotID], true
}

// KernelIDs returns every distinct kernel id present in the bitstream.
func (d *Directory) KernelIDs() []uint32 {
	ids := make([]uint32, 0, len(d.byKernel))
	for k := range d.byKernel {
		ids = append(ids, k)
	}
	return ids
}

// NumSlots returns the total number of enumerated PE instances.
func (d *Directory) NumSlots() int {
	return len(d.slots)
}
