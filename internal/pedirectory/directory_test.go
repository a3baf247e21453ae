package pedirectory

import (
	"encoding/binary"
	"testing"

	"github.com/esa-tud/tapasco-runtime/internal/uapi"
)

func buildFixture(slots []Slot) []byte {
	buf := make([]byte, uapi.StatusCoreHeaderSize+len(slots)*uapi.SlotDescriptorSize)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(slots)))
	for i, s := range slots {
		off := uapi.StatusCoreHeaderSize + i*uapi.SlotDescriptorSize
		binary.LittleEndian.PutUint32(buf[off:off+4], s.KernelID)
		binary.LittleEndian.PutUint64(buf[off+8:off+16], s.Offset)
		binary.LittleEndian.PutUint64(buf[off+16:off+24], s.Size)
		binary.LittleEndian.PutUint64(buf[off+24:off+32], s.Caps)
	}
	return buf
}

func TestBuildEnumeratesSlotsByKernel(t *testing.T) {
	fixture := buildFixture([]Slot{
		{KernelID: 10, Offset: 0, Size: 0x1000},
		{KernelID: 10, Offset: 0x1000, Size: 0x1000},
		{KernelID: 20, Offset: 0x2000, Size: 0x1000},
	})

	dir, err := Build(fixture)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if dir.NumSlots() != 3 {
		t.Fatalf("expected 3 slots, got %d", dir.NumSlots())
	}

	ids10 := dir.SlotsForKernel(10)
	if len(ids10) != 2 || ids10[0] != 0 || ids10[1] != 1 {
		t.Errorf("expected kernel 10 slots [0 1], got %v", ids10)
	}
	ids20 := dir.SlotsForKernel(20)
	if len(ids20) != 1 || ids20[0] != 2 {
		t.Errorf("expected kernel 20 slots [2], got %v", ids20)
	}
	if len(dir.SlotsForKernel(99)) != 0 {
		t.Error("expected no slots for unknown kernel id")
	}
}

func TestSlotLookup(t *testing.T) {
	fixture := buildFixture([]Slot{{KernelID: 5, Offset: 0, Size: 0x1000}})
	dir, err := Build(fixture)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	slot, ok := dir.Slot(0)
	if !ok || slot.KernelID != 5 {
		t.Errorf("expected slot 0 with kernel 5, got %+v ok=%v", slot, ok)
	}
	if _, ok := dir.Slot(1); ok {
		t.Error("expected out-of-range slot lookup to fail")
	}
}

func TestBuildRejectsTruncatedWindow(t *testing.T) {
	fixture := buildFixture([]Slot{{KernelID: 1}, {KernelID: 2}})
	truncated := fixture[:len(fixture)-1]
	if _, err := Build(truncated); err == nil {
		t.Error("expected error for truncated status core window")
	}
}

func TestKernelIDsCoversAllDistinctKernels(t *testing.T) {
	fixture := buildFixture([]Slot{{KernelID: 1}, {KernelID: 2}, {KernelID: 1}})
	dir, err := Build(fixture)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	seen := map[uint32]bool{}
	for _, k := range dir.KernelIDs() {
		seen[k] = true
	}
	if !seen[1] || !seen[2] || len(seen) != 2 {
		t.Errorf("expected kernel ids {1,2}, got %v", seen)
	}
}
