package argmarshal

import (
	"fmt"
	"sync"
	"testing"
)

type fakeAllocator struct {
	mu     sync.Mutex
	next   uint64
	failAt int // fail on the N-th call (0 = never)
	calls  int
	freed  []uint64
}

func newFakeAllocator(base uint64) *fakeAllocator {
	return &fakeAllocator{next: base}
}

func (f *fakeAllocator) Alloc(size uint64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failAt != 0 && f.calls == f.failAt {
		return 0, fmt.Errorf("fake allocator: out of space")
	}
	addr := f.next
	f.next += size
	return addr, nil
}

func (f *fakeAllocator) Free(addr uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.freed = append(f.freed, addr)
}

type fakeCopier struct {
	mu      sync.Mutex
	copyIns map[uint64][]byte
}

func newFakeCopier() *fakeCopier { return &fakeCopier{copyIns: make(map[uint64][]byte)} }

func (f *fakeCopier) CopyTo(hostBuf []byte, fpgaAddr uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(hostBuf))
	copy(cp, hostBuf)
	f.copyIns[fpgaAddr] = cp
	return nil
}

func (f *fakeCopier) CopyFrom(fpgaAddr uint64, hostBuf []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range hostBuf {
		hostBuf[i] = 0xAB
	}
	return nil
}

func TestScalarArgumentRegisterValue(t *testing.T) {
	plan, err := NewPlan([]ArgumentSpec{Scalar[uint32](42)})
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	writes := plan.RegisterWrites()
	if len(writes) != 1 || writes[0].Value != 42 {
		t.Errorf("expected scalar register write of 42, got %+v", writes)
	}
}

func TestScalarOver8BytesAutoStages(t *testing.T) {
	type big struct{ a, b, c [4]byte }
	in := big{a: [4]byte{1, 2, 3, 4}, b: [4]byte{5, 6, 7, 8}, c: [4]byte{9, 10, 11, 12}}

	plan, err := NewPlan([]ArgumentSpec{Scalar(in)})
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	alloc := newFakeAllocator(0x4000_0000)
	copier := newFakeCopier()

	if err := plan.PreStage(alloc, alloc, false, copier); err != nil {
		t.Fatalf("PreStage: %v", err)
	}
	writes := plan.RegisterWrites()
	if writes[0].Value != 0x4000_0000 {
		t.Errorf("expected the oversized scalar to be staged as a pointer register, got %#x", writes[0].Value)
	}
	staged, ok := copier.copyIns[0x4000_0000]
	if !ok {
		t.Fatal("expected a host->device copy-in of the staged value")
	}
	if len(staged) != 12 || staged[0] != 1 || staged[11] != 12 {
		t.Errorf("expected the staged bytes to match the original value, got %v", staged)
	}

	if err := plan.PostStage(alloc, alloc, false, copier); err != nil {
		t.Fatalf("PostStage: %v", err)
	}
	if len(alloc.freed) != 1 || alloc.freed[0] != 0x4000_0000 {
		t.Errorf("expected the staging buffer to be freed, got %v", alloc.freed)
	}
}

func TestPointerArgumentStagesAndFrees(t *testing.T) {
	val := uint64(0x1122334455667788)
	plan, err := NewPlan([]ArgumentSpec{Pointer(&val)})
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	alloc := newFakeAllocator(0x2000_0000)
	copier := newFakeCopier()

	if err := plan.PreStage(alloc, alloc, false, copier); err != nil {
		t.Fatalf("PreStage: %v", err)
	}
	writes := plan.RegisterWrites()
	if writes[0].Value != 0x2000_0000 {
		t.Errorf("expected register to hold device address, got %#x", writes[0].Value)
	}
	if _, ok := copier.copyIns[0x2000_0000]; !ok {
		t.Error("expected a host->device copy during PreStage")
	}

	if err := plan.PostStage(alloc, alloc, false, copier); err != nil {
		t.Fatalf("PostStage: %v", err)
	}
	if len(alloc.freed) != 1 || alloc.freed[0] != 0x2000_0000 {
		t.Errorf("expected the allocation to be freed, got %v", alloc.freed)
	}
	if val != 0xABABABABABABABAB {
		t.Errorf("expected PostStage's copy-from to overwrite val, got %#x", val)
	}
}

func TestConstPointerSuppressesCopyOut(t *testing.T) {
	val := uint32(7)
	plan, _ := NewPlan([]ArgumentSpec{ConstPointer(&val)})
	alloc := newFakeAllocator(0x3000_0000)
	copier := newFakeCopier()

	plan.PreStage(alloc, alloc, false, copier)
	plan.PostStage(alloc, alloc, false, copier)

	if val != 7 {
		t.Errorf("expected ConstPointer to suppress copy-out, but val changed to %d", val)
	}
	if len(alloc.freed) != 1 {
		t.Error("expected ConstPointer's allocation to still be freed")
	}
}

func TestOutOnlySkipsCopyIn(t *testing.T) {
	val := [4]byte{0xFF, 0xFF, 0xFF, 0xFF}
	plan, _ := NewPlan([]ArgumentSpec{OutOnly(&val)})
	alloc := newFakeAllocator(0x3000_0000)
	copier := newFakeCopier()

	plan.PreStage(alloc, alloc, false, copier)
	if len(copier.copyIns) != 0 {
		t.Error("expected OutOnly to skip the pre-start copy-in")
	}
	plan.PostStage(alloc, alloc, false, copier)
	if val[0] != 0xAB {
		t.Error("expected OutOnly's post-completion copy-from to run")
	}
}

func TestOffsetArgumentAddsOffsetToRegisterNotFree(t *testing.T) {
	val := uint64(0)
	plan, _ := NewPlan([]ArgumentSpec{Offset(&val, 0x40)})
	alloc := newFakeAllocator(0x5000_0000)
	copier := newFakeCopier()

	plan.PreStage(alloc, alloc, false, copier)
	writes := plan.RegisterWrites()
	if writes[0].Value != 0x5000_0000+0x40 {
		t.Errorf("expected register = base+offset, got %#x", writes[0].Value)
	}

	plan.PostStage(alloc, alloc, false, copier)
	if alloc.freed[0] != 0x5000_0000 {
		t.Errorf("expected Free to target allocation base, not base+offset, got %#x", alloc.freed[0])
	}
}

func TestRetValMustBeFirstArgument(t *testing.T) {
	var dest uint32
	var other uint32
	_, err := NewPlan([]ArgumentSpec{Scalar(other), RetVal(&dest)})
	if err == nil {
		t.Error("expected error when RetVal is not the first argument")
	}
}

func TestRetValWriteBack(t *testing.T) {
	var dest uint32
	plan, err := NewPlan([]ArgumentSpec{RetVal(&dest), Scalar[uint32](1)})
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	if !plan.HasRetVal() {
		t.Fatal("expected HasRetVal true")
	}
	// RetVal must not occupy a register slot of its own.
	if len(plan.RegisterWrites()) != 1 {
		t.Fatalf("expected RetVal to be stripped from register-order specs, got %d writes", len(plan.RegisterWrites()))
	}
	plan.WriteRetVal(99)
	if dest != 99 {
		t.Errorf("expected WriteRetVal to write 99 into dest, got %d", dest)
	}
}

func TestNonMultipleOf4LengthRejected(t *testing.T) {
	var v [3]byte
	_, err := NewPlan([]ArgumentSpec{Pointer(&v)})
	if err == nil {
		t.Error("expected error for argument length not a multiple of 4 bytes")
	}
}

func TestPreStageFailureUnwindsPriorAllocations(t *testing.T) {
	var a, b uint64
	plan, err := NewPlan([]ArgumentSpec{Pointer(&a), Pointer(&b)})
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	alloc := newFakeAllocator(0x1000)
	alloc.failAt = 2 // second Alloc call fails
	copier := newFakeCopier()

	if err := plan.PreStage(alloc, alloc, false, copier); err == nil {
		t.Fatal("expected PreStage to fail")
	}
	if len(alloc.freed) != 1 {
		t.Errorf("expected the first successful allocation to be unwound, got %v", alloc.freed)
	}
}

func TestLocalArgumentPrefersLocalAllocatorWhenCapable(t *testing.T) {
	var v uint32
	plan, _ := NewPlan([]ArgumentSpec{Local(&v)})
	global := newFakeAllocator(0x1000_0000)
	local := newFakeAllocator(0x9000_0000)
	copier := newFakeCopier()

	plan.PreStage(global, local, true, copier)
	writes := plan.RegisterWrites()
	if writes[0].Value < 0x9000_0000 {
		t.Errorf("expected Local arg to be staged from the local allocator, got %#x", writes[0].Value)
	}

	plan.PostStage(global, local, true, copier)
	if len(local.freed) != 1 {
		t.Error("expected Local arg to be freed from the local allocator")
	}
}

func TestLocalArgumentFallsBackWithoutCapability(t *testing.T) {
	var v uint32
	plan, _ := NewPlan([]ArgumentSpec{Local(&v)})
	global := newFakeAllocator(0x1000_0000)
	local := newFakeAllocator(0x9000_0000)
	copier := newFakeCopier()

	plan.PreStage(global, local, false, copier)
	writes := plan.RegisterWrites()
	if writes[0].Value < 0x1000_0000 || writes[0].Value >= 0x9000_0000 {
		t.Errorf("expected Local arg to fall back to the global allocator, got %#x", writes[0].Value)
	}
}
