package tapasco

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/esa-tud/tapasco-runtime/internal/platform"
	"github.com/esa-tud/tapasco-runtime/internal/uapi"
)

var _ platform.ControlPlane = (*MockGateway)(nil)

// MockGateway is a software implementation of platform.ControlPlane for
// testing code that launches jobs without a real tlkm device. It tracks
// call counts and lets tests inject a synthetic status core and
// failures of WaitIRQ, CopyTo and CopyFrom.
type MockGateway struct {
	mu   sync.Mutex
	regs map[int32]map[uint32]uint32

	statusCore []byte

	// Injectable failures, checked on the matching call.
	FailWaitIRQ  bool
	FailCopyTo   bool
	FailCopyFrom bool

	// ReturnValue, if non-zero, is what every ReadCtl64 call reports,
	// whatever register it reads and whatever was written.
	ReturnValue uint64

	readCalls  int
	writeCalls int
	copyTo     int
	copyFrom   int
	waitCalls  int
}

// NewMockGateway builds a MockGateway with an empty register file and no
// status core. Use WithStatusCore to give it a synthetic PE layout.
func NewMockGateway() *MockGateway {
	return &MockGateway{regs: make(map[int32]map[uint32]uint32)}
}

// MockSlotFixture describes one synthetic PE instance for WithStatusCore.
type MockSlotFixture struct {
	KernelID uint32
	Offset   uint64
	Size     uint64
	Caps     uint64
}

// WithStatusCore installs a synthetic status-core window built from the
// given slot fixtures, for exercising pedirectory.Build against a
// MockGateway end-to-end.
func (m *MockGateway) WithStatusCore(slots []MockSlotFixture) *MockGateway {
	buf := make([]byte, uapi.StatusCoreHeaderSize+len(slots)*uapi.SlotDescriptorSize)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(slots)))
	for i, s := range slots {
		off := uapi.StatusCoreHeaderSize + i*uapi.SlotDescriptorSize
		binary.LittleEndian.PutUint32(buf[off:off+4], s.KernelID)
		binary.LittleEndian.PutUint64(buf[off+8:off+16], s.Offset)
		binary.LittleEndian.PutUint64(buf[off+16:off+24], s.Size)
		binary.LittleEndian.PutUint64(buf[off+24:off+32], s.Caps)
	}
	m.statusCore = buf
	return m
}

func (m *MockGateway) regFile(slot int32) map[uint32]uint32 {
	rf, ok := m.regs[slot]
	if !ok {
		rf = make(map[uint32]uint32)
		m.regs[slot] = rf
	}
	return rf
}

// ReadCtl32 implements platform.ControlPlane.
func (m *MockGateway) ReadCtl32(slot int32, reg uint32) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readCalls++
	return m.regFile(slot)[reg], nil
}

// WriteCtl32 implements platform.ControlPlane.
func (m *MockGateway) WriteCtl32(slot int32, reg uint32, value uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeCalls++
	m.regFile(slot)[reg] = value
	return nil
}

// ReadCtl64 implements platform.ControlPlane.
func (m *MockGateway) ReadCtl64(slot int32, reg uint32) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readCalls++
	if m.ReturnValue != 0 {
		return m.ReturnValue, nil
	}
	rf := m.regFile(slot)
	return uint64(rf[reg+4])<<32 | uint64(rf[reg]), nil
}

// WriteCtl64 implements platform.ControlPlane.
func (m *MockGateway) WriteCtl64(slot int32, reg uint32, value uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeCalls++
	rf := m.regFile(slot)
	rf[reg] = uint32(value)
	rf[reg+4] = uint32(value >> 32)
	return nil
}

// CopyTo implements platform.ControlPlane. It is a no-op beyond call
// tracking: the mock has no real device memory to copy into.
func (m *MockGateway) CopyTo(hostBuf []byte, fpgaAddr uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.copyTo++
	if m.FailCopyTo {
		return NewError("CopyTo", ErrCodeDMAFailure, "mock copy-to failure")
	}
	return nil
}

// CopyFrom implements platform.ControlPlane. It fills hostBuf with 0xCD so
// tests can assert a copy-out actually reached the destination.
func (m *MockGateway) CopyFrom(fpgaAddr uint64, hostBuf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.copyFrom++
	if m.FailCopyFrom {
		return NewError("CopyFrom", ErrCodeDMAFailure, "mock copy-from failure")
	}
	for i := range hostBuf {
		hostBuf[i] = 0xCD
	}
	return nil
}

// WaitIRQ implements platform.ControlPlane, returning immediately unless
// FailWaitIRQ is set.
func (m *MockGateway) WaitIRQ(ctx context.Context, slot int32) error {
	m.mu.Lock()
	m.waitCalls++
	fail := m.FailWaitIRQ
	m.mu.Unlock()
	if fail {
		return NewSlotError("WaitIRQ", 0, slot, ErrCodeIRQWaitFailed, "mock irq wait failure")
	}
	return nil
}

// StatusCore implements platform.ControlPlane.
func (m *MockGateway) StatusCore() []byte {
	return m.statusCore
}

// CallCounts reports how many times each method has been invoked, for
// assertions in tests that exercise a full Launch through a MockGateway.
func (m *MockGateway) CallCounts() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[string]int{
		"read":      m.readCalls,
		"write":     m.writeCalls,
		"copy_to":   m.copyTo,
		"copy_from": m.copyFrom,
		"wait_irq":  m.waitCalls,
	}
}
