// Package constants holds register-layout offsets, device-memory region
// geometry, and timing constants shared across the runtime.
package constants

import "time"

// Register layout within a PE's control aperture: the AXI-Lite control
// register convention used by HLS-generated PEs.
const (
	// CtlStatusOffset is the status/control register: bit 0 = start on
	// write, bit 1 = done (read-only).
	CtlStatusOffset = 0x00

	// CtlCapabilitiesOffset holds the API-level capability bitmask.
	CtlCapabilitiesOffset = 0x04

	// CtlReturnLoOffset / CtlReturnHiOffset hold the return value.
	CtlReturnLoOffset = 0x10
	CtlReturnHiOffset = 0x14

	// CtlArgBaseOffset is the offset of argument 0's low word; argument i's
	// low word sits at CtlArgBaseOffset + i*CtlArgStride, its high word
	// (for 64-bit args) CtlArgHiDelta further on.
	CtlArgBaseOffset = 0x20
	CtlArgStride     = 0x10
	CtlArgHiDelta    = 0x04

	// StartBit / DoneBit are the control-register bit positions.
	StartBit = 1 << 0
	DoneBit  = 1 << 1
)

// SlotStride is the per-slot control-register aperture size. The
// gateway addresses slot i at i*SlotStride on every device, including
// one that advertises CapDynamicAddressMap.
const SlotStride = 0x10000

// MaxSlots is the maximum number of PE instantiations in a bitstream.
const MaxSlots = 128

// Capability bitmask bits recognised by the core.
const (
	CapATSPRI            uint64 = 1 << 0
	CapATSCHECK          uint64 = 1 << 1
	CapPELocalMem        uint64 = 1 << 2
	CapDynamicAddressMap uint64 = 1 << 3
	CapAWSEC2Platform    uint64 = 1 << 6
)

// Default device-memory region layout.
const (
	SmallPoolBase = 0x2000_0000
	SmallPoolSize = 32 << 20
	SmallMinOrder = 10 // 1 KiB
	SmallMaxOrder = 15 // 32 KiB

	MediumPoolBase = 0x3000_0000
	MediumPoolSize = 512 << 20
	MediumMinOrder = 16
	MediumMaxOrder = 21 // 2 MiB

	LargePoolBase = 0x6000_0000
	LargePoolSize = 3 << 30
	LargeMinOrder = 22
	LargeMaxOrder = 31 // 2 GiB

	// MinAllocGranularity is the minimum allocation granularity across all
	// pools.
	MinAllocGranularity = 1 << SmallMinOrder

	// LocalPoolBase/LocalPoolSize describe the PE-local on-chip memory
	// region used by Local arguments when the CapPELocalMem capability is
	// present. Disjoint from the three device-memory pools above so
	// Alloc/Free never mix the two address spaces.
	LocalPoolBase  = 0x1000_0000
	LocalPoolSize  = 4 << 20 // 4 MiB, typical BRAM-backed scratchpad budget
	LocalMinOrder  = 8       // 256 B
	LocalMaxOrder  = 22      // 4 MiB
)

// RegisterAlignment is the hardware contract: control-register accesses
// and argument lengths must be 4-byte aligned/sized.
const RegisterAlignment = 4

// Timing constants for device lifecycle: the kernel needs a short
// settle window around device-open / first-status-read transitions.
const (
	// DeviceStartupDelay is the initial wait after opening a device
	// before the first capability/status read.
	DeviceStartupDelay = 50 * time.Millisecond

	// DevicePollingInterval is how often CreateDevice polls the status
	// core while waiting for it to parse as a PE directory (a directory
	// with no slots is accepted).
	DevicePollingInterval = 5 * time.Millisecond

	// DeviceStartupTimeout bounds the poll above.
	DeviceStartupTimeout = 2 * time.Second
)

// AutoAssignDeviceID requests kernel auto-assignment where applicable.
const AutoAssignDeviceID = -1
