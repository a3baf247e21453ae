package platform

import "context"

// ControlPlane is the subset of Gateway the scheduler and job registry
// depend on, narrowed to an interface so tests can substitute a fake
// device without a real tlkm node.
type ControlPlane interface {
	ReadCtl32(slot int32, reg uint32) (uint32, error)
	WriteCtl32(slot int32, reg uint32, value uint32) error
	ReadCtl64(slot int32, reg uint32) (uint64, error)
	WriteCtl64(slot int32, reg uint32, value uint64) error
	CopyTo(hostBuf []byte, fpgaAddr uint64) error
	CopyFrom(fpgaAddr uint64, hostBuf []byte) error
	WaitIRQ(ctx context.Context, slot int32) error
	StatusCore() []byte
}

var _ ControlPlane = (*Gateway)(nil)
