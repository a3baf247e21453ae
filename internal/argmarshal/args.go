// Package argmarshal implements the argument tagged-variant and the
// two-stream staging planner, grounded on tpc_api.hpp's set_args/
// get_args overload ladder (Scalar, OutOnly<T>, T*, const T*).
package argmarshal

import (
	"unsafe"
)

// Kind tags the variant an ArgumentSpec carries.
type Kind int

const (
	KindScalar Kind = iota
	KindPointer
	KindConstPointer
	KindInOnly
	KindOutOnly
	KindLocal
	KindOffset
	KindWrappedPointer
	KindRetVal
	KindStagedScalar
)

// ArgumentSpec is the sealed tagged-variant type accepted by Launch, one
// per positional PE argument.
type ArgumentSpec interface {
	Kind() Kind
	ByteLen() uint64
	HostBytes() []byte
	ScalarValue() (uint64, bool)
	WantsCopyIn() bool
	WantsCopyOut() bool
	WantsFree() bool
	WantsLocal() bool
	Offset() uint64
	WriteBack(raw uint64)
}

type baseArg struct {
	ptr    unsafe.Pointer
	length uint64
	off    uint64
}

func (b baseArg) ByteLen() uint64 { return b.length }
func (b baseArg) HostBytes() []byte {
	if b.ptr == nil || b.length == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(b.ptr), int(b.length))
}
func (b baseArg) ScalarValue() (uint64, bool) { return 0, false }
func (b baseArg) Offset() uint64              { return b.off }

// WriteBack copies the low bytes of raw into the host memory this arg
// points to, used only for RetVal after the scheduler reads the PE's
// return register.
func (b baseArg) WriteBack(raw uint64) {
	if b.ptr == nil || b.length == 0 {
		return
	}
	n := b.length
	if n > 8 {
		n = 8
	}
	buf := unsafe.Slice((*byte)(b.ptr), int(b.length))
	for i := uint64(0); i < n; i++ {
		buf[i] = byte(raw >> (8 * i))
	}
}

type pointerArg struct {
	baseArg
	kind    Kind
	copyIn  bool
	copyOut bool
	free    bool
	local   bool
}

func (p pointerArg) Kind() Kind         { return p.kind }
func (p pointerArg) WantsCopyIn() bool  { return p.copyIn }
func (p pointerArg) WantsCopyOut() bool { return p.copyOut }
func (p pointerArg) WantsFree() bool    { return p.free }
func (p pointerArg) WantsLocal() bool   { return p.local }

type scalarArg struct {
	value uint64
	size  uint64
}

func (s scalarArg) Kind() Kind                  { return KindScalar }
func (s scalarArg) ByteLen() uint64             { return s.size }
func (s scalarArg) HostBytes() []byte           { return nil }
func (s scalarArg) ScalarValue() (uint64, bool) { return s.value, true }
func (s scalarArg) WantsCopyIn() bool           { return false }
func (s scalarArg) WantsCopyOut() bool          { return false }
func (s scalarArg) WantsFree() bool             { return false }
func (s scalarArg) WantsLocal() bool            { return false }
func (s scalarArg) Offset() uint64              { return 0 }
func (s scalarArg) WriteBack(uint64)            {}

func sizeOf[T any]() uint64 {
	var zero T
	return uint64(unsafe.Sizeof(zero))
}

// Scalar wraps a trivially-copyable value, written directly into its
// argument register if it fits in 8 bytes. Larger values are staged
// through a device buffer instead and passed as an implicit pointer
// register, copied in before start and freed after completion; since
// the value was passed by copy there is nothing to copy back.
func Scalar[T any](v T) ArgumentSpec {
	size := sizeOf[T]()
	if size > 8 {
		pv := new(T)
		*pv = v
		return pointerArg{
			baseArg: baseArg{ptr: unsafe.Pointer(pv), length: size},
			kind:    KindStagedScalar, copyIn: true, copyOut: false, free: true,
		}
	}
	var bits uint64
	b := unsafe.Slice((*byte)(unsafe.Pointer(&v)), int(size))
	for i := uint64(0); i < size; i++ {
		bits |= uint64(b[i]) << (8 * i)
	}
	return scalarArg{value: bits, size: size}
}

// Pointer stages a bidirectional device buffer: host->device before
// start, device->host after completion, freed afterward.
func Pointer[T any](v *T) ArgumentSpec {
	return pointerArg{
		baseArg: baseArg{ptr: unsafe.Pointer(v), length: sizeOf[T]()},
		kind:    KindPointer, copyIn: true, copyOut: true, free: true,
	}
}

// ConstPointer stages a device buffer copied in before start but never
// copied back, still freed afterward.
func ConstPointer[T any](v *T) ArgumentSpec {
	return pointerArg{
		baseArg: baseArg{ptr: unsafe.Pointer(v), length: sizeOf[T]()},
		kind:    KindConstPointer, copyIn: true, copyOut: false, free: true,
	}
}

// InOnly carries the same staging effects as ConstPointer under its own
// tag, matching the distinction the source argument-kind enum draws.
func InOnly[T any](v *T) ArgumentSpec {
	return pointerArg{
		baseArg: baseArg{ptr: unsafe.Pointer(v), length: sizeOf[T]()},
		kind:    KindInOnly, copyIn: true, copyOut: false, free: true,
	}
}

// OutOnly allocates a device buffer and passes its handle with no
// pre-copy; the PE's output is copied back after completion, then
// freed.
func OutOnly[T any](v *T) ArgumentSpec {
	return pointerArg{
		baseArg: baseArg{ptr: unsafe.Pointer(v), length: sizeOf[T]()},
		kind:    KindOutOnly, copyIn: false, copyOut: true, free: true,
	}
}

// Local behaves like Pointer but is allocated from PE-local memory when
// the device advertises PE_LOCAL_MEM, falling back to the default pool
// otherwise.
func Local[T any](v *T) ArgumentSpec {
	return pointerArg{
		baseArg: baseArg{ptr: unsafe.Pointer(v), length: sizeOf[T]()},
		kind:    KindLocal, copyIn: true, copyOut: true, free: true, local: true,
	}
}

// Offset behaves like Pointer but the device address handed to the PE
// is allocation.base+off; freeing still targets allocation.base.
func Offset[T any](v *T, off uint64) ArgumentSpec {
	return pointerArg{
		baseArg: baseArg{ptr: unsafe.Pointer(v), length: sizeOf[T](), off: off},
		kind:    KindOffset, copyIn: true, copyOut: true, free: true,
	}
}

// WrappedPointer stages an explicit-length array argument, required
// whenever T's natural size doesn't already capture the transfer
// length.
func WrappedPointer[T any](v *T, n int) ArgumentSpec {
	return pointerArg{
		baseArg: baseArg{ptr: unsafe.Pointer(v), length: sizeOf[T]() * uint64(n)},
		kind:    KindWrappedPointer, copyIn: true, copyOut: true, free: true,
	}
}

// RetVal instructs the scheduler to read the PE's return register after
// completion and write it into dest. Valid only as argument index 0;
// the scheduler rejects any other placement.
func RetVal[T any](dest *T) ArgumentSpec {
	return pointerArg{
		baseArg: baseArg{ptr: unsafe.Pointer(dest), length: sizeOf[T]()},
		kind:    KindRetVal,
	}
}
