package tapasco

import "github.com/esa-tud/tapasco-runtime/internal/argmarshal"

// ArgumentSpec is the sealed tagged-variant type accepted by Launch, one
// per positional PE argument. See the constructors below.
type ArgumentSpec = argmarshal.ArgumentSpec

// Scalar wraps a trivially-copyable value of up to 8 bytes, written
// directly into its argument register.
func Scalar[T any](v T) ArgumentSpec { return argmarshal.Scalar[T](v) }

// Pointer stages a bidirectional device buffer around v.
func Pointer[T any](v *T) ArgumentSpec { return argmarshal.Pointer[T](v) }

// ConstPointer stages a device buffer copied in before start but never
// copied back.
func ConstPointer[T any](v *T) ArgumentSpec { return argmarshal.ConstPointer[T](v) }

// InOnly stages a device buffer copied in before start only.
func InOnly[T any](v *T) ArgumentSpec { return argmarshal.InOnly[T](v) }

// OutOnly allocates a device buffer with no pre-copy; its contents are
// copied back into v after completion.
func OutOnly[T any](v *T) ArgumentSpec { return argmarshal.OutOnly[T](v) }

// Local behaves like Pointer but prefers PE-local memory when available.
func Local[T any](v *T) ArgumentSpec { return argmarshal.Local[T](v) }

// Offset behaves like Pointer but the PE sees allocation.base+off.
func Offset[T any](v *T, off uint64) ArgumentSpec { return argmarshal.Offset[T](v, off) }

// WrappedPointer stages an explicit-length array argument.
func WrappedPointer[T any](v *T, n int) ArgumentSpec { return argmarshal.WrappedPointer[T](v, n) }

// RetVal instructs the scheduler to read the PE's return register after
// completion and write it into dest. Valid only as argument index 0.
func RetVal[T any](dest *T) ArgumentSpec { return argmarshal.RetVal[T](dest) }
