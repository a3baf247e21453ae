package tapasco

import (
	"errors"
	"fmt"
	"syscall"
)

// ErrorCode represents a high-level error category.
type ErrorCode string

const (
	ErrCodeVersionMismatch     ErrorCode = "version mismatch"
	ErrCodeOpenDevFailed       ErrorCode = "open device failed"
	ErrCodeMmapFailed          ErrorCode = "mmap failed"
	ErrCodeInvalidCtlAddress   ErrorCode = "invalid control address"
	ErrCodeInvalidCtlSize      ErrorCode = "invalid control size"
	ErrCodeDMAFailure          ErrorCode = "dma failure"
	ErrCodeIRQWaitFailed       ErrorCode = "irq wait failed"
	ErrCodeMemAllocOOM         ErrorCode = "memory allocator out of memory"
	ErrCodeMemAllocInvalidSize ErrorCode = "invalid allocation size"
	ErrCodeInvalidHandle       ErrorCode = "invalid handle"
	ErrCodePEBusy              ErrorCode = "pe busy"
	ErrCodeUnknownKernel       ErrorCode = "unknown kernel id"
	ErrCodeJobFailed           ErrorCode = "job failed"
	ErrCodeDeviceShutDown      ErrorCode = "device shut down"
	ErrCodeNotImplemented      ErrorCode = "not implemented"
	ErrCodeInvalidState        ErrorCode = "invalid job state transition"
	ErrCodeInvalidParameters   ErrorCode = "invalid parameters"
)

// Error is a structured runtime error carrying the operation, device and
// slot context, an error-code category, and (when applicable) the
// underlying kernel errno.
type Error struct {
	Op       string // operation that failed (e.g. "AllocDev", "Launch")
	DeviceID uint32 // device id (0 if not applicable)
	SlotID   int32  // slot id (-1 if not applicable)
	Code     ErrorCode
	Errno    syscall.Errno
	Msg      string
	Inner    error
}

func (e *Error) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.DeviceID != 0 {
		parts = append(parts, fmt.Sprintf("dev=%d", e.DeviceID))
	}
	if e.SlotID >= 0 {
		parts = append(parts, fmt.Sprintf("slot=%d", e.SlotID))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if len(parts) > 0 {
		return fmt.Sprintf("tapasco: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("tapasco: %s", msg)
}

// Unwrap supports errors.Is/As against the wrapped error.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is supports matching against another *Error by Code.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == te.Code
}

// NewError creates a structured error with no device/slot context.
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg, SlotID: -1}
}

// NewDeviceError creates a device-scoped structured error.
func NewDeviceError(op string, deviceID uint32, code ErrorCode, msg string) *Error {
	return &Error{Op: op, DeviceID: deviceID, Code: code, Msg: msg, SlotID: -1}
}

// NewSlotError creates a slot-scoped structured error.
func NewSlotError(op string, deviceID uint32, slotID int32, code ErrorCode, msg string) *Error {
	return &Error{Op: op, DeviceID: deviceID, SlotID: slotID, Code: code, Msg: msg}
}

// NewErrnoError wraps a kernel errno, mapping it to an ErrorCode.
func NewErrnoError(op string, errno syscall.Errno) *Error {
	return &Error{Op: op, Code: mapErrnoToCode(errno), Errno: errno, Msg: errno.Error(), SlotID: -1}
}

// WrapError wraps an arbitrary error with operation context, preserving
// structured errors and mapping bare syscall errnos.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	if te, ok := inner.(*Error); ok {
		return &Error{
			Op: op, DeviceID: te.DeviceID, SlotID: te.SlotID,
			Code: te.Code, Errno: te.Errno, Msg: te.Msg, Inner: te.Inner,
		}
	}
	if errno, ok := inner.(syscall.Errno); ok {
		return &Error{Op: op, Code: mapErrnoToCode(errno), Errno: errno, Msg: errno.Error(), Inner: inner, SlotID: -1}
	}
	return &Error{Op: op, Code: ErrCodeDMAFailure, Msg: inner.Error(), Inner: inner, SlotID: -1}
}

func mapErrnoToCode(errno syscall.Errno) ErrorCode {
	switch errno {
	case syscall.ENOENT:
		return ErrCodeOpenDevFailed
	case syscall.EBUSY:
		return ErrCodePEBusy
	case syscall.EINVAL, syscall.E2BIG:
		return ErrCodeInvalidParameters
	case syscall.ENOSYS, syscall.EOPNOTSUPP:
		return ErrCodeNotImplemented
	case syscall.ENOMEM, syscall.ENOSPC:
		return ErrCodeMemAllocOOM
	case syscall.ETIMEDOUT:
		return ErrCodeIRQWaitFailed
	default:
		return ErrCodeDMAFailure
	}
}

// IsCode reports whether err is a *Error carrying the given code.
func IsCode(err error, code ErrorCode) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Code == code
	}
	return false
}

// StrError returns a human-readable description for an error code, the
// Go analogue of the original's tapasco_strerror lookup table.
func StrError(code ErrorCode) string {
	return string(code)
}
