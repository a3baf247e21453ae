package tapasco

import (
	"errors"
	"syscall"
	"testing"
)

func TestStructuredError(t *testing.T) {
	err := NewError("AllocDev", ErrCodeMemAllocInvalidSize, "length must be > 0")

	if err.Op != "AllocDev" {
		t.Errorf("Expected Op=AllocDev, got %s", err.Op)
	}
	if err.Code != ErrCodeMemAllocInvalidSize {
		t.Errorf("Expected Code=ErrCodeMemAllocInvalidSize, got %s", err.Code)
	}

	expected := "tapasco: length must be > 0 (op=AllocDev)"
	if err.Error() != expected {
		t.Errorf("Expected error message %q, got %q", expected, err.Error())
	}
}

func TestErrnoError(t *testing.T) {
	err := NewErrnoError("WaitIRQ", syscall.ETIMEDOUT)

	if err.Errno != syscall.ETIMEDOUT {
		t.Errorf("Expected Errno=ETIMEDOUT, got %v", err.Errno)
	}
	if err.Code != ErrCodeIRQWaitFailed {
		t.Errorf("Expected Code=ErrCodeIRQWaitFailed, got %s", err.Code)
	}
}

func TestDeviceError(t *testing.T) {
	err := NewDeviceError("CreateDevice", 3, ErrCodePEBusy, "device in use")

	if err.DeviceID != 3 {
		t.Errorf("Expected DeviceID=3, got %d", err.DeviceID)
	}

	expected := "tapasco: device in use (op=CreateDevice)"
	if err.Error() != expected {
		t.Errorf("Expected error message %q, got %q", expected, err.Error())
	}
}

func TestSlotError(t *testing.T) {
	err := NewSlotError("Launch", 2, 5, ErrCodeJobFailed, "pe signalled error")

	if err.DeviceID != 2 {
		t.Errorf("Expected DeviceID=2, got %d", err.DeviceID)
	}
	if err.SlotID != 5 {
		t.Errorf("Expected SlotID=5, got %d", err.SlotID)
	}
}

func TestWrapErrorPreservesStructured(t *testing.T) {
	inner := NewSlotError("Launch", 1, 0, ErrCodePEBusy, "busy")
	wrapped := WrapError("Acquire", inner)

	if wrapped.Code != ErrCodePEBusy {
		t.Errorf("Expected Code to be preserved, got %s", wrapped.Code)
	}
	if wrapped.Op != "Acquire" {
		t.Errorf("Expected Op=Acquire, got %s", wrapped.Op)
	}
}

func TestWrapErrorMapsErrno(t *testing.T) {
	wrapped := WrapError("ReadCtl", syscall.EBUSY)
	if wrapped.Code != ErrCodePEBusy {
		t.Errorf("Expected EBUSY to map to ErrCodePEBusy, got %s", wrapped.Code)
	}
}

func TestWrapErrorNil(t *testing.T) {
	if WrapError("op", nil) != nil {
		t.Error("Expected WrapError(nil) to return nil")
	}
}

func TestIsCode(t *testing.T) {
	err := NewError("Acquire", ErrCodeUnknownKernel, "no such kernel")
	if !IsCode(err, ErrCodeUnknownKernel) {
		t.Error("Expected IsCode to match ErrCodeUnknownKernel")
	}
	if IsCode(err, ErrCodePEBusy) {
		t.Error("Expected IsCode to not match ErrCodePEBusy")
	}
	if IsCode(errors.New("plain"), ErrCodeUnknownKernel) {
		t.Error("Expected IsCode to be false for a non-structured error")
	}
}

func TestErrorIsComparesCode(t *testing.T) {
	a := NewError("op1", ErrCodePEBusy, "busy")
	b := NewError("op2", ErrCodePEBusy, "still busy")
	c := NewError("op3", ErrCodeJobFailed, "failed")

	if !errors.Is(a, b) {
		t.Error("Expected errors with the same Code to match via errors.Is")
	}
	if errors.Is(a, c) {
		t.Error("Expected errors with different Codes to not match")
	}
}
