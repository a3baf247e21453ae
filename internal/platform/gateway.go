// Package platform implements the control-channel abstraction over the
// tlkm character device: register reads/writes through an mmap'd status
// and slot window, DMA staging via ioctl, and blocking interrupt waits.
package platform

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/esa-tud/tapasco-runtime/internal/constants"
	"github.com/esa-tud/tapasco-runtime/internal/logging"
	"github.com/esa-tud/tapasco-runtime/internal/uapi"
)

// AccessMode controls how a device is opened: Exclusive refuses to open
// if another Exclusive holder is already attached, Shared allows many
// concurrent holders, and Monitor opens the device read-only for
// observation.
type AccessMode int

const (
	Exclusive AccessMode = iota
	Shared
	Monitor
)

// DevicePath formats the tlkm device node path for a given device id.
func DevicePath(deviceID uint32) string {
	return fmt.Sprintf("/dev/tlkm%d", deviceID)
}

// WaitDevicePath formats the per-slot blocking-interrupt device node.
func WaitDevicePath(deviceID uint32, slot int32) string {
	return fmt.Sprintf("/dev/tlkm%d_wait_%d", deviceID, slot)
}

// Gateway owns a device's file descriptor, its mmap'd status/slot
// register windows, and one wait-fd per slot opened lazily on first
// use. All register access goes through atomic loads/stores on the
// mmap'd window, matching how the kernel-backed hardware bus behaves
// under concurrent access from multiple goroutines.
type Gateway struct {
	deviceID uint32
	fd       int
	logger   *logging.Logger

	statusMem []byte // read-only mmap of the status core
	slotMem   []byte // read-write mmap of the slot register windows
	readOnly  bool   // true for Monitor mode: slotMem is mapped PROT_READ only

	waitMu  sync.Mutex
	waitFds map[int32]int
	closed  atomic.Bool
}

// Open opens the device, mmaps its status core and slot register
// windows, and returns a ready-to-use Gateway. Exclusive mode takes an
// advisory flock on the control fd so a second Exclusive open on the
// same device fails immediately instead of silently racing the first
// holder -- the idiomatic Go analogue of the driver's per-process
// ownership check.
func Open(deviceID uint32, mode AccessMode) (*Gateway, error) {
	path := DevicePath(deviceID)
	flags := unix.O_RDWR
	if mode == Monitor {
		flags = unix.O_RDONLY
	}
	fd, err := unix.Open(path, flags, 0)
	if err != nil {
		return nil, fmt.Errorf("tapasco: open %s: %w", path, err)
	}

	if mode == Exclusive {
		if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("tapasco: device %s already held exclusively: %w", path, err)
		}
	}

	prot := unix.PROT_READ
	if mode != Monitor {
		prot |= unix.PROT_WRITE
	}

	statusSize := uapi.StatusCoreHeaderSize + constants.MaxSlots*uapi.SlotDescriptorSize
	statusMem, err := unix.Mmap(fd, 0, pageAlign(statusSize), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("tapasco: mmap status core: %w", err)
	}

	slotSize := constants.MaxSlots * constants.SlotStride
	slotMem, err := unix.Mmap(fd, int64(statusSize), pageAlign(slotSize), prot, unix.MAP_SHARED)
	if err != nil {
		unix.Munmap(statusMem)
		unix.Close(fd)
		return nil, fmt.Errorf("tapasco: mmap slot registers: %w", err)
	}

	return &Gateway{
		deviceID:  deviceID,
		fd:        fd,
		logger:    logging.Default(),
		statusMem: statusMem,
		slotMem:   slotMem,
		readOnly:  mode == Monitor,
		waitFds:   make(map[int32]int),
	}, nil
}

func pageAlign(size int) int {
	pageSize := unix.Getpagesize()
	if rem := size % pageSize; rem != 0 {
		size += pageSize - rem
	}
	return size
}

// Close releases the mmap windows, any open wait fds, and the device
// file descriptor.
func (g *Gateway) Close() error {
	if !g.closed.CompareAndSwap(false, true) {
		return nil
	}
	g.waitMu.Lock()
	for _, fd := range g.waitFds {
		unix.Close(fd)
	}
	g.waitMu.Unlock()

	if len(g.statusMem) > 0 {
		unix.Munmap(g.statusMem)
	}
	if len(g.slotMem) > 0 {
		unix.Munmap(g.slotMem)
	}
	return unix.Close(g.fd)
}

// StatusCore returns the raw status-core mmap window, for PE directory
// enumeration.
func (g *Gateway) StatusCore() []byte {
	return g.statusMem
}

func (g *Gateway) slotOffset(slot int32, reg uint32) (int, error) {
	base := int(slot)*constants.SlotStride + int(reg)
	if base < 0 || base+4 > len(g.slotMem) {
		return 0, fmt.Errorf("tapasco: register offset %#x out of range for slot %d", reg, slot)
	}
	return base, nil
}

// ReadCtl32 reads a 32-bit control register from the given slot.
func (g *Gateway) ReadCtl32(slot int32, reg uint32) (uint32, error) {
	off, err := g.slotOffset(slot, reg)
	if err != nil {
		return 0, err
	}
	p := (*uint32)(unsafe.Pointer(&g.slotMem[off]))
	return atomic.LoadUint32(p), nil
}

// WriteCtl32 writes a 32-bit control register on the given slot.
func (g *Gateway) WriteCtl32(slot int32, reg uint32, value uint32) error {
	if g.readOnly {
		return fmt.Errorf("tapasco: write to slot %d rejected: device opened Monitor (read-only)", slot)
	}
	off, err := g.slotOffset(slot, reg)
	if err != nil {
		return err
	}
	p := (*uint32)(unsafe.Pointer(&g.slotMem[off]))
	atomic.StoreUint32(p, value)
	return nil
}

// ReadCtl64 reads a 64-bit value from two consecutive 32-bit registers
// (low word at reg, high word at reg+CtlArgHiDelta).
func (g *Gateway) ReadCtl64(slot int32, reg uint32) (uint64, error) {
	lo, err := g.ReadCtl32(slot, reg)
	if err != nil {
		return 0, err
	}
	hi, err := g.ReadCtl32(slot, reg+constants.CtlArgHiDelta)
	if err != nil {
		return 0, err
	}
	return uint64(hi)<<32 | uint64(lo), nil
}

// WriteCtl64 writes a 64-bit value across two consecutive registers.
func (g *Gateway) WriteCtl64(slot int32, reg uint32, value uint64) error {
	if err := g.WriteCtl32(slot, reg, uint32(value)); err != nil {
		return err
	}
	return g.WriteCtl32(slot, reg+constants.CtlArgHiDelta, uint32(value>>32))
}

// CopyTo stages host memory to a device address via the DMA ioctl
// channel.
func (g *Gateway) CopyTo(hostBuf []byte, fpgaAddr uint64) error {
	if g.readOnly {
		return fmt.Errorf("tapasco: copy-to rejected: device opened Monitor (read-only)")
	}
	if len(hostBuf) == 0 {
		return nil
	}
	params := uapi.DMAIOCtlParams{
		HostAddr: uint64(uintptr(unsafe.Pointer(&hostBuf[0]))),
		FPGAAddr: fpgaAddr,
		BTT:      uint32(len(hostBuf)),
	}
	return g.dmaIoctl(uapi.CmdDMAWriteBuf, &params)
}

// CopyFrom retrieves device memory into hostBuf via the DMA ioctl
// channel.
func (g *Gateway) CopyFrom(fpgaAddr uint64, hostBuf []byte) error {
	if len(hostBuf) == 0 {
		return nil
	}
	params := uapi.DMAIOCtlParams{
		HostAddr: uint64(uintptr(unsafe.Pointer(&hostBuf[0]))),
		FPGAAddr: fpgaAddr,
		BTT:      uint32(len(hostBuf)),
	}
	return g.dmaIoctl(uapi.CmdDMAReadBuf, &params)
}

func (g *Gateway) dmaIoctl(cmd uintptr, params *uapi.DMAIOCtlParams) error {
	if err := ioctl(g.fd, cmd, uintptr(unsafe.Pointer(params))); err != nil {
		return fmt.Errorf("tapasco: dma ioctl failed: %w", err)
	}
	return nil
}

// Version queries the driver's ABI version.
func (g *Gateway) Version() (uapi.CtlVersion, error) {
	var v uapi.CtlVersion
	if err := ioctl(g.fd, uapi.CmdCtlVersion, uintptr(unsafe.Pointer(&v))); err != nil {
		return v, fmt.Errorf("tapasco: version ioctl failed: %w", err)
	}
	return v, nil
}

// WaitIRQ blocks until the given slot's PE signals completion, or ctx
// is cancelled. It opens (and caches) a dedicated wait device node per
// slot on first use, matching the driver's one-waiter-fd-per-slot
// contract.
func (g *Gateway) WaitIRQ(ctx context.Context, slot int32) error {
	fd, err := g.waitFd(slot)
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		var params uapi.UserIOCtlParams
		params.FPGAAddr = uint64(slot)
		if err := ioctl(fd, uapi.CmdUserWaitEvent, uintptr(unsafe.Pointer(&params))); err != nil {
			done <- fmt.Errorf("tapasco: wait irq failed on slot %d: %w", slot, err)
			return
		}
		done <- nil
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gateway) waitFd(slot int32) (int, error) {
	g.waitMu.Lock()
	defer g.waitMu.Unlock()
	if fd, ok := g.waitFds[slot]; ok {
		return fd, nil
	}
	path := WaitDevicePath(g.deviceID, slot)
	fd, err := unix.Open(path, unix.O_RDONLY, 0)
	if err != nil {
		return 0, fmt.Errorf("tapasco: open %s: %w", path, err)
	}
	g.waitFds[slot] = fd
	return fd, nil
}

// ioctl issues a raw ioctl syscall. unix has no generic pointer-argument
// Ioctl helper (only the fixed-width IoctlSetInt/IoctlGetInt family), so
// this goes through unix.Syscall directly.
func ioctl(fd int, cmd uintptr, arg uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), cmd, arg)
	if errno != 0 {
		return errno
	}
	return nil
}
