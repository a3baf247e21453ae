// Package tapasco is a host-side runtime for an FPGA-based thread pool of
// hardware accelerators. It enumerates processing elements instantiated in
// a loaded bitstream, acquires and releases them for exclusive per-job
// use, marshals job arguments into device control registers with optional
// automatic buffer staging, triggers execution, and blocks on completion
// interrupts delivered through the tlkm character device.
package tapasco

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/esa-tud/tapasco-runtime/internal/buddy"
	"github.com/esa-tud/tapasco-runtime/internal/constants"
	"github.com/esa-tud/tapasco-runtime/internal/jobregistry"
	"github.com/esa-tud/tapasco-runtime/internal/logging"
	"github.com/esa-tud/tapasco-runtime/internal/pedirectory"
	"github.com/esa-tud/tapasco-runtime/internal/platform"
)

// APIVersionMajor/APIVersionMinor is the runtime's built-in API version.
// Init succeeds only against a requested version whose major component
// matches and whose minor component is no newer than this one.
const (
	APIVersionMajor = 1
	APIVersionMinor = 0
)

// Version is an API version request/response pair.
type Version struct {
	Major uint16
	Minor uint16
}

var (
	runtimeMu   sync.Mutex
	initialized bool
)

// Init verifies the requested API version against the runtime's built-in
// version and marks the process-wide runtime as ready. It must be called
// once before CreateDevice; it is safe to call again after Deinit.
func Init(requested Version) error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if requested.Major != APIVersionMajor || requested.Minor > APIVersionMinor {
		return NewError("Init", ErrCodeVersionMismatch,
			fmt.Sprintf("requested API %d.%d incompatible with built-in %d.%d",
				requested.Major, requested.Minor, APIVersionMajor, APIVersionMinor))
	}
	initialized = true
	return nil
}

// Deinit releases the process-wide runtime. Every DeviceContext derived
// from it must already be destroyed.
func Deinit() error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()
	initialized = false
	return nil
}

func requireInitialized() error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()
	if !initialized {
		return NewError("CreateDevice", ErrCodeInvalidState, "runtime not initialized: call Init first")
	}
	return nil
}

// AccessMode controls how exclusively a device is opened.
type AccessMode = platform.AccessMode

const (
	Exclusive = platform.Exclusive
	Shared    = platform.Shared
	Monitor   = platform.Monitor
)

// DeviceInfo is a snapshot of a device's static identity: device id,
// driver API version, slot count, capability bitmask and the distinct
// kernel ids in the slot table. It carries no clock frequencies and no
// bitstream build timestamp.
type DeviceInfo struct {
	DeviceID     uint32
	APIVersion   Version
	NumSlots     int
	Capabilities uint64
	KernelIDs    []uint32
}

// DeviceContext owns one opened device's PE directory, job registry,
// three-region device-memory pool, and scheduler. Multiple goroutines may
// concurrently call Launch/AsyncLaunch/Alloc/Free; only one goroutine may
// call DestroyDevice, and only after every other call has returned.
type DeviceContext struct {
	id   uint32
	mode AccessMode

	gw        *platform.Gateway
	dir       *pedirectory.Directory
	registry  *jobregistry.Registry
	globalMem *buddy.Pool
	localMem  *buddy.Tree
	caps      uint64
	scheduler *Scheduler
	metrics   *Metrics

	logger *logging.Logger

	mu       sync.Mutex
	stopped  bool
	rootCtx  context.Context
	rootStop context.CancelFunc
}

// CreateDevice opens deviceID, enumerates its PE directory from the
// status core, and wires up a job registry, device-memory pool, and
// scheduler ready to accept Launch calls.
func CreateDevice(ctx context.Context, deviceID uint32, mode AccessMode) (*DeviceContext, error) {
	if err := requireInitialized(); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	gw, err := platform.Open(deviceID, mode)
	if err != nil {
		return nil, NewDeviceError("CreateDevice", deviceID, ErrCodeOpenDevFailed, err.Error())
	}

	// Give the kernel a moment to have the status core populated before
	// the first read.
	time.Sleep(constants.DeviceStartupDelay)

	dir, err := waitForDirectory(gw)
	if err != nil {
		gw.Close()
		return nil, NewDeviceError("CreateDevice", deviceID, ErrCodeInvalidCtlAddress, err.Error())
	}

	registry := jobregistry.NewRegistry(dir)
	globalMem := buddy.NewPool()
	localMem := buddy.NewTree(constants.LocalPoolBase, constants.LocalMinOrder, constants.LocalMaxOrder)

	caps := directoryCapabilities(dir)

	metrics := NewMetrics()
	scheduler := NewScheduler(gw, dir, registry, globalMem, localMem, caps, metrics)

	rootCtx, rootStop := context.WithCancel(ctx)

	return &DeviceContext{
		id:        deviceID,
		mode:      mode,
		gw:        gw,
		dir:       dir,
		registry:  registry,
		globalMem: globalMem,
		localMem:  localMem,
		caps:      caps,
		scheduler: scheduler,
		metrics:   metrics,
		logger:    logging.Default(),
		rootCtx:   rootCtx,
		rootStop:  rootStop,
	}, nil
}

func waitForDirectory(gw *platform.Gateway) (*pedirectory.Directory, error) {
	deadline := time.Now().Add(constants.DeviceStartupTimeout)
	var lastErr error
	for time.Now().Before(deadline) {
		dir, err := pedirectory.Build(gw.StatusCore())
		if err == nil {
			return dir, nil
		}
		lastErr = err
		time.Sleep(constants.DevicePollingInterval)
	}
	return nil, fmt.Errorf("timed out waiting for status core: %w", lastErr)
}

func directoryCapabilities(dir *pedirectory.Directory) uint64 {
	var caps uint64
	for _, s := range dir.Slots() {
		caps |= s.Caps
	}
	return caps
}

// DestroyDevice cancels the device's root context, then releases the
// device handle: cancel first, then tear down the underlying resource.
// The cancel unblocks WaitIRQ only for Launch calls made with a nil ctx;
// a Launch given its own context, and a Future from AsyncLaunch, are not
// cancelled by it.
func (d *DeviceContext) DestroyDevice() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return nil
	}
	d.stopped = true

	d.rootStop()
	d.metrics.Stop()
	time.Sleep(10 * time.Millisecond)

	if err := d.gw.Close(); err != nil {
		return WrapError("DestroyDevice", err)
	}
	return nil
}

// Launch runs a job to completion, blocking the calling goroutine.
func (d *DeviceContext) Launch(ctx context.Context, kernelID uint32, args ...ArgumentSpec) error {
	if ctx == nil {
		ctx = d.rootCtx
	}
	return d.scheduler.Launch(ctx, kernelID, args...)
}

// AsyncLaunch starts a job and returns a Future the caller awaits later.
func (d *DeviceContext) AsyncLaunch(kernelID uint32, args ...ArgumentSpec) (*Future, error) {
	return d.scheduler.AsyncLaunch(kernelID, args...)
}

// Alloc reserves size bytes of device memory from the global pool,
// independent of any job launch -- for buffers the caller stages itself.
func (d *DeviceContext) Alloc(size uint64) (uint64, error) {
	addr, err := d.globalMem.Alloc(size)
	if err != nil {
		return 0, NewDeviceError("Alloc", d.id, ErrCodeMemAllocOOM, err.Error())
	}
	return addr, nil
}

// Free releases a device-memory allocation returned by Alloc.
func (d *DeviceContext) Free(addr uint64) {
	d.globalMem.Free(addr)
}

// CopyTo stages host memory directly to a device address, bypassing
// argument marshalling.
func (d *DeviceContext) CopyTo(hostBuf []byte, deviceAddr uint64) error {
	if err := d.gw.CopyTo(hostBuf, deviceAddr); err != nil {
		return WrapError("CopyTo", err)
	}
	return nil
}

// CopyFrom retrieves device memory directly into hostBuf, bypassing
// argument marshalling.
func (d *DeviceContext) CopyFrom(deviceAddr uint64, hostBuf []byte) error {
	if err := d.gw.CopyFrom(deviceAddr, hostBuf); err != nil {
		return WrapError("CopyFrom", err)
	}
	return nil
}

// KernelInstanceCount reports how many PE instances implement kernelID.
func (d *DeviceContext) KernelInstanceCount(kernelID uint32) int {
	return len(d.dir.SlotsForKernel(kernelID))
}

// Metrics returns a point-in-time snapshot of this device's job-launch
// metrics.
func (d *DeviceContext) Metrics() MetricsSnapshot {
	return d.metrics.Snapshot()
}

// MemStats reports free bytes per device-memory region.
func (d *DeviceContext) MemStats() buddy.Stats {
	return d.globalMem.Stats()
}

// Info returns a snapshot of the device's static identity (see
// DeviceInfo for what it does and does not include).
func (d *DeviceContext) Info() DeviceInfo {
	v, err := d.gw.Version()
	version := Version{}
	if err == nil {
		version = Version{Major: v.Major, Minor: v.Minor}
	}
	return DeviceInfo{
		DeviceID:     d.id,
		APIVersion:   version,
		NumSlots:     d.dir.NumSlots(),
		Capabilities: d.caps,
		KernelIDs:    d.dir.KernelIDs(),
	}
}

