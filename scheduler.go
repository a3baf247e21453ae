package tapasco

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/esa-tud/tapasco-runtime/internal/argmarshal"
	"github.com/esa-tud/tapasco-runtime/internal/constants"
	"github.com/esa-tud/tapasco-runtime/internal/jobregistry"
	"github.com/esa-tud/tapasco-runtime/internal/logging"
	"github.com/esa-tud/tapasco-runtime/internal/pedirectory"
	"github.com/esa-tud/tapasco-runtime/internal/platform"
)

// Scheduler launches jobs against a device's PEs, implementing the
// nine-step sequence: acquire, pre-stream, compute base, write
// arguments, assert start, wait for completion, read return, post-
// stream, release.
type Scheduler struct {
	gw         platform.ControlPlane
	dir        *pedirectory.Directory
	registry   *jobregistry.Registry
	globalPool argmarshal.Allocator
	localPool  argmarshal.Allocator
	hasLocal   bool
	metrics    *Metrics
	logger     *logging.Logger
}

// NewScheduler builds a Scheduler over an already-opened device. caps is
// the capability bitmask reported by the platform, used to decide
// whether Local arguments get PE-local memory.
func NewScheduler(gw platform.ControlPlane, dir *pedirectory.Directory, registry *jobregistry.Registry, globalPool, localPool argmarshal.Allocator, caps uint64, metrics *Metrics) *Scheduler {
	return &Scheduler{
		gw:         gw,
		dir:        dir,
		registry:   registry,
		globalPool: globalPool,
		localPool:  localPool,
		hasLocal:   caps&constants.CapPELocalMem != 0 && localPool != nil,
		metrics:    metrics,
		logger:     logging.Default(),
	}
}

// Launch runs a job to completion synchronously: steps 1-9 inline.
func (s *Scheduler) Launch(ctx context.Context, kernelID uint32, args ...ArgumentSpec) error {
	start := time.Now()
	slotID, plan, err := s.prepare(ctx, kernelID, args)
	if err != nil {
		return err
	}

	if err := s.writeArgsAndStart(slotID, plan); err != nil {
		s.abortAfterStart(slotID, plan)
		return err
	}

	err = s.finish(ctx, slotID, plan)
	s.metrics.recordLaunch(time.Since(start), err == nil)
	return err
}

// Future is the handle returned by AsyncLaunch. Await blocks the
// calling goroutine until the job completes, running steps 6-9 exactly
// once no matter how many times Await is called -- Futures are
// one-shot.
type Future struct {
	once sync.Once
	done chan struct{}
	err  error

	s      *Scheduler
	slotID int32
	plan   *argmarshal.Plan
	start  time.Time
}

// AsyncLaunch performs steps 1-5 inline and returns immediately; steps
// 6-9 run when the returned Future is awaited.
func (s *Scheduler) AsyncLaunch(kernelID uint32, args ...ArgumentSpec) (*Future, error) {
	start := time.Now()
	slotID, plan, err := s.prepare(context.Background(), kernelID, args)
	if err != nil {
		return nil, err
	}

	if err := s.writeArgsAndStart(slotID, plan); err != nil {
		s.abortAfterStart(slotID, plan)
		return nil, err
	}

	return &Future{done: make(chan struct{}), s: s, slotID: slotID, plan: plan, start: start}, nil
}

// Await blocks until the launch this future represents completes,
// returning the same error on every call after the first.
func (f *Future) Await(ctx context.Context) error {
	f.once.Do(func() {
		f.err = f.s.finish(ctx, f.slotID, f.plan)
		f.s.metrics.recordLaunch(time.Since(f.start), f.err == nil)
		close(f.done)
	})
	<-f.done
	return f.err
}

// prepare runs steps 1-2: acquire a slot and stage arguments.
func (s *Scheduler) prepare(ctx context.Context, kernelID uint32, args []ArgumentSpec) (int32, *argmarshal.Plan, error) {
	plan, err := argmarshal.NewPlan(args)
	if err != nil {
		return 0, nil, WrapError("Launch", err)
	}

	slotID, ok := s.registry.Acquire(kernelID)
	if !ok {
		if s.metrics != nil && len(s.dir.SlotsForKernel(kernelID)) > 0 {
			s.metrics.PEBusyCount.Add(1)
		}
		slotID, err = s.registry.AcquireBlocking(ctx, kernelID)
		if err != nil {
			return 0, nil, NewDeviceError("Launch", 0, ErrCodeUnknownKernel, fmt.Sprintf("acquiring slot for kernel %d: %v", kernelID, err))
		}
	}

	if err := plan.PreStage(s.globalPool, s.localPool, s.hasLocal, s.gw); err != nil {
		_ = s.registry.Abandon(slotID)
		return 0, nil, NewSlotError("Launch", 0, slotID, ErrCodeDMAFailure, err.Error())
	}

	if err := s.registry.MarkRunning(slotID); err != nil {
		_ = s.registry.Abandon(slotID)
		return 0, nil, WrapError("Launch", err)
	}

	return slotID, plan, nil
}

// writeArgsAndStart runs steps 3-5: write arguments, then start.
func (s *Scheduler) writeArgsAndStart(slotID int32, plan *argmarshal.Plan) error {
	for _, w := range plan.RegisterWrites() {
		reg := constants.CtlArgBaseOffset + uint32(w.Index)*constants.CtlArgStride
		if w.Wide {
			if err := s.gw.WriteCtl64(slotID, reg, w.Value); err != nil {
				return NewSlotError("Launch", 0, slotID, ErrCodeDMAFailure, err.Error())
			}
		} else {
			if err := s.gw.WriteCtl32(slotID, reg, uint32(w.Value)); err != nil {
				return NewSlotError("Launch", 0, slotID, ErrCodeDMAFailure, err.Error())
			}
		}
	}
	// WriteCtl32 performs an atomic store, which is already a release
	// fence: every argument write above is visible before this one.
	if err := s.gw.WriteCtl32(slotID, constants.CtlStatusOffset, constants.StartBit); err != nil {
		return NewSlotError("Launch", 0, slotID, ErrCodeDMAFailure, err.Error())
	}
	return nil
}

func (s *Scheduler) abortAfterStart(slotID int32, plan *argmarshal.Plan) {
	_ = plan.PostStage(s.globalPool, s.localPool, s.hasLocal, s.gw)
	_ = s.registry.MarkFailed(slotID)
	_ = s.registry.Release(slotID)
}

// finish runs steps 6-9: wait for completion, read return, post-stream,
// release.
func (s *Scheduler) finish(ctx context.Context, slotID int32, plan *argmarshal.Plan) error {
	if err := s.gw.WaitIRQ(ctx, slotID); err != nil {
		_ = s.registry.MarkFailed(slotID)
		_ = plan.PostStage(s.globalPool, s.localPool, s.hasLocal, s.gw)
		_ = s.registry.Release(slotID)
		return NewSlotError("Launch", 0, slotID, ErrCodeIRQWaitFailed, err.Error())
	}

	if plan.HasRetVal() {
		ret, err := s.gw.ReadCtl64(slotID, constants.CtlReturnLoOffset)
		if err != nil {
			_ = s.registry.MarkFailed(slotID)
			_ = plan.PostStage(s.globalPool, s.localPool, s.hasLocal, s.gw)
			_ = s.registry.Release(slotID)
			return NewSlotError("Launch", 0, slotID, ErrCodeDMAFailure, err.Error())
		}
		plan.WriteRetVal(ret)
	}

	postErr := plan.PostStage(s.globalPool, s.localPool, s.hasLocal, s.gw)

	if postErr != nil {
		_ = s.registry.MarkFailed(slotID)
		_ = s.registry.Release(slotID)
		return NewSlotError("Launch", 0, slotID, ErrCodeDMAFailure, postErr.Error())
	}

	if err := s.registry.MarkFinished(slotID); err != nil {
		return WrapError("Launch", err)
	}
	return s.registry.Release(slotID)
}
