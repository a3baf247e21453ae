package argmarshal

import "fmt"

// Allocator is the device-memory staging seam the planner needs;
// buddy.Pool satisfies it structurally.
type Allocator interface {
	Alloc(size uint64) (uint64, error)
	Free(addr uint64)
}

// CopyChannel is the host<->device bulk-copy seam; platform.Gateway
// satisfies it structurally.
type CopyChannel interface {
	CopyTo(hostBuf []byte, fpgaAddr uint64) error
	CopyFrom(fpgaAddr uint64, hostBuf []byte) error
}

// RegisterWrite is one positional argument's control-register payload.
type RegisterWrite struct {
	Index int
	Value uint64
	Wide  bool // true if the argument needs both the low and high word
}

// Plan is a built staging plan for one launch: which specs need device
// buffers, in what order to stage/unstage them, and the register
// payload to write once staging completes.
type Plan struct {
	specs       []ArgumentSpec // RetVal stripped, in register order
	retVal      ArgumentSpec   // nil if absent
	allocations []uint64       // base address per spec, 0 if unstaged
}

// NewPlan validates and builds a plan from the caller's positional
// argument list. RetVal, if present, must be specs[0] and is stripped
// from the register-order list the scheduler writes.
func NewPlan(specs []ArgumentSpec) (*Plan, error) {
	var retVal ArgumentSpec
	ordered := specs
	if len(specs) > 0 && specs[0].Kind() == KindRetVal {
		retVal = specs[0]
		ordered = specs[1:]
	}
	for i, s := range ordered {
		if s.Kind() == KindRetVal {
			return nil, fmt.Errorf("tapasco: RetVal is only valid as argument 0, found at index %d", i+1)
		}
		if s.Kind() != KindScalar && s.ByteLen()%4 != 0 {
			return nil, fmt.Errorf("tapasco: argument %d length %d is not a multiple of 4 bytes", i, s.ByteLen())
		}
	}
	return &Plan{specs: ordered, retVal: retVal, allocations: make([]uint64, len(ordered))}, nil
}

// HasRetVal reports whether this launch wants the return register read
// back into a host location.
func (p *Plan) HasRetVal() bool { return p.retVal != nil }

// WriteRetVal copies the PE's return register value into the RetVal
// destination.
func (p *Plan) WriteRetVal(raw uint64) {
	if p.retVal != nil {
		p.retVal.WriteBack(raw)
	}
}

// PreStage runs every argument's allocation and host->device copy, in
// positional order. hasLocalMem gates whether Local args use the
// caller-provided localAlloc or fall back to alloc.
func (p *Plan) PreStage(alloc Allocator, localAlloc Allocator, hasLocalMem bool, copier CopyChannel) error {
	for i, s := range p.specs {
		switch s.Kind() {
		case KindScalar:
			continue
		}

		a := alloc
		if s.WantsLocal() && hasLocalMem {
			a = localAlloc
		}
		addr, err := a.Alloc(s.ByteLen())
		if err != nil {
			p.unwindAlloc(i, alloc, localAlloc, hasLocalMem)
			return fmt.Errorf("tapasco: staging argument %d: %w", i, err)
		}
		p.allocations[i] = addr

		if s.WantsCopyIn() {
			if err := copier.CopyTo(s.HostBytes(), addr); err != nil {
				p.unwindAlloc(i+1, alloc, localAlloc, hasLocalMem)
				return fmt.Errorf("tapasco: copying argument %d to device: %w", i, err)
			}
		}
	}
	return nil
}

func (p *Plan) unwindAlloc(upTo int, alloc, localAlloc Allocator, hasLocalMem bool) {
	for i := 0; i < upTo; i++ {
		if p.allocations[i] == 0 {
			continue
		}
		a := alloc
		if p.specs[i].WantsLocal() && hasLocalMem {
			a = localAlloc
		}
		a.Free(p.allocations[i])
		p.allocations[i] = 0
	}
}

// RegisterWrites returns the positional register payload, after
// PreStage has run.
func (p *Plan) RegisterWrites() []RegisterWrite {
	out := make([]RegisterWrite, len(p.specs))
	for i, s := range p.specs {
		if v, ok := s.ScalarValue(); ok {
			out[i] = RegisterWrite{Index: i, Value: v, Wide: s.ByteLen() > 4}
			continue
		}
		out[i] = RegisterWrite{Index: i, Value: p.allocations[i] + s.Offset(), Wide: true}
	}
	return out
}

// PostStage runs every argument's device->host copy and free, in
// positional order, continuing even if an individual copy fails so
// frees still happen.
func (p *Plan) PostStage(alloc Allocator, localAlloc Allocator, hasLocalMem bool, copier CopyChannel) error {
	var firstErr error
	for i, s := range p.specs {
		if p.allocations[i] == 0 {
			continue
		}
		base := p.allocations[i]
		if s.WantsCopyOut() {
			if err := copier.CopyFrom(base, s.HostBytes()); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("tapasco: copying argument %d from device: %w", i, err)
			}
		}
		if s.WantsFree() {
			a := alloc
			if s.WantsLocal() && hasLocalMem {
				a = localAlloc
			}
			a.Free(base)
		}
	}
	return firstErr
}
