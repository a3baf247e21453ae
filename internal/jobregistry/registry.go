// Package jobregistry tracks per-slot job state and exclusive
// acquisition: a per-kernel-id free stack for fast non-blocking
// acquire, and a condition variable for blocking acquire when a
// kernel's slots are all busy.
package jobregistry

import (
	"context"
	"fmt"
	"sync"

	"github.com/esa-tud/tapasco-runtime/internal/lockfree"
	"github.com/esa-tud/tapasco-runtime/internal/pedirectory"
)

// State is a job slot's lifecycle stage.
type State int

const (
	Free State = iota
	Ready
	Running
	Finished
	Failed
)

func (s State) String() string {
	switch s {
	case Free:
		return "free"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Finished:
		return "finished"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

var validTransitions = map[State][]State{
	Free:     {Ready},
	Ready:    {Running, Free}, // Free covers acquire-then-abandon before launch
	Running:  {Finished, Failed},
	Finished: {Free},
	Failed:   {Free},
}

func canTransition(from, to State) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Slot holds one PE instance's current job state.
type Slot struct {
	mu       sync.Mutex
	SlotID   int32
	KernelID uint32
	state    State
}

// State returns the slot's current lifecycle stage.
func (s *Slot) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Slot) transition(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !canTransition(s.state, to) {
		return fmt.Errorf("tapasco: slot %d: invalid transition %s -> %s", s.SlotID, s.state, to)
	}
	s.state = to
	return nil
}

// Registry is the pool of job slots for a device, with one lock-free
// free-stack per kernel id for fast exclusive acquisition, and a
// condition variable to support blocking acquire when a kernel's slots
// are all busy.
type Registry struct {
	slots []*Slot

	mu      sync.Mutex
	cond    *sync.Cond
	freeSet map[uint32]*lockfree.Stack[int32]
}

// NewRegistry builds a registry from a PE directory, with every slot
// initially Free.
func NewRegistry(dir *pedirectory.Directory) *Registry {
	r := &Registry{
		slots:   make([]*Slot, dir.NumSlots()),
		freeSet: make(map[uint32]*lockfree.Stack[int32]),
	}
	r.cond = sync.NewCond(&r.mu)

	for _, s := range dir.Slots() {
		r.slots[s.SlotID] = &Slot{SlotID: s.SlotID, KernelID: s.KernelID, state: Free}
		if _, ok := r.freeSet[s.KernelID]; !ok {
			r.freeSet[s.KernelID] = lockfree.NewStack[int32]()
		}
		r.freeSet[s.KernelID].Push(s.SlotID)
	}
	return r
}

// Acquire tries to reserve a free slot for kernelID without blocking.
// ok is false if every slot for that kernel is currently busy.
func (r *Registry) Acquire(kernelID uint32) (slotID int32, ok bool) {
	stack, known := r.freeSet[kernelID]
	if !known {
		return 0, false
	}
	id, popped := stack.Pop()
	if !popped {
		return 0, false
	}
	_ = r.slots[id].transition(Ready)
	return id, true
}

// AcquireBlocking reserves a slot for kernelID, blocking until one is
// free or ctx is cancelled.
func (r *Registry) AcquireBlocking(ctx context.Context, kernelID uint32) (int32, error) {
	if _, known := r.freeSet[kernelID]; !known {
		return 0, fmt.Errorf("tapasco: unknown kernel id %d", kernelID)
	}

	for {
		if id, ok := r.Acquire(kernelID); ok {
			return id, nil
		}

		stack := r.freeSet[kernelID]
		waitDone := make(chan struct{})
		go func() {
			r.mu.Lock()
			// Release pushes before it broadcasts under r.mu, and a cancelled
			// ctx reports ctx.Err before its broadcast below, so checking both
			// under the lock keeps either wakeup from being missed.
			if stack.Len() == 0 && ctx.Err() == nil {
				r.cond.Wait()
			}
			r.mu.Unlock()
			close(waitDone)
		}()

		select {
		case <-waitDone:
		case <-ctx.Done():
			r.mu.Lock()
			r.cond.Broadcast() // unstick the helper goroutine above
			r.mu.Unlock()
			return 0, ctx.Err()
		}
	}
}

// Release returns slotID to the free pool, provided it is currently
// Ready, Finished or Failed (a Running slot is rejected), and wakes any
// blocked acquirers.
func (r *Registry) Release(slotID int32) error {
	slot := r.slots[slotID]
	if err := slot.transition(Free); err != nil {
		return err
	}
	r.freeSet[slot.KernelID].Push(slotID)

	r.mu.Lock()
	r.cond.Broadcast()
	r.mu.Unlock()
	return nil
}

// MarkRunning transitions an acquired (Ready) slot to Running.
func (r *Registry) MarkRunning(slotID int32) error {
	return r.slots[slotID].transition(Running)
}

// MarkFinished transitions a Running slot to Finished.
func (r *Registry) MarkFinished(slotID int32) error {
	return r.slots[slotID].transition(Finished)
}

// MarkFailed transitions a Running slot to Failed.
func (r *Registry) MarkFailed(slotID int32) error {
	return r.slots[slotID].transition(Failed)
}

// Abandon returns a Ready (acquired but never launched) slot directly to
// Free, e.g. if argument marshalling fails before the PE is started.
func (r *Registry) Abandon(slotID int32) error {
	slot := r.slots[slotID]
	if err := slot.transition(Free); err != nil {
		return err
	}
	r.freeSet[slot.KernelID].Push(slotID)
	r.mu.Lock()
	r.cond.Broadcast()
	r.mu.Unlock()
	return nil
}

// StateOf reports a slot's current state, for diagnostics.
func (r *Registry) StateOf(slotID int32) State {
	return r.slots[slotID].State()
}
