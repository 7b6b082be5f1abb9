// Package fiberexec implements the fiber table and the context-switch
// primitive: each Fiber is bootstrapped onto a dedicated goroutine gated
// by a zero-buffer resume channel, so that exactly one fiber's code runs
// at a time (see SPEC_FULL.md §3 for the grounding of this technique).
package fiberexec

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/go-fiber/internal/constants"
	"github.com/ehrlich-b/go-fiber/internal/region"
)

// State is a fiber's scheduling state.
type State int

const (
	StateRunnable State = iota
	StateRunning
	StateParked
	StateRetired
)

func (s State) String() string {
	switch s {
	case StateRunnable:
		return "runnable"
	case StateRunning:
		return "running"
	case StateParked:
		return "parked"
	case StateRetired:
		return "retired"
	default:
		return "unknown"
	}
}

// EntryFunc is the function a spawned fiber begins executing with.
type EntryFunc func(arg any)

// Fiber is a single cooperative task: its own stack mapping (for guard-page
// accounting; actual execution runs on the backing goroutine's own stack),
// its own allocation region, and its scheduling state.
type Fiber struct {
	ID    int
	Label string
	State State

	stackMapping []byte // guard page + usable stack, mmap'd
	stackBase    uintptr
	stackSize    int

	Region region.Region

	resume   chan struct{} // scheduler -> fiber: "you are now running"
	done     chan struct{} // fiber -> scheduler: entry function returned
	handoff  chan struct{} // fiber -> scheduler: "I am suspending, run someone else"
	started  bool
	entry    EntryFunc
	arg      any
}

// NewFiber allocates a fresh Fiber record: an mmap'd stack with a leading
// PROT_NONE guard page (spec S5), and a zeroed region. The fiber starts in
// StateRunnable and has no goroutine yet; Bootstrap arms it and SwitchInto
// starts the goroutine lazily on first switch-in, mirroring the teacher's "stack mapping
// created once, reused across retire/spawn cycles" lifecycle.
func NewFiber(id int, stackSize int, regionPageSize int) (*Fiber, error) {
	if stackSize <= 0 {
		stackSize = constants.DefaultStackSize
	}
	total := constants.GuardPageSize + stackSize
	mapping, err := unix.Mmap(-1, 0, total, unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("fiberexec: mmap stack for fiber %d: %w", id, err)
	}
	usable := mapping[constants.GuardPageSize:]
	if err := unix.Mprotect(usable, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		_ = unix.Munmap(mapping)
		return nil, fmt.Errorf("fiberexec: mprotect stack for fiber %d: %w", id, err)
	}
	f := &Fiber{
		ID:           id,
		State:        StateRunnable,
		stackMapping: mapping,
		stackBase:    uintptr(unsafe.Pointer(&usable[0])),
		stackSize:    stackSize,
	}
	f.Region.SetMinPageSize(regionPageSize)
	return f, nil
}

// StackSize reports the usable stack size, excluding the guard page.
func (f *Fiber) StackSize() int {
	return f.stackSize
}

// StackBase reports the address of the first usable (non-guard) byte of
// the fiber's stack mapping, for logging and diagnostics.
func (f *Fiber) StackBase() uintptr {
	return f.stackBase
}

// Unmap releases the fiber's stack mapping. Called only when a fiber
// record itself is being torn down (process shutdown); ordinary retire
// keeps the mapping for id reuse, per spec.md §4.4.
func (f *Fiber) Unmap() error {
	if f.stackMapping == nil {
		return nil
	}
	err := unix.Munmap(f.stackMapping)
	f.stackMapping = nil
	return err
}

// Bootstrap arms the fiber with an entry function and argument, ready to
// run the first time the scheduler switches into it. It does not itself
// start the goroutine: SwitchInto does, on first use, so that a fiber
// reused from the Retired free-list pays no goroutine-spawn cost until
// it is actually respawned.
func (f *Fiber) Bootstrap(entry EntryFunc, arg any) {
	f.entry = entry
	f.arg = arg
	f.started = false
	f.State = StateRunnable
	f.resume = make(chan struct{})
	f.done = make(chan struct{})
}

// SwitchInto transfers control to this fiber and blocks the calling
// goroutine (the scheduler's own control-flow goroutine) until the fiber
// either suspends (yield/park) or retires. It returns true if the fiber
// retired (entry function returned), false if it suspended.
//
// This is the save_and_switch primitive of spec.md §4.3, realized without
// register-level assembly: signalling resume and then waiting on handoff
// reproduces "atomically load the target's context, run until it hands
// control back" using the Go memory model's channel happens-before rule
// as the synchronization primitive instead of a stack-pointer swap.
func (f *Fiber) SwitchInto() (retired bool) {
	if !f.started {
		f.started = true
		f.handoff = make(chan struct{})
		go f.run()
	}
	f.resume <- struct{}{}
	select {
	case <-f.handoff:
		return false
	case <-f.done:
		return true
	}
}

// run is the fiber's dedicated goroutine body. It blocks on resume before
// doing anything, so the first SwitchInto's send is what actually starts
// entry execution; this is the bootstrap-then-run sequence of spec.md
// §4.3's stack layout, translated to goroutine terms.
func (f *Fiber) run() {
	<-f.resume
	f.entry(f.arg)
	close(f.done)
}

// Suspend is called from inside the fiber's own goroutine (i.e. from
// entry, or from something entry calls) to give up control back to the
// scheduler. It blocks until the scheduler switches back into this fiber.
func (f *Fiber) Suspend() {
	f.handoff <- struct{}{}
	<-f.resume
}
