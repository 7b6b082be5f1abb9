package fiber

import (
	"github.com/ehrlich-b/go-fiber/internal/sched"
)

// EntryFunc is the function a spawned fiber runs. It receives the Runtime
// it was spawned on, so it can call Yield/ParkRead/ParkWrite/Spawn without
// relying on a package-level global.
type EntryFunc func(rt *Runtime)

// Runtime is a single fiber scheduler instance: one process, one OS
// thread, a set of cooperative fibers. Nearly everything an application
// does goes through a Runtime: spawning fibers, suspending the current
// one, and driving the scheduler to quiescence with MainLoop.
type Runtime struct {
	sched *sched.Scheduler
}

// New creates a Runtime with fiber 0 (the implicit main) ready to spawn
// additional fibers and run MainLoop.
func New(opts Options) (*Runtime, error) {
	opts = opts.withDefaults()
	s, err := sched.New(sched.Config{
		Context:        opts.Context,
		StackSize:      opts.StackSize,
		RegionPageSize: opts.RegionPageSize,
		Logger:         opts.Logger,
		Observer:       opts.Observer,
	})
	if err != nil {
		return nil, WrapError("new", err)
	}
	return &Runtime{sched: s}, nil
}

// Spawn implements spec.md §4.4: reuse a retired fiber id if one exists,
// otherwise allocate a fresh one with its own mmap'd stack and region,
// then append it to Runnable. entry runs the first time the scheduler
// switches into the fiber; returning from entry retires it.
func (rt *Runtime) Spawn(label string, entry EntryFunc) (int, error) {
	id, err := rt.sched.Spawn(func(arg any) {
		entry(rt)
	}, nil, label)
	if err != nil {
		return 0, WrapError("spawn", err)
	}
	return id, nil
}

// Yield gives up the CPU voluntarily. The current fiber stays Runnable;
// control passes to whichever fiber is next in round-robin order.
func (rt *Runtime) Yield() {
	rt.sched.Yield()
}

// ParkRead suspends the current fiber until fd is reported readable.
// After resuming, the caller must still attempt the read and be prepared
// for EAGAIN: readiness is not a guarantee of success (spec.md §4.6).
func (rt *Runtime) ParkRead(fd int) {
	rt.sched.ParkRead(fd)
}

// ParkWrite suspends the current fiber until fd is reported writable.
func (rt *Runtime) ParkWrite(fd int) {
	rt.sched.ParkWrite(fd)
}

// CurrentID returns the id of the fiber currently executing. Valid only
// when called from within a fiber's entry function (or something it
// calls); fiber 0 has no entry function of its own.
func (rt *Runtime) CurrentID() int {
	return rt.sched.CurrentID()
}

// Alloc returns size bytes from the current fiber's region (spec.md §1's
// "allocate memory that dies when the fiber dies" and §6's alloc). The
// returned slice is valid until the calling fiber retires; it must be
// called from within a fiber's entry function, never from fiber 0.
func (rt *Runtime) Alloc(size int) []byte {
	return rt.sched.Alloc(size)
}

// Reallocate grows or shrinks ptr, a slice previously returned by Alloc or
// Reallocate on the same (currently running) fiber, to newSize. Implements
// spec.md §6's reallocate.
func (rt *Runtime) Reallocate(ptr []byte, newSize int) []byte {
	return rt.sched.Reallocate(ptr, newSize)
}

// LiveCount returns the number of fibers that have not yet retired,
// including the implicit fiber 0.
func (rt *Runtime) LiveCount() int {
	return rt.sched.LiveCount()
}

// RuntimeSnapshot is a point-in-time view of a Runtime's scheduler tables,
// for diagnostics — the fiber-domain analog of the teacher's
// Device.MetricsSnapshot().
type RuntimeSnapshot struct {
	Runnable         int
	Parked           int
	RetiredAvailable int
	RegionBytesInUse int
}

// Snapshot returns a RuntimeSnapshot of the scheduler's current tables.
// Like LiveCount, it reads scheduler state directly and must be called
// either from the goroutine driving MainLoop or after MainLoop has
// returned — never concurrently with a MainLoop call running elsewhere.
func (rt *Runtime) Snapshot() RuntimeSnapshot {
	return RuntimeSnapshot{
		Runnable:         rt.sched.RunnableCount(),
		Parked:           rt.sched.ParkedCount(),
		RetiredAvailable: rt.sched.RetiredCount(),
		RegionBytesInUse: rt.sched.RegionBytesInUse(),
	}
}

// MainLoop drives the scheduler until no fiber remains Runnable or
// Parked. This is fiber 0's entire body (spec.md §2): it is a library
// function the application calls after spawning its initial fibers.
func (rt *Runtime) MainLoop() {
	rt.sched.MainLoop()
}

// Close releases the runtime's poller and every fiber's stack mapping. It
// must be called only after MainLoop has returned.
func (rt *Runtime) Close() error {
	if err := rt.sched.Close(); err != nil {
		return WrapError("close", err)
	}
	return nil
}
