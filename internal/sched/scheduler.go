// Package sched implements the fiber scheduler: the Runnable/Parked/Poll/
// Retired tables of spec.md §3, the next-fiber selection and readiness
// reap of §4.5, and the three suspension primitives of §4.6. It is
// grounded on the teacher's queue.Runner — a per-tag state machine cycling
// InFlightFetch → Owned → InFlightCommit driven by io_uring completions is
// the same shape as this scheduler's Runnable → Parked → Runnable cycle
// driven by readiness-poll completions.
package sched

import (
	"context"
	"fmt"

	"github.com/ehrlich-b/go-fiber/internal/collections"
	"github.com/ehrlich-b/go-fiber/internal/constants"
	"github.com/ehrlich-b/go-fiber/internal/fiberexec"
	"github.com/ehrlich-b/go-fiber/internal/logging"
	"github.com/ehrlich-b/go-fiber/internal/poll"
	"golang.org/x/sys/unix"
)

// Observer receives scheduler lifecycle events. Every method must return
// quickly and without blocking: it is invoked synchronously on whichever
// fiber's goroutine is currently running.
type Observer interface {
	ObserveSpawn(id int)
	ObserveRetire(id int)
	ObservePark(id int, wanted poll.Events)
	ObserveWake(id int, reported poll.Events)
	ObserveReadinessPoll()
	ObserveRegionPages(freed int)
}

// NoOpObserver discards every event; it is the default when the caller
// supplies none.
type NoOpObserver struct{}

func (NoOpObserver) ObserveSpawn(int)                  {}
func (NoOpObserver) ObserveRetire(int)                 {}
func (NoOpObserver) ObservePark(int, poll.Events)      {}
func (NoOpObserver) ObserveWake(int, poll.Events)      {}
func (NoOpObserver) ObserveReadinessPoll()              {}
func (NoOpObserver) ObserveRegionPages(int)             {}

// pollRecord is one entry of the Poll set, aligned by index with Parked.
type pollRecord struct {
	fd     int
	wanted poll.Events
}

// Config configures a new Scheduler.
type Config struct {
	Context        context.Context // nil uses context.Background()
	StackSize      int
	RegionPageSize int
	Logger         *logging.Logger
	Observer       Observer
	Poller         poll.Poller // nil uses poll.NewPoller()
}

// Scheduler owns every table spec.md §3 describes and is the only thing in
// this runtime that mutates them. It is not safe for concurrent use by
// multiple OS threads, by design (spec.md §5): every mutation happens
// either from MainLoop's own driving loop or from the single fiber
// goroutine currently holding the baton, and those two never run at once.
type Scheduler struct {
	fibers  map[int]*fiberexec.Fiber
	nextID  int
	runnable *collections.Slice[int]
	parked   *collections.Slice[int]
	pollRecs *collections.Slice[pollRecord]
	retired  *collections.Slice[int]

	current   int
	runningID int

	ctx         context.Context
	wakeReadFD  int
	wakeWriteFD int

	poller         poll.Poller
	stackSize      int
	regionPageSize int
	logger         *logging.Logger
	observer       Observer
}

// New creates a Scheduler with fiber 0 (the implicit main) already present
// in Runnable. Fiber 0 never runs a user entry function: its body is
// MainLoop's own drive-until-quiescent loop, matching spec.md §2's "an
// entry fiber (id 0) is the implicit main... main_loop is a library
// function the application calls; it simply yields until no fibers remain
// runnable or parked" verbatim. Suspension primitives are for spawned
// fibers (id ≥ 1); fiber 0 is not bootstrapped onto a goroutine at all.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Context == nil {
		cfg.Context = context.Background()
	}
	if cfg.StackSize <= 0 {
		cfg.StackSize = constants.DefaultStackSize
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Observer == nil {
		cfg.Observer = NoOpObserver{}
	}
	poller := cfg.Poller
	if poller == nil {
		var err error
		poller, err = poll.NewPoller()
		if err != nil {
			return nil, fmt.Errorf("sched: new poller: %w", err)
		}
	}

	wakeR, wakeW, err := newWakePipe()
	if err != nil {
		return nil, fmt.Errorf("sched: new wake pipe: %w", err)
	}
	if err := poller.Add(wakeR, poll.Readable); err != nil {
		return nil, fmt.Errorf("sched: register wake pipe: %w", err)
	}

	s := &Scheduler{
		fibers:         make(map[int]*fiberexec.Fiber),
		nextID:         1,
		runnable:       collections.NewSlice[int](constants.InitialSetCapacity),
		parked:         collections.NewSlice[int](constants.InitialSetCapacity),
		pollRecs:       collections.NewSlice[pollRecord](constants.InitialSetCapacity),
		retired:        collections.NewSlice[int](constants.InitialSetCapacity),
		ctx:            cfg.Context,
		wakeReadFD:     wakeR,
		wakeWriteFD:    wakeW,
		poller:         poller,
		stackSize:      cfg.StackSize,
		regionPageSize: cfg.RegionPageSize,
		logger:         cfg.Logger,
		observer:       cfg.Observer,
	}
	s.runnable.Append(0) // fiber 0, the implicit main

	go func() {
		<-s.ctx.Done()
		s.Wake()
	}()

	return s, nil
}

// newWakePipe creates a non-blocking self-pipe used to interrupt a blocked
// poller.Wait call from outside the scheduler's own goroutine, the same
// technique the pack's event-loop package uses for its wakeup fd.
func newWakePipe() (readFD, writeFD int, err error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return 0, 0, err
	}
	if err := unix.SetNonblock(fds[0], true); err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return 0, 0, err
	}
	if err := unix.SetNonblock(fds[1], true); err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return 0, 0, err
	}
	return fds[0], fds[1], nil
}

// Wake interrupts a blocked poller.Wait call. Safe to call from any
// goroutine, including one outside the scheduler's own single-threaded
// loop: it is the only Scheduler method with that guarantee.
func (s *Scheduler) Wake() {
	var b [1]byte
	unix.Write(s.wakeWriteFD, b[:])
}

func (s *Scheduler) drainWake() {
	var buf [64]byte
	for {
		n, err := unix.Read(s.wakeReadFD, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

// Spawn implements spec.md §4.4: reuse a retired id if one exists,
// otherwise mint a fresh Fiber record with its own mmap'd stack, then
// bootstrap and append it to Runnable.
func (s *Scheduler) Spawn(entry fiberexec.EntryFunc, arg any, label string) (int, error) {
	var id int
	var f *fiberexec.Fiber
	if s.retired.Len() > 0 {
		id = s.retired.PopLast()
		f = s.fibers[id]
	} else {
		id = s.nextID
		s.nextID++
		var err error
		f, err = fiberexec.NewFiber(id, s.stackSize, s.regionPageSize)
		if err != nil {
			return 0, err
		}
		s.fibers[id] = f
	}
	f.Label = label
	f.Bootstrap(entry, arg)
	s.runnable.Append(id)
	s.logger.Debugf("spawn fiber %d (%s)", id, label)
	s.observer.ObserveSpawn(id)
	return id, nil
}

// CurrentID returns the id of the fiber currently executing.
func (s *Scheduler) CurrentID() int {
	return s.runningID
}

// LiveCount returns the number of fibers that are not retired: runnable
// plus parked, including the implicit fiber 0.
func (s *Scheduler) LiveCount() int {
	return s.runnable.Len() + s.parked.Len()
}

// RunnableCount, ParkedCount and RetiredCount report the current size of
// each set, for Runtime.Snapshot. Like LiveCount, these read scheduler
// state directly and must only be called from the goroutine driving
// MainLoop, or after MainLoop has returned.
func (s *Scheduler) RunnableCount() int { return s.runnable.Len() }
func (s *Scheduler) ParkedCount() int   { return s.parked.Len() }
func (s *Scheduler) RetiredCount() int  { return s.retired.Len() }

// RegionBytesInUse sums every fiber's region.BytesInUse, live or retired
// (a retired fiber's region has already been released and reports 0).
func (s *Scheduler) RegionBytesInUse() int {
	total := 0
	for _, f := range s.fibers {
		total += f.Region.BytesInUse()
	}
	return total
}

// Alloc returns size bytes from the currently running fiber's region,
// implementing spec.md §6's alloc. Must be called from within a spawned
// fiber's entry function (or something it calls); fiber 0 has no region.
func (s *Scheduler) Alloc(size int) []byte {
	if s.runningID == 0 {
		panic("sched: fiber 0 has no region to allocate from")
	}
	return s.fibers[s.runningID].Region.Alloc(size)
}

// Reallocate grows or shrinks ptr (previously returned by Alloc or
// Reallocate on the same fiber) to newSize, implementing spec.md §6's
// reallocate.
func (s *Scheduler) Reallocate(ptr []byte, newSize int) []byte {
	if s.runningID == 0 {
		panic("sched: fiber 0 has no region to allocate from")
	}
	return s.fibers[s.runningID].Region.Reallocate(ptr, newSize)
}

// Yield implements spec.md §4.6's yield: the current fiber stays Runnable,
// the cursor advances, and control passes to whichever fiber is next (or
// back to this one, if it is the only Runnable fiber, after a readiness
// reap).
func (s *Scheduler) Yield() {
	if s.runningID == 0 {
		panic("sched: fiber 0 has no entry function and cannot call Yield")
	}
	if s.runnable.Len() > 0 {
		s.current = (s.current + 1) % s.runnable.Len()
	}
	s.fibers[s.runningID].Suspend()
}

// ParkRead implements spec.md §4.6's park_read.
func (s *Scheduler) ParkRead(fd int) {
	s.park(fd, poll.Readable)
}

// ParkWrite implements spec.md §4.6's park_write.
func (s *Scheduler) ParkWrite(fd int) {
	s.park(fd, poll.Writable)
}

func (s *Scheduler) park(fd int, wanted poll.Events) {
	if s.runningID == 0 {
		panic("sched: fiber 0 has no entry function and cannot park")
	}
	id := s.runningID
	s.runnable.SwapRemove(s.current)
	if s.runnable.Len() > 0 {
		s.current %= s.runnable.Len()
	} else {
		s.current = 0
	}
	s.parked.Append(id)
	s.pollRecs.Append(pollRecord{fd: fd, wanted: wanted})
	if err := s.poller.Add(fd, wanted); err != nil {
		panic(fmt.Sprintf("sched: register fd %d for fiber %d: %v", fd, id, err))
	}
	s.logger.Debugf("fiber %d parked on fd %d (%s)", id, fd, wanted)
	s.observer.ObservePark(id, wanted)
	s.fibers[id].Suspend()
}

// MainLoop drives the scheduler until no fiber remains runnable or
// parked. It is fiber 0's entire body (spec.md §2): fiber 0 is always
// present in Runnable (it never retires, never parks) and its "turn" in
// the round-robin is treated as an implicit yield, so reaching it never
// stalls the cursor — only the absence of every *other* fiber counts as
// quiescence.
func (s *Scheduler) MainLoop() {
	for {
		if s.ctx.Err() != nil {
			return
		}
		if !s.reapAndPick() {
			return
		}
		id := s.runnable.At(s.current)
		s.runningID = id
		if id == 0 {
			if s.runnable.Len() > 0 {
				s.current = (s.current + 1) % s.runnable.Len()
			}
			continue
		}
		if s.fibers[id].SwitchInto() {
			s.handleRetire(id)
		}
	}
}

// quiescent reports whether only the implicit fiber 0 remains runnable
// and nothing is parked. Fiber 0 is permanently present in Runnable, so
// Runnable's length alone cannot signal quiescence the way spec.md §4.5
// describes; this subtracts fiber 0 out of the count.
func (s *Scheduler) quiescent() bool {
	return s.runnable.Len() <= 1 && s.parked.Len() == 0
}

// reapAndPick runs the readiness-reap/pick-next algorithm of spec.md §4.5
// until either a Runnable fiber is available (returns true, with current
// normalised into range) or the scheduler has reached quiescence (returns
// false).
func (s *Scheduler) reapAndPick() bool {
	for {
		if s.ctx.Err() != nil {
			return false
		}
		if s.pollRecs.Len() > 0 {
			timeout := 0
			if s.runnable.Len() <= 1 { // only fiber 0 (or nothing) runnable
				timeout = -1
			}
			s.reap(timeout)
		}
		if s.quiescent() {
			return false
		}
		if s.runnable.Len() <= 1 {
			continue // parked fibers remain but nothing woke; reap again
		}
		s.current %= s.runnable.Len()
		return true
	}
}

// reap invokes the poller once and moves every fiber whose fd reported
// readiness from Parked back to Runnable, in the order the poller
// reported them (spec.md §4.5's tie-break rule).
func (s *Scheduler) reap(timeoutMs int) {
	s.observer.ObserveReadinessPoll()
	ready, err := s.poller.Wait(timeoutMs)
	if err != nil {
		s.logger.Errorf("readiness poll failed: %v", err)
		return
	}
	for _, r := range ready {
		if r.FD == s.wakeReadFD {
			s.drainWake()
			continue
		}
		idx := s.findPollIndex(r.FD)
		if idx < 0 {
			continue // stale event for an fd already removed
		}
		id := s.parked.At(idx)
		_ = s.poller.Remove(r.FD)
		s.parked.SwapRemove(idx)
		s.pollRecs.SwapRemove(idx)
		s.runnable.Append(id)
		s.logger.Debugf("fiber %d woken on fd %d (%s)", id, r.FD, r.Events)
		s.observer.ObserveWake(id, r.Events)
	}
}

func (s *Scheduler) findPollIndex(fd int) int {
	idx := -1
	s.pollRecs.Each(func(i int, rec pollRecord) {
		if rec.fd == fd {
			idx = i
		}
	})
	return idx
}

// handleRetire implements spec.md §4.4's retire(): release the region,
// push the id onto Retired, remove it from Runnable, run one zero-timeout
// readiness reap, and — if Runnable is now empty but Parked is not —
// promote Parked's head as a degenerate fast path.
func (s *Scheduler) handleRetire(id int) {
	if id == 0 {
		panic("sched: fiber 0 must never retire")
	}
	f := s.fibers[id]
	before := f.Region.PagesFreed()
	f.Region.Release()
	s.observer.ObserveRegionPages(f.Region.PagesFreed() - before)

	s.retired.Append(id)
	s.runnable.SwapRemove(s.current)
	if s.runnable.Len() > 0 {
		s.current %= s.runnable.Len()
	} else {
		s.current = 0
	}
	f.State = fiberexec.StateRetired
	s.logger.Debugf("fiber %d retired", id)
	s.observer.ObserveRetire(id)

	if s.pollRecs.Len() > 0 {
		s.reap(0)
	}
	if s.runnable.Len() == 0 && s.parked.Len() > 0 {
		s.promoteParkedHead()
	}
}

// promoteParkedHead moves Parked[0] straight to Runnable without waiting
// for a readiness event. spec.md §4.4 calls this "a degenerate fast-path;
// ordinarily the readiness reap handles this blocking" — it exists so
// retire() never leaves the scheduler spinning on an empty Runnable set
// when a fast zero-timeout reap simply didn't have anything ready yet.
func (s *Scheduler) promoteParkedHead() {
	id := s.parked.At(0)
	rec := s.pollRecs.At(0)
	_ = s.poller.Remove(rec.fd)
	s.parked.SwapRemove(0)
	s.pollRecs.SwapRemove(0)
	s.runnable.Append(id)
}

// Close releases the poller and unmaps every fiber's stack. It must be
// called only after MainLoop has returned.
func (s *Scheduler) Close() error {
	var firstErr error
	for _, f := range s.fibers {
		if err := f.Unmap(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := s.poller.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := unix.Close(s.wakeWriteFD); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := unix.Close(s.wakeReadFD); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
