package fiber

import (
	"sync"

	"github.com/ehrlich-b/go-fiber/internal/poll"
	"golang.org/x/sys/unix"
)

// PipePair is a connected, non-blocking unix pipe: the standard fixture
// for exercising ParkRead/ParkWrite and the I/O helpers without a real
// socket or file. Adapted from the teacher's MockBackend — a deterministic
// in-memory stand-in for the thing tests actually want to control — but
// here a real fd pair is cheaper and more faithful than a fake, since the
// whole point under test is readiness-poll behavior on a real fd.
type PipePair struct {
	ReadFD  int
	WriteFD int
}

// NewPipePair creates a PipePair with both ends set non-blocking.
func NewPipePair() (*PipePair, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return nil, WrapError("pipe", err)
	}
	if err := unix.SetNonblock(fds[0], true); err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, WrapError("pipe", err)
	}
	if err := unix.SetNonblock(fds[1], true); err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, WrapError("pipe", err)
	}
	return &PipePair{ReadFD: fds[0], WriteFD: fds[1]}, nil
}

// Close releases both ends of the pipe.
func (p *PipePair) Close() {
	unix.Close(p.ReadFD)
	unix.Close(p.WriteFD)
}

// PageFreeHook is an Observer that records every lifecycle event a test
// might want to assert on without reaching into scheduler internals: it
// answers "was this fiber's region actually released on retire?" and
// "did this park actually happen?" the way the teacher's MockBackend
// answers "was Flush actually called?" via its CallCounts/IsFlushed
// accessors.
type PageFreeHook struct {
	mu sync.Mutex

	spawned  []int
	retired  []int
	parked   []parkEvent
	woken    []wakeEvent
	polls    int
	pagesFreed int
}

type parkEvent struct {
	FiberID int
	Wanted  poll.Events
}

type wakeEvent struct {
	FiberID  int
	Reported poll.Events
}

// NewPageFreeHook returns a zeroed PageFreeHook ready to pass as an Observer.
func NewPageFreeHook() *PageFreeHook {
	return &PageFreeHook{}
}

func (h *PageFreeHook) ObserveSpawn(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.spawned = append(h.spawned, id)
}

func (h *PageFreeHook) ObserveRetire(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.retired = append(h.retired, id)
}

func (h *PageFreeHook) ObservePark(id int, wanted poll.Events) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.parked = append(h.parked, parkEvent{FiberID: id, Wanted: wanted})
}

func (h *PageFreeHook) ObserveWake(id int, reported poll.Events) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.woken = append(h.woken, wakeEvent{FiberID: id, Reported: reported})
}

func (h *PageFreeHook) ObserveReadinessPoll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.polls++
}

func (h *PageFreeHook) ObserveRegionPages(freed int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pagesFreed += freed
}

// RetiredIDs returns the ids retired so far, in retirement order.
func (h *PageFreeHook) RetiredIDs() []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]int, len(h.retired))
	copy(out, h.retired)
	return out
}

// PagesFreed returns the total region pages freed across every retired
// fiber observed so far.
func (h *PageFreeHook) PagesFreed() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pagesFreed
}

// ReadinessPolls returns the number of ObserveReadinessPoll calls seen.
func (h *PageFreeHook) ReadinessPolls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.polls
}

// WasParked reports whether id was ever parked, and on what it waited.
func (h *PageFreeHook) WasParked(id int) (poll.Events, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, p := range h.parked {
		if p.FiberID == id {
			return p.Wanted, true
		}
	}
	return 0, false
}

var _ Observer = (*PageFreeHook)(nil)
