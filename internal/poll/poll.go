// Package poll wraps the level-triggered readiness syscall the scheduler
// uses to find out which parked fibers' file descriptors have become
// readable or writable. It is the replacement for the teacher's io_uring
// completion wait: spec.md's readiness-reap step (§4.5) wants a
// level-triggered poll, not a completion queue, so this wraps epoll
// directly instead of carrying the teacher's io_uring ring machinery.
package poll

import "fmt"

// Events is a bitset of readiness conditions.
type Events uint32

const (
	Readable Events = 1 << iota
	Writable
	// Error/Hangup are surfaced so a parked fiber wakes and observes the
	// failure on its next read/write attempt (spec.md §4.6's "it is not
	// the scheduler's job to interpret errors").
	Error
	Hangup
)

func (e Events) String() string {
	var s string
	if e&Readable != 0 {
		s += "R"
	}
	if e&Writable != 0 {
		s += "W"
	}
	if e&Error != 0 {
		s += "E"
	}
	if e&Hangup != 0 {
		s += "H"
	}
	if s == "" {
		return "-"
	}
	return s
}

// Ready is one reported readiness event: the fd and what it is ready for.
type Ready struct {
	FD     int
	Events Events
}

// Poller is the readiness syscall abstraction. Any number of fds may be
// registered, but each fd at most once at a time; the scheduler never
// registers the same fd twice concurrently (spec.md's Poll set has one
// record per parked fiber).
type Poller interface {
	// Add registers fd for the given wanted events.
	Add(fd int, wanted Events) error
	// Remove deregisters fd. Called once a fiber parked on it wakes.
	Remove(fd int) error
	// Wait blocks up to timeoutMs milliseconds (0 = non-blocking poll,
	// -1 = block indefinitely) and returns every fd that became ready.
	Wait(timeoutMs int) ([]Ready, error)
	// Close releases the underlying OS resource.
	Close() error
}

// errNotSupported is returned by the non-Linux stub backend; this runtime
// targets Linux (matching the teacher, which is itself Linux-only via
// ublk/io_uring), but keeping a stub keeps `go vet`/non-Linux editors happy
// the same way the teacher's runner.go falls back to a stub loop when the
// real kernel interface is unavailable.
var errNotSupported = fmt.Errorf("poll: platform poller not implemented")
