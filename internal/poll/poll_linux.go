//go:build linux

package poll

import (
	"golang.org/x/sys/unix"
)

// maxEventsPerWait bounds the epoll_wait result buffer; a fiber runtime
// typically has far fewer parked fibers than this, so one syscall drains
// every ready fd in the common case.
const maxEventsPerWait = 256

// epollPoller is the Linux Poller backend.
type epollPoller struct {
	epfd     int
	eventBuf [maxEventsPerWait]unix.EpollEvent
}

// NewPoller returns the platform Poller: epoll on Linux.
func NewPoller() (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollPoller{epfd: epfd}, nil
}

func (p *epollPoller) Add(fd int, wanted Events) error {
	ev := &unix.EpollEvent{
		Events: toEpoll(wanted),
		Fd:     int32(fd),
	}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, ev)
}

func (p *epollPoller) Remove(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *epollPoller) Wait(timeoutMs int) ([]Ready, error) {
	n, err := unix.EpollWait(p.epfd, p.eventBuf[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]Ready, n)
	for i := 0; i < n; i++ {
		out[i] = Ready{
			FD:     int(p.eventBuf[i].Fd),
			Events: fromEpoll(p.eventBuf[i].Events),
		}
	}
	return out, nil
}

func (p *epollPoller) Close() error {
	return unix.Close(p.epfd)
}

func toEpoll(e Events) uint32 {
	var out uint32
	if e&Readable != 0 {
		out |= unix.EPOLLIN
	}
	if e&Writable != 0 {
		out |= unix.EPOLLOUT
	}
	return out
}

func fromEpoll(e uint32) Events {
	var out Events
	if e&unix.EPOLLIN != 0 {
		out |= Readable
	}
	if e&unix.EPOLLOUT != 0 {
		out |= Writable
	}
	if e&unix.EPOLLERR != 0 {
		out |= Error
	}
	if e&unix.EPOLLHUP != 0 {
		out |= Hangup
	}
	return out
}
