package fiber

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/ehrlich-b/go-fiber/internal/constants"
	"github.com/ehrlich-b/go-fiber/internal/iobuf"
	"golang.org/x/sys/unix"
)

// This file implements spec.md §4.7's non-blocking I/O helpers: thin
// examples of the suspension contract, not a general I/O library. Every
// helper follows the same shape — attempt the syscall, park on EAGAIN,
// retry — and none of them hold a lock or touch another fiber's state.

// SetNonblocking puts fd into non-blocking mode, implementing spec.md §6's
// set_nonblocking directly. Every helper in this file calls the unix
// equivalent inline on fds it owns; this is exposed for callers wiring a
// raw fd of their own (one not obtained from ListenTCP/StartSubprocess)
// into ParkRead/ParkWrite.
func SetNonblocking(fd int) error {
	if err := unix.SetNonblock(fd, true); err != nil {
		return WrapError("set_nonblocking", err)
	}
	return nil
}

// ReadUntil reads from fd into buf one byte at a time, parking on fd's
// readability whenever the kernel has nothing for us yet. It stops when
// delim has been seen, when the peer has closed (a zero-length read), or
// when buf is full. Returns the number of bytes filled.
//
// Reading a byte at a time (rather than a chunk at a time, scanning for
// delim, and returning early) is deliberate: a chunk read can pull bytes
// past the delimiter out of the kernel in the same call, and since this
// helper has nowhere to stash them for the next call, they would be lost
// from the stream. A single coalesced TCP segment containing more than
// one line is the common case this would otherwise silently break.
func ReadUntil(rt *Runtime, fd int, buf []byte, delim byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := unix.Read(fd, buf[n:n+1])
		switch {
		case err == unix.EAGAIN:
			rt.ParkRead(fd)
			continue
		case err != nil:
			return n, WrapError("read_until", err)
		case m == 0:
			return n, nil // peer closed
		}
		n++
		if buf[n-1] == delim {
			return n, nil
		}
	}
	return n, nil
}

// WriteAll writes every byte of buf to fd, parking on fd's writability
// whenever the kernel's send buffer is full. Returns the number of bytes
// written, which is always len(buf) on a nil error.
func WriteAll(rt *Runtime, fd int, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := unix.Write(fd, buf[n:])
		switch {
		case err == unix.EAGAIN:
			rt.ParkWrite(fd)
			continue
		case err != nil:
			return n, WrapError("write_all", err)
		}
		n += m
	}
	return n, nil
}

// ReadFile opens path non-blocking and reads up to len(buf) bytes using
// the same park/retry idiom as ReadUntil, stopping at EOF. path is opened
// fresh on every call; there is no persistent file handle to manage.
func ReadFile(rt *Runtime, path string, buf []byte) (int, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return 0, WrapError("read_file", err)
	}
	defer unix.Close(fd)

	n := 0
	for n < len(buf) {
		m, err := unix.Read(fd, buf[n:])
		switch {
		case err == unix.EAGAIN:
			rt.ParkRead(fd)
			continue
		case err != nil:
			return n, WrapError("read_file", err)
		case m == 0:
			return n, nil
		}
		n += m
	}
	return n, nil
}

// WriteFile opens path for non-blocking write (creating or truncating it)
// and writes every byte of buf using the same park/retry idiom as
// WriteAll.
func WriteFile(rt *Runtime, path string, buf []byte) (int, error) {
	fd, err := unix.Open(path, unix.O_WRONLY|unix.O_CREAT|unix.O_TRUNC|unix.O_NONBLOCK, 0644)
	if err != nil {
		return 0, WrapError("write_file", err)
	}
	defer unix.Close(fd)

	n := 0
	for n < len(buf) {
		m, err := unix.Write(fd, buf[n:])
		switch {
		case err == unix.EAGAIN:
			rt.ParkWrite(fd)
			continue
		case err != nil:
			return n, WrapError("write_file", err)
		}
		n += m
	}
	return n, nil
}

// Listener is a bound, non-blocking TCP listening socket created by
// ListenTCP (port 0 for an ephemeral port). Its Accept method is the
// accept loop of spec.md §4.7's tcp_listen: each accepted fd is
// non-blocking and handed to a freshly spawned fiber running onConn.
// Accept is meant to run inside a dedicated listener fiber. Port() is
// available to the caller before that fiber starts accepting, so an
// ephemeral port can be discovered for a test client.
type Listener struct {
	fd   int
	port int
}

// Port returns the bound port, resolved even if 0 was requested.
func (l *Listener) Port() int {
	return l.port
}

// ListenTCP binds and listens on port without accepting anything yet.
// Call Accept (typically inside a fiber spawned for exactly this purpose)
// to drive the accept loop.
func ListenTCP(port int) (*Listener, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, WrapError("tcp_listen", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, WrapError("tcp_listen", err)
	}
	addr := &unix.SockaddrInet4{Port: port}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, WrapError("tcp_listen", err)
	}
	if err := unix.Listen(fd, constants.ListenBacklog); err != nil {
		unix.Close(fd)
		return nil, WrapError("tcp_listen", err)
	}
	bound, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return nil, WrapError("tcp_listen", err)
	}
	boundPort := port
	if in4, ok := bound.(*unix.SockaddrInet4); ok {
		boundPort = in4.Port
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, WrapError("tcp_listen", err)
	}
	return &Listener{fd: fd, port: boundPort}, nil
}

// Close releases the listening socket.
func (l *Listener) Close() error {
	if err := unix.Close(l.fd); err != nil {
		return WrapError("tcp_listen", err)
	}
	return nil
}

// Accept implements spec.md §4.7's tcp_listen accept loop: park on the
// listening fd's readability, accept, set the accepted fd non-blocking,
// and spawn onConn on it. Runs until the listener is closed out from
// under it (EBADF/EINVAL on the next accept), at which point Accept
// returns nil.
func (l *Listener) Accept(rt *Runtime, onConn func(rt *Runtime, fd int)) error {
	for {
		connFD, _, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK)
		switch {
		case err == unix.EAGAIN:
			rt.ParkRead(l.fd)
			continue
		case err == unix.EBADF || err == unix.EINVAL:
			return nil // listener was closed out from under us
		case err != nil:
			return WrapError("tcp_listen", err)
		}
		rt.Spawn(fmt.Sprintf("conn-%d", connFD), func(rt *Runtime) {
			onConn(rt, connFD)
		})
	}
}

// Subprocess is a forked/exec'd child process with its stdout and stderr
// exposed as non-blocking fds, drained via the same read_until idiom as
// every other I/O helper (spec.md §4.7 names subprocess drainage but
// leaves its shape unspecified).
type Subprocess struct {
	cmd    *exec.Cmd
	stdout int
	stderr int
}

// StartSubprocess forks and execs cmd with args, leaving its stdout and
// stderr pipes in non-blocking mode for the caller to drain with
// ReadUntil/ReadFile-style loops.
func StartSubprocess(cmd string, args ...string) (*Subprocess, error) {
	c := exec.Command(cmd, args...)
	stdoutPipe, err := c.StdoutPipe()
	if err != nil {
		return nil, WrapError("subprocess", err)
	}
	stderrPipe, err := c.StderrPipe()
	if err != nil {
		return nil, WrapError("subprocess", err)
	}
	if err := c.Start(); err != nil {
		return nil, WrapError("subprocess", err)
	}

	stdoutFD, err := fdOf(stdoutPipe.(*os.File))
	if err != nil {
		return nil, WrapError("subprocess", err)
	}
	stderrFD, err := fdOf(stderrPipe.(*os.File))
	if err != nil {
		return nil, WrapError("subprocess", err)
	}
	if err := unix.SetNonblock(stdoutFD, true); err != nil {
		return nil, WrapError("subprocess", err)
	}
	if err := unix.SetNonblock(stderrFD, true); err != nil {
		return nil, WrapError("subprocess", err)
	}
	return &Subprocess{cmd: c, stdout: stdoutFD, stderr: stderrFD}, nil
}

// StdoutFD and StderrFD expose the non-blocking pipe fds for ReadUntil.
func (s *Subprocess) StdoutFD() int { return s.stdout }
func (s *Subprocess) StderrFD() int { return s.stderr }

// Wait blocks (on the calling goroutine, not a fiber — it is meant to be
// called after the fiber draining the pipes has seen EOF on both) until
// the child exits.
func (s *Subprocess) Wait() error {
	if err := s.cmd.Wait(); err != nil {
		return WrapError("subprocess", err)
	}
	return nil
}

// DrainAll reads fd to completion using a pooled scratch buffer, parking
// on readability between partial reads, and returns everything read. It
// is the common case for subprocess stdout/stderr collection in tests and
// small tools; long-lived drains should use ReadUntil directly instead so
// they are not unbounded.
func DrainAll(rt *Runtime, fd int) ([]byte, error) {
	scratch := iobuf.GetBuffer(constants.DefaultReadChunk)
	defer iobuf.PutBuffer(scratch)

	var out []byte
	for {
		n, err := unix.Read(fd, scratch)
		switch {
		case err == unix.EAGAIN:
			rt.ParkRead(fd)
			continue
		case err != nil:
			return out, WrapError("drain", err)
		case n == 0:
			return out, nil
		}
		out = append(out, scratch[:n]...)
	}
}

// fdOf extracts the raw fd backing an *os.File pipe end returned by
// exec.Cmd's StdoutPipe/StderrPipe via its SyscallConn, rather than
// assuming Fd()'s blocking-mode side effects are harmless.
func fdOf(f *os.File) (int, error) {
	sc, err := f.SyscallConn()
	if err != nil {
		return 0, err
	}
	var fd int
	if err := sc.Control(func(p uintptr) { fd = int(p) }); err != nil {
		return 0, err
	}
	return fd, nil
}
