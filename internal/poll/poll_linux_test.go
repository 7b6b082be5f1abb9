//go:build linux

package poll

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestPollerReportsReadableOnPipeWrite(t *testing.T) {
	fds := make([]int, 2)
	if err := unix.Pipe(fds); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	p, err := NewPoller()
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}
	defer p.Close()

	if err := p.Add(fds[0], Readable); err != nil {
		t.Fatalf("Add: %v", err)
	}

	ready, err := p.Wait(0)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(ready) != 0 {
		t.Fatalf("expected no readiness before write, got %v", ready)
	}

	if _, err := unix.Write(fds[1], []byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}

	ready, err = p.Wait(1000)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(ready) != 1 || ready[0].FD != fds[0] || ready[0].Events&Readable == 0 {
		t.Fatalf("expected readable event on %d, got %v", fds[0], ready)
	}
}

func TestPollerRemoveStopsReporting(t *testing.T) {
	fds := make([]int, 2)
	if err := unix.Pipe(fds); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	p, err := NewPoller()
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}
	defer p.Close()

	if err := p.Add(fds[0], Readable); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := p.Remove(fds[0]); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if _, err := unix.Write(fds[1], []byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}

	ready, err := p.Wait(0)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(ready) != 0 {
		t.Fatalf("expected no readiness after Remove, got %v", ready)
	}
}
