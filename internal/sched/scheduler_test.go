package sched

import (
	"testing"

	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/go-fiber/internal/fiberexec"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSpawnAndRetireBringsFiberFull(t *testing.T) {
	s := newTestScheduler(t)
	ran := false
	_, err := s.Spawn(func(arg any) {
		ran = true
	}, nil, "worker")
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	s.MainLoop()
	if !ran {
		t.Fatal("expected spawned fiber to run")
	}
	if s.retired.Len() != 1 {
		t.Fatalf("expected 1 retired id, got %d", s.retired.Len())
	}
}

func TestRetiredIDIsReused(t *testing.T) {
	s := newTestScheduler(t)
	firstID, _ := s.Spawn(func(arg any) {}, nil, "a")
	s.MainLoop()

	secondID, _ := s.Spawn(func(arg any) {}, nil, "b")
	if secondID != firstID {
		t.Fatalf("expected retired id %d to be reused, got %d", firstID, secondID)
	}
}

func TestYieldRoundRobinsBetweenFibers(t *testing.T) {
	s := newTestScheduler(t)
	var order []string

	s.Spawn(func(arg any) {
		order = append(order, "A1")
		s.Yield()
		order = append(order, "A2")
	}, nil, "A")

	s.Spawn(func(arg any) {
		order = append(order, "B1")
		s.Yield()
		order = append(order, "B2")
	}, nil, "B")

	s.MainLoop()

	if len(order) != 4 {
		t.Fatalf("expected 4 steps, got %v", order)
	}
	if order[0] != "A1" || order[1] != "B1" {
		t.Fatalf("expected A1,B1 first, got %v", order)
	}
}

func TestParkReadWakesOnPipeWrite(t *testing.T) {
	s := newTestScheduler(t)

	fds := make([]int, 2)
	if err := unix.Pipe(fds); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	if err := unix.SetNonblock(fds[0], true); err != nil {
		t.Fatalf("setnonblock: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	woke := false
	s.Spawn(func(arg any) {
		s.ParkRead(fds[0])
		buf := make([]byte, 1)
		n, _ := unix.Read(fds[0], buf)
		if n == 1 {
			woke = true
		}
	}, nil, "reader")

	// a second fiber writes to the pipe after the reader has parked
	s.Spawn(func(arg any) {
		s.Yield()
		unix.Write(fds[1], []byte("x"))
	}, nil, "writer")

	s.MainLoop()

	if !woke {
		t.Fatal("expected reader fiber to wake and read the byte")
	}
}

func TestFiberZeroCannotYield(t *testing.T) {
	s := newTestScheduler(t)
	s.runningID = 0

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic when fiber 0 calls Yield")
		}
	}()
	s.Yield()
}

func TestRegionReleasedOnRetire(t *testing.T) {
	s := newTestScheduler(t)

	id, _ := s.Spawn(func(arg any) {
		f := s.fibers[s.CurrentID()]
		f.Region.Alloc(128)
	}, nil, "allocator")
	s.MainLoop()

	f := s.fibers[id]
	if f.Region.BytesInUse() != 0 {
		t.Fatalf("expected region released on retire, got %d bytes in use", f.Region.BytesInUse())
	}
	if f.Region.PagesFreed() == 0 {
		t.Fatal("expected at least one page freed on retire")
	}
	if f.State != fiberexec.StateRetired {
		t.Fatalf("expected fiber state Retired, got %v", f.State)
	}
}
