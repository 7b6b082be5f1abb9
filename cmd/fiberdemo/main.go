// Command fiberdemo exercises a fiber.Runtime from the command line: an
// interleaving-counters scenario and an echo-server scenario, selectable
// by flag. It follows the teacher's ublk-mem demo shape (flag parsing,
// level-based logging, SIGUSR1 stack dumps, graceful SIGINT/SIGTERM
// shutdown) applied to the fiber domain instead of a block device.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"syscall"
	"time"

	fiber "github.com/ehrlich-b/go-fiber"
	"github.com/ehrlich-b/go-fiber/internal/logging"
	"golang.org/x/sys/unix"
)

func main() {
	var (
		scenario = flag.String("scenario", "interleave", "demo scenario to run: interleave, echo")
		port     = flag.Int("port", 0, "TCP port for the echo scenario (0 for an ephemeral port)")
		verbose  = flag.Bool("v", false, "verbose (debug-level) logging")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	installStackDumpHandler(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := fiber.New(fiber.Options{Context: ctx, Logger: logger})
	if err != nil {
		log.Fatalf("fiberdemo: create runtime: %v", err)
	}
	defer rt.Close()

	switch *scenario {
	case "interleave":
		runInterleave(rt, logger)
	case "echo":
		runEcho(rt, logger, cancel, *port)
	default:
		log.Fatalf("fiberdemo: unknown scenario %q", *scenario)
	}
}

// runInterleave implements spec.md §8's S1: two fibers that print a
// counter value, yield, and repeat, demonstrating round-robin
// interleaving with an explicit expected stdout order.
func runInterleave(rt *fiber.Runtime, logger *logging.Logger) {
	rt.Spawn("counter-A", func(rt *fiber.Runtime) {
		fmt.Println("A0")
		rt.Yield()
		fmt.Println("A1")
		rt.Yield()
		fmt.Println("A2")
	})
	rt.Spawn("counter-B", func(rt *fiber.Runtime) {
		fmt.Println("B0")
		rt.Yield()
		fmt.Println("B1")
	})

	rt.MainLoop()
	logger.Info("interleave scenario complete", "live_count", rt.LiveCount())
}

// runEcho implements spec.md §8's S2/S6: a TCP listener that spawns an
// echo handler per connection. Each handler reads lines with ReadUntil
// and echoes them with WriteAll until the client sends "quit\n", at
// which point it closes its connection and retires.
//
// A listener fiber parked in accept() never wakes from its own fd being
// closed — Linux's epoll reports no event for a listening socket closed
// out from under a pending epoll_wait — so SIGINT/SIGTERM cancels the
// Runtime's context instead. That interrupts MainLoop's blocked
// readiness poll directly (see Scheduler.Wake), independent of which
// fiber happens to be parked on which fd, and is the only sanctioned way
// to stop a Runtime from outside its own goroutine.
func runEcho(rt *fiber.Runtime, logger *logging.Logger, cancel context.CancelFunc, port int) {
	listener, err := fiber.ListenTCP(port)
	if err != nil {
		log.Fatalf("fiberdemo: listen: %v", err)
	}
	defer listener.Close()
	logger.Info("echo server listening", "port", listener.Port())
	fmt.Printf("listening on 127.0.0.1:%d (Ctrl+C to stop)\n", listener.Port())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down echo listener")
		cancel()
	}()

	rt.Spawn("listener", func(rt *fiber.Runtime) {
		err := listener.Accept(rt, echoHandler)
		if err != nil {
			logger.Error("listener accept loop failed", "error", err)
		}
	})

	rt.MainLoop()
	logger.Info("echo scenario complete", "live_count", rt.LiveCount())
}

func echoHandler(rt *fiber.Runtime, connFD int) {
	defer unix.Close(connFD)
	buf := make([]byte, 4096)
	for {
		n, err := fiber.ReadUntil(rt, connFD, buf, '\n')
		if err != nil || n == 0 {
			return
		}
		line := buf[:n]
		if string(line) == "quit\n" {
			return
		}
		if _, err := fiber.WriteAll(rt, connFD, line); err != nil {
			return
		}
	}
}

// installStackDumpHandler arranges for SIGUSR1 to dump every goroutine's
// stack to stderr and to a timestamped file, mirroring the teacher's
// ublk-mem debug hook. Useful here for diagnosing a fiber goroutine stuck
// on its resume channel.
func installStackDumpHandler(logger *logging.Logger) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGUSR1)
	go func() {
		for range ch {
			buf := make([]byte, 1<<20)
			n := runtime.Stack(buf, true)
			fmt.Fprintf(os.Stderr, "\n=== FIBERDEMO STACK DUMP ===\n%s\n=== END ===\n\n", buf[:n])

			filename := fmt.Sprintf("fiberdemo-stacks-%d.txt", time.Now().Unix())
			if f, err := os.Create(filename); err == nil {
				fmt.Fprintf(f, "stack dump, pid %d\n\n", os.Getpid())
				f.Write(buf[:n])
				fmt.Fprintf(f, "\n\n=== GOROUTINE PROFILE ===\n")
				pprof.Lookup("goroutine").WriteTo(f, 2)
				f.Close()
				logger.Info("stack dump written", "file", filename)
			}
		}
	}()
}
