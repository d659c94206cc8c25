// Package signalbridge feeds OS signals into the event loop as an
// ordinary readable source. The Go runtime already delivers signals to
// an os/signal channel in an async-signal-safe way; this package's only
// job is to translate that delivery into a uniform fd the event loop can
// multiplex alongside every other source, exactly as the C original's
// signal-handler-writes-to-a-pipe bridge does for a runtime with no such
// guarantee built in.
package signalbridge

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/craigwin-ni/daemonlib/errs"
	"github.com/craigwin-ni/daemonlib/eventloop"
	"github.com/craigwin-ni/daemonlib/iohandle"
)

// Bridge owns the pipe and the forwarding goroutine.
type Bridge struct {
	loop   *eventloop.Loop
	ch     chan os.Signal
	r, w   *os.File
	usr1CB func()
	stop   func()
}

// New installs handlers for INT, TERM, and USR1, ignores PIPE, and
// registers the bridge's read end with loop. stopFn is called on INT or
// TERM (typically loop.Stop); usr1Fn is called on USR1 (typically a
// debug-override toggle). Either may be nil.
func New(loop *eventloop.Loop, stopFn func(), usr1Fn func()) (*Bridge, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, errs.Wrap("signalbridge.New", err)
	}

	b := &Bridge{loop: loop, r: r, w: w, usr1CB: usr1Fn, stop: stopFn}
	b.ch = make(chan os.Signal, 16)
	signal.Notify(b.ch, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)
	signal.Ignore(syscall.SIGPIPE)

	go b.forward()

	if err := loop.AddSource(iohandle.NewFile(r), eventloop.Generic, eventloop.EventRead, b.onReadable, nil, nil, nil); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

// forward drains the os/signal channel and writes one byte per signal
// (its number, truncated to a byte) to the pipe's write end.
func (b *Bridge) forward() {
	for sig := range b.ch {
		n := signum(sig)
		if _, err := b.w.Write([]byte{n}); err != nil {
			return
		}
	}
}

func signum(sig os.Signal) byte {
	if s, ok := sig.(syscall.Signal); ok {
		return byte(int(s))
	}
	return 0
}

// onReadable is the event-loop read callback: it reads one byte (the
// signal number) and dispatches.
func (b *Bridge) onReadable(any) {
	var buf [1]byte
	n, err := b.r.Read(buf[:])
	if err != nil || n == 0 {
		return
	}
	switch syscall.Signal(buf[0]) {
	case syscall.SIGINT, syscall.SIGTERM:
		if b.stop != nil {
			b.stop()
		}
	case syscall.SIGUSR1:
		if b.usr1CB != nil {
			b.usr1CB()
		}
	default:
		// recognized set is INT/TERM/USR1; anything else reaching here
		// indicates a signum truncation collision and is discarded.
	}
}

// Close restores default dispositions and removes the event source.
func (b *Bridge) Close() error {
	signal.Stop(b.ch)
	signal.Reset(syscall.SIGPIPE)
	close(b.ch)
	b.loop.RemoveSource(int(b.r.Fd()), eventloop.Generic)
	b.r.Close()
	return b.w.Close()
}
