//go:build !linux

package timer

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/craigwin-ni/daemonlib/errs"
	"github.com/craigwin-ni/daemonlib/eventloop"
	"github.com/craigwin-ni/daemonlib/iohandle"
)

// Timer is a single armable timer registered with an event loop. On
// platforms without timerfd, expiration is driven by a goroutine wrapping
// time.Timer, which signals readiness the same way any other source does:
// by making an fd readable.
type Timer struct {
	loop   *eventloop.Loop
	r, w   int
	userCB func()

	mu      sync.Mutex
	gen     uint64 // bumped on every Configure to cancel the previous driver goroutine
	running bool
}

// New creates an unarmed timer and registers its read end for
// read-readiness on loop. Call Configure to arm it.
func New(loop *eventloop.Loop, onExpire func()) (*Timer, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return nil, errs.WithErrno("timer.New", err.(unix.Errno))
	}
	if err := unix.SetNonblock(fds[0], true); err != nil {
		return nil, errs.WithErrno("timer.New", err.(unix.Errno))
	}

	t := &Timer{loop: loop, r: fds[0], w: fds[1], userCB: onExpire}
	if err := loop.AddSource(iohandle.NewRawFD(fds[0]), eventloop.Generic, eventloop.EventRead, t.onReadable, nil, nil, nil); err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, err
	}
	return t, nil
}

// Configure arms the timer as described in timer_linux.go.
func (t *Timer) Configure(delay, interval time.Duration) error {
	t.mu.Lock()
	t.gen++
	gen := t.gen
	t.mu.Unlock()

	if delay == 0 && interval == 0 {
		return nil // disarmed: no driver goroutine started
	}

	go t.drive(gen, delay, interval)
	return nil
}

func (t *Timer) drive(gen uint64, delay, interval time.Duration) {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		<-timer.C

		t.mu.Lock()
		stale := t.gen != gen
		t.mu.Unlock()
		if stale {
			return
		}

		unix.Write(t.w, []byte{1})

		if interval <= 0 {
			return
		}
		timer.Reset(interval)
	}
}

func (t *Timer) onReadable(any) {
	var buf [64]byte
	n, err := unix.Read(t.r, buf[:])
	if err != nil || n <= 0 {
		return
	}
	if t.userCB != nil {
		t.userCB()
	}
}

// Close disarms and removes the timer from its loop.
func (t *Timer) Close() error {
	t.mu.Lock()
	t.gen++
	t.mu.Unlock()
	t.loop.RemoveSource(t.r, eventloop.Generic)
	unix.Close(t.w)
	return unix.Close(t.r)
}
