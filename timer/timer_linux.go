//go:build linux

// Package timer implements the monotonic one-shot/periodic timer
// exposed as a read-only event source (§4.4): arming schedules a first
// expiration after delay and then every interval (0 disarms after one
// shot), and each expiration batch invokes the caller's callback exactly
// once regardless of how many ticks coalesced while the loop was busy.
//
// On Linux this is backed directly by timerfd, a real fd multiplexed
// exactly like any other EventSource. Non-Linux Unix uses timer_other.go
// instead, which gets the same contract from a goroutine and a pipe.
package timer

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/craigwin-ni/daemonlib/errs"
	"github.com/craigwin-ni/daemonlib/eventloop"
	"github.com/craigwin-ni/daemonlib/iohandle"
)

// Timer is a single armable timer registered with an event loop.
type Timer struct {
	loop   *eventloop.Loop
	fd     int
	userCB func()
}

// New creates an unarmed timer backed by a Linux timerfd and registers
// it for read-readiness on loop. Call Configure to arm it.
func New(loop *eventloop.Loop, onExpire func()) (*Timer, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_CLOEXEC|unix.TFD_NONBLOCK)
	if err != nil {
		return nil, errs.WithErrno("timer.New", err.(unix.Errno))
	}

	t := &Timer{loop: loop, fd: fd, userCB: onExpire}
	if err := loop.AddSource(iohandle.NewRawFD(fd), eventloop.Generic, eventloop.EventRead, t.onReadable, nil, nil, nil); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return t, nil
}

// Configure arms the timer: the first expiration fires after delay, then
// every interval thereafter. interval == 0 disarms periodic repetition
// after the one shot. delay == 0 and interval == 0 disarms the timer
// entirely.
func (t *Timer) Configure(delay, interval time.Duration) error {
	if delay == 0 && interval != 0 {
		// a zero it_value would disarm the timerfd; fire right away instead
		delay = time.Nanosecond
	}
	spec := unix.ItimerSpec{
		Value:    unix.NsecToTimespec(delay.Nanoseconds()),
		Interval: unix.NsecToTimespec(interval.Nanoseconds()),
	}
	if err := unix.TimerfdSettime(t.fd, 0, &spec, nil); err != nil {
		return errs.WithErrno("timer.Configure", err.(unix.Errno))
	}
	return nil
}

// onReadable drains the expiration count (a uint64) and invokes the
// user callback exactly once per batch, however many ticks coalesced.
func (t *Timer) onReadable(any) {
	var buf [8]byte
	n, err := unix.Read(t.fd, buf[:])
	if err != nil || n != 8 {
		return
	}
	if t.userCB != nil {
		t.userCB()
	}
}

// Close disarms and removes the timer from its loop.
func (t *Timer) Close() error {
	t.loop.RemoveSource(t.fd, eventloop.Generic)
	return unix.Close(t.fd)
}
