//go:build !linux

package eventloop

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/craigwin-ni/daemonlib/errs"
)

// pollBackend is the portable fallback multiplexor for non-Linux Unix:
// it rebuilds a parallel pollfd array every iteration from the registry
// order it's handed, and relies on index parity between that array and
// the registry — the reason logical removal is deferred to a quiescent
// cleanup phase rather than applied immediately.
type pollBackend struct{}

func newBackend() (backend, error) {
	return &pollBackend{}, nil
}

func newWakePipe() (r, w int, err error) {
	var fds [2]int
	if e := unix.Pipe(fds[:]); e != nil {
		return 0, 0, errs.WithErrno("pipe", e.(unix.Errno))
	}
	if e := unix.SetNonblock(fds[0], true); e != nil {
		return 0, 0, errs.WithErrno("setnonblock", e.(unix.Errno))
	}
	return fds[0], fds[1], nil
}

func maskToPoll(m EventMask) int16 {
	var ev int16
	if m&EventRead != 0 {
		ev |= unix.POLLIN
	}
	if m&EventWrite != 0 {
		ev |= unix.POLLOUT
	}
	return ev
}

func (b *pollBackend) register(e *registryEntry) error   { return nil }
func (b *pollBackend) modify(e *registryEntry) error     { return nil }
func (b *pollBackend) deregister(e *registryEntry) error { return nil }

func (b *pollBackend) wait(order []*registryEntry, timeout time.Duration) ([]readyEvent, error) {
	if len(order) == 0 {
		time.Sleep(timeout)
		return nil, nil
	}

	fds := make([]unix.PollFd, len(order))
	for i, e := range order {
		fds[i] = unix.PollFd{Fd: int32(e.key.FD), Events: maskToPoll(e.requested)}
	}

	n, err := unix.Poll(fds, int(timeout/time.Millisecond))
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, errs.WithErrno("poll", err.(unix.Errno))
	}
	if n == 0 {
		return nil, nil
	}

	ready := make([]readyEvent, 0, n)
	for i, pfd := range fds {
		if pfd.Revents == 0 {
			continue
		}
		// order[i] corresponds to fds[i]: this is the index-parity
		// contract the registry's deferred-removal invariant exists to
		// uphold.
		ready = append(ready, readyEvent{
			entry: order[i],
			read:  pfd.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0,
			write: pfd.Revents&unix.POLLOUT != 0,
		})
	}
	return ready, nil
}

func (b *pollBackend) close() error { return nil }
