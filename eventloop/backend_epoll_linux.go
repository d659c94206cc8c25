//go:build linux

package eventloop

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/craigwin-ni/daemonlib/errs"
)

// epollBackend is the Linux platform multiplexor: the kernel's
// per-handle subscription is mutated directly via EpollCtl, and each
// readiness entry carries its originating fd, so dispatch resolves the
// owning registryEntry in O(ready) via byFD rather than scanning the
// registry.
type epollBackend struct {
	fd   int
	byFD map[int]*registryEntry
}

func newBackend() (backend, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errs.WithErrno("epoll.Create1", err.(unix.Errno))
	}
	return &epollBackend{fd: fd, byFD: make(map[int]*registryEntry)}, nil
}

func newWakePipe() (r, w int, err error) {
	var fds [2]int
	if e := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); e != nil {
		return 0, 0, errs.WithErrno("pipe2", e.(unix.Errno))
	}
	return fds[0], fds[1], nil
}

func maskToEpoll(m EventMask) uint32 {
	var ev uint32
	if m&EventRead != 0 {
		ev |= unix.EPOLLIN
	}
	if m&EventWrite != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func (b *epollBackend) register(e *registryEntry) error {
	ev := unix.EpollEvent{Events: maskToEpoll(e.requested), Fd: int32(e.key.FD)}
	if err := unix.EpollCtl(b.fd, unix.EPOLL_CTL_ADD, e.key.FD, &ev); err != nil {
		return errs.WithErrno("epoll.CtlAdd", err.(unix.Errno))
	}
	b.byFD[e.key.FD] = e
	return nil
}

func (b *epollBackend) modify(e *registryEntry) error {
	ev := unix.EpollEvent{Events: maskToEpoll(e.requested), Fd: int32(e.key.FD)}
	if err := unix.EpollCtl(b.fd, unix.EPOLL_CTL_MOD, e.key.FD, &ev); err != nil {
		return errs.WithErrno("epoll.CtlMod", err.(unix.Errno))
	}
	return nil
}

func (b *epollBackend) deregister(e *registryEntry) error {
	delete(b.byFD, e.key.FD)
	if err := unix.EpollCtl(b.fd, unix.EPOLL_CTL_DEL, e.key.FD, nil); err != nil {
		if err == unix.ENOENT || err == unix.EBADF {
			return nil
		}
		return errs.WithErrno("epoll.CtlDel", err.(unix.Errno))
	}
	return nil
}

func (b *epollBackend) wait(order []*registryEntry, timeout time.Duration) ([]readyEvent, error) {
	events := make([]unix.EpollEvent, 64)
	n, err := unix.EpollWait(b.fd, events, int(timeout/time.Millisecond))
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, errs.WithErrno("epoll.Wait", err.(unix.Errno))
	}

	ready := make([]readyEvent, 0, n)
	for i := 0; i < n; i++ {
		ev := events[i]
		e, ok := b.byFD[int(ev.Fd)]
		if !ok {
			continue
		}
		ready = append(ready, readyEvent{
			entry: e,
			read:  ev.Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0,
			write: ev.Events&unix.EPOLLOUT != 0,
		})
	}
	return ready, nil
}

func (b *epollBackend) close() error {
	return unix.Close(b.fd)
}
