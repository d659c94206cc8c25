package main

import (
	"net"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/craigwin-ni/daemonlib/base58"
	"github.com/craigwin-ni/daemonlib/errs"
	"github.com/craigwin-ni/daemonlib/eventloop"
	"github.com/craigwin-ni/daemonlib/iohandle"
	"github.com/craigwin-ni/daemonlib/logger"
	"github.com/craigwin-ni/daemonlib/packet"
	"github.com/craigwin-ni/daemonlib/signalbridge"
	"github.com/craigwin-ni/daemonlib/timer"
	"github.com/craigwin-ni/daemonlib/writer"
)

var daemonSrc = logger.NewSource("cmd/daemonlibd/daemon.go")

// heartbeatInterval drives the reference daemon's periodic connection-
// count log line, purely to give package timer live traffic to exercise.
const heartbeatInterval = 30 * time.Second

// daemon ties the event loop to a TCP listener that echoes whatever
// packet.Packet frames arrive on it, so writer's backpressure path and
// eventloop's readiness plumbing both see real connections rather than
// only unit-test stubs.
type daemon struct {
	log    *logger.Logger
	loop   *eventloop.Loop
	bridge *signalbridge.Bridge
	hb     *timer.Timer

	ln net.Listener

	mu    sync.Mutex
	conns map[int]*connection
}

type connection struct {
	fd     int
	handle iohandle.Handle
	w      *writer.Writer
}

func newDaemon(log *logger.Logger) (*daemon, error) {
	loop, err := eventloop.New()
	if err != nil {
		return nil, err
	}

	d := &daemon{log: log, loop: loop, conns: make(map[int]*connection)}

	bridge, err := signalbridge.New(loop, loop.Stop, log.ToggleDebugOverride)
	if err != nil {
		loop.Close()
		return nil, err
	}
	d.bridge = bridge

	hb, err := timer.New(loop, d.heartbeat)
	if err != nil {
		bridge.Close()
		loop.Close()
		return nil, err
	}
	if err := hb.Configure(heartbeatInterval, heartbeatInterval); err != nil {
		hb.Close()
		bridge.Close()
		loop.Close()
		return nil, err
	}
	d.hb = hb

	return d, nil
}

func (d *daemon) listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errs.Wrap("daemon.listen", err)
	}
	d.ln = ln
	d.log.Infof(daemonSrc, 0, "listening on %s", ln.Addr())
	return nil
}

// acceptLoop runs on its own goroutine, blocking in Accept the ordinary
// way; each accepted connection is handed off to the event loop and this
// goroutine never touches it again. Accept returns once stopAccept
// closes the listener.
func (d *daemon) acceptLoop() {
	for {
		conn, err := d.ln.Accept()
		if err != nil {
			return
		}
		if err := d.adopt(conn); err != nil {
			d.log.Warnf(daemonSrc, 0, "adopt connection: %v", err)
		}
	}
}

func (d *daemon) stopAccept() {
	if d.ln != nil {
		d.ln.Close()
	}
}

// adopt detaches conn from the Go runtime's own netpoller by duplicating
// its file descriptor and closing the net.Conn wrapper immediately, the
// same fd-ownership split this corpus's async-IO watcher performs on
// accept (dupconn) so a connection can be multiplexed by a reactor of
// its own instead of the runtime's. From here on only the event loop and
// Writer touch the duplicated fd.
func (d *daemon) adopt(conn net.Conn) error {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		conn.Close()
		return errs.New("daemon.adopt", errs.IO, "not a tcp connection")
	}

	sc, err := tc.SyscallConn()
	if err != nil {
		conn.Close()
		return errs.Wrap("daemon.adopt", err)
	}

	var fd int
	var dupErr error
	ctrlErr := sc.Control(func(rawFD uintptr) {
		fd, dupErr = unix.Dup(int(rawFD))
	})
	conn.Close()
	if ctrlErr != nil {
		return errs.Wrap("daemon.adopt", ctrlErr)
	}
	if dupErr != nil {
		return errs.WithErrno("daemon.adopt", dupErr.(unix.Errno))
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return errs.WithErrno("daemon.adopt", err.(unix.Errno))
	}

	handle := iohandle.NewRawFD(fd)
	c := &connection{fd: fd, handle: handle}
	c.w = writer.New(d.loop, handle, eventloop.Generic, func() { d.drop(c) }, d.log)

	if err := d.loop.AddSource(handle, eventloop.Generic, eventloop.EventRead, func(any) { d.onReadable(c) }, nil, nil, nil); err != nil {
		unix.Close(fd)
		return err
	}

	d.mu.Lock()
	d.conns[fd] = c
	d.mu.Unlock()
	d.log.Debugf(daemonSrc, logger.GroupCommon, 0, "accepted connection fd=%d", fd)
	return nil
}

// onReadable decodes one framed packet.Packet per readiness callback and
// echoes it straight back out the same connection's Writer.
func (d *daemon) onReadable(c *connection) {
	var buf [packet.MaxPacketSize]byte
	n, err := c.handle.Read(buf[:])
	if err != nil {
		if !errs.OfKind(err, errs.WouldBlock) {
			d.drop(c)
		}
		return
	}
	if n == 0 {
		d.drop(c)
		return
	}

	p, err := packet.Decode(buf[:n])
	if err != nil {
		d.log.Warnf(daemonSrc, 0, "fd=%d malformed packet: %v", c.fd, err)
		return
	}
	d.log.Debugf(daemonSrc, logger.GroupPacket, 0, "fd=%d uid=%s function=%d", c.fd, base58.EncodeUID(p.Header.UID), p.Header.FunctionID)

	if _, err := c.w.Write(p); err != nil {
		d.drop(c)
	}
}

// drop retires a connection. It is also the Writer disconnect hook, so it
// must never call back into that Writer's own locked methods.
func (d *daemon) drop(c *connection) {
	d.mu.Lock()
	if _, ok := d.conns[c.fd]; !ok {
		d.mu.Unlock()
		return
	}
	delete(d.conns, c.fd)
	d.mu.Unlock()

	d.loop.RemoveSource(c.fd, eventloop.Generic)
	c.handle.Close()
}

func (d *daemon) heartbeat() {
	d.mu.Lock()
	n := len(d.conns)
	d.mu.Unlock()
	d.log.Debugf(daemonSrc, logger.GroupCommon, 0, "heartbeat: %d active connections", n)
}

func (d *daemon) Close() {
	d.stopAccept()

	d.mu.Lock()
	conns := make([]*connection, 0, len(d.conns))
	for _, c := range d.conns {
		conns = append(conns, c)
	}
	d.conns = nil
	d.mu.Unlock()

	for _, c := range conns {
		c.w.Close()
		c.handle.Close()
	}

	d.hb.Close()
	d.bridge.Close()
	d.loop.Close()
}
