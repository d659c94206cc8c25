// Package iohandle provides a uniform read/write/status abstraction over
// the concrete OS handles daemonlib multiplexes: files, pipes, and
// sockets. It exists so eventloop, signalbridge, timer, and writer can
// all depend on one small interface instead of *os.File / net.Conn /
// raw fds directly.
package iohandle

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/craigwin-ni/daemonlib/errs"
)

// Status reports what an output sink can tell the logger about itself.
type Status struct {
	Size int64
}

// Handle is the minimal surface the event loop and writer need: a raw
// file descriptor for multiplexing, byte-level read/write, and a close.
type Handle interface {
	FD() int
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// StatusHandle is a Handle that can additionally report size, used by
// logger.FileSink to drive the rotate trigger off the same Stat call
// every other file-backed handle in this package uses.
type StatusHandle interface {
	Handle
	Status() (Status, bool)
}

// fileHandle adapts *os.File to Handle/StatusHandle.
type fileHandle struct {
	f *os.File
}

// NewFile wraps an already-open *os.File (a regular file, a pipe end, or
// /dev/null) as a StatusHandle. Callers that only need Handle (eventloop
// registration, plain read/write) use it as one without assertion.
func NewFile(f *os.File) StatusHandle {
	return &fileHandle{f: f}
}

func (h *fileHandle) FD() int                 { return int(h.f.Fd()) }
func (h *fileHandle) Read(p []byte) (int, error)  { return h.f.Read(p) }
func (h *fileHandle) Write(p []byte) (int, error) { return h.f.Write(p) }
func (h *fileHandle) Close() error            { return h.f.Close() }

func (h *fileHandle) Status() (Status, bool) {
	st, err := h.f.Stat()
	if err != nil {
		return Status{}, false
	}
	return Status{Size: st.Size()}, true
}

// rawFDHandle wraps a bare fd (as used for the event loop's wake pipe,
// the timer, and adopted connections), performing syscall-level reads
// and writes directly.
type rawFDHandle struct {
	fd int
}

// NewRawFD wraps a bare file descriptor as a Handle.
func NewRawFD(fd int) Handle {
	return &rawFDHandle{fd: fd}
}

func (h *rawFDHandle) FD() int { return h.fd }

func (h *rawFDHandle) Read(p []byte) (int, error) {
	n, err := unix.Read(h.fd, p)
	if err != nil {
		return n, errs.WithErrno("iohandle.Read", err.(unix.Errno))
	}
	return n, nil
}

func (h *rawFDHandle) Write(p []byte) (int, error) {
	n, err := unix.Write(h.fd, p)
	if err != nil {
		return n, errs.WithErrno("iohandle.Write", err.(unix.Errno))
	}
	return n, nil
}

func (h *rawFDHandle) Close() error {
	return unix.Close(h.fd)
}
