// Package fifo implements the bounded, blocking-or-non-blocking,
// shutdown-aware ring buffer used as the logger's transport and as a
// general-purpose byte pipe between daemonlib components.
package fifo

import (
	"github.com/craigwin-ni/daemonlib/errs"
	"github.com/craigwin-ni/daemonlib/syncutil"
)

// Flags controls the blocking behavior of Read and Write.
type Flags int

const (
	// Blocking waits for space (Write) or data (Read) to become
	// available.
	Blocking Flags = iota
	// NonBlocking returns immediately with errs.WouldBlock instead of
	// waiting.
	NonBlocking
)

// FIFO is a fixed-capacity ring buffer of length L, usable capacity
// L-1 bytes (one slot is sacrificed to disambiguate full from empty).
type FIFO struct {
	buf      []byte
	begin    int
	end      int
	mu       syncutil.Mutex
	writable *syncutil.Cond
	readable *syncutil.Cond
	shutdown bool
}

// New creates a FIFO backed by a buffer of length l. Usable capacity is
// l-1 bytes.
func New(l int) *FIFO {
	if l < 2 {
		panic("fifo: length must be at least 2")
	}
	f := &FIFO{buf: make([]byte, l)}
	f.writable = syncutil.NewCond(&f.mu)
	f.readable = syncutil.NewCond(&f.mu)
	return f
}

func (f *FIFO) readableLocked() int {
	return ((f.end - f.begin) % len(f.buf) + len(f.buf)) % len(f.buf)
}

func (f *FIFO) writableLocked() int {
	return len(f.buf) - 1 - f.readableLocked()
}

// Capacity returns the maximum number of bytes the FIFO can ever hold,
// L-1.
func (f *FIFO) Capacity() int {
	return len(f.buf) - 1
}

// Write copies n=len(p) bytes into the ring, never short-writing. In
// Blocking mode it waits for room; in NonBlocking mode it fails
// immediately with errs.WouldBlock if there isn't enough free space, or
// errs.TooBig if p can never fit regardless of draining.
func (f *FIFO) Write(p []byte, flags Flags) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if flags == NonBlocking {
		if f.shutdown {
			return 0, errs.New("fifo.Write", errs.BrokenPipe, "fifo is shut down")
		}
		if len(p) > f.Capacity() {
			return 0, errs.New("fifo.Write", errs.TooBig, "write larger than fifo capacity")
		}
		if f.writableLocked() < len(p) {
			return 0, errs.New("fifo.Write", errs.WouldBlock, "insufficient free space")
		}
		f.copyIn(p)
		f.readable.Broadcast()
		return len(p), nil
	}

	written := 0
	for written < len(p) {
		if f.shutdown {
			return written, errs.New("fifo.Write", errs.BrokenPipe, "fifo shut down while writing")
		}
		avail := f.writableLocked()
		if avail == 0 {
			f.writable.Wait()
			continue
		}
		n := len(p) - written
		if n > avail {
			n = avail
		}
		f.copyIn(p[written : written+n])
		written += n
		f.readable.Broadcast()
	}
	return written, nil
}

// copyIn appends p to the ring without bounds checking; caller must hold
// the mutex and must have verified there is enough free space.
func (f *FIFO) copyIn(p []byte) {
	l := len(f.buf)
	for _, b := range p {
		f.buf[f.end] = b
		f.end = (f.end + 1) % l
	}
}

// Read copies up to len(p) bytes out of the ring, returning as soon as
// at least one byte is available (it may short-read). In Blocking mode
// with an empty, shut-down FIFO it returns (0, nil): end of stream. In
// NonBlocking mode an empty, non-shut-down FIFO yields errs.WouldBlock.
func (f *FIFO) Read(p []byte) (int, error) {
	return f.read(p, Blocking)
}

// ReadNonBlocking is Read with NonBlocking semantics.
func (f *FIFO) ReadNonBlocking(p []byte) (int, error) {
	return f.read(p, NonBlocking)
}

func (f *FIFO) read(p []byte, flags Flags) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for f.readableLocked() == 0 {
		if f.shutdown {
			return 0, nil
		}
		if flags == NonBlocking {
			return 0, errs.New("fifo.Read", errs.WouldBlock, "fifo empty")
		}
		f.readable.Wait()
	}

	n := f.readableLocked()
	if n > len(p) {
		n = len(p)
	}
	l := len(f.buf)
	for i := 0; i < n; i++ {
		p[i] = f.buf[f.begin]
		f.begin = (f.begin + 1) % l
	}
	f.writable.Broadcast()
	return n, nil
}

// Shutdown marks the FIFO closed and wakes every blocked reader and
// writer. Safe to call more than once.
func (f *FIFO) Shutdown() {
	f.mu.Lock()
	f.shutdown = true
	f.mu.Unlock()
	f.readable.Broadcast()
	f.writable.Broadcast()
}

// IsShutdown reports whether Shutdown has been called.
func (f *FIFO) IsShutdown() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.shutdown
}
