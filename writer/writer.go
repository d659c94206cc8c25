// Package writer implements the per-connection buffered packet writer
// with backpressure (§4.6): a direct-write fast path, a bounded
// drop-oldest backlog for when the underlying handle would block, and
// the write-readiness registration invariant that keeps the event loop
// from spinning on a handle with nothing queued.
package writer

import (
	"sync"

	"github.com/craigwin-ni/daemonlib/errs"
	"github.com/craigwin-ni/daemonlib/eventloop"
	"github.com/craigwin-ni/daemonlib/iohandle"
	"github.com/craigwin-ni/daemonlib/logger"
	"github.com/craigwin-ni/daemonlib/packet"
)

// backlogCapacity is the fixed per-writer backlog size, §4.6.
const backlogCapacity = 32768

// Writer is one connection's outbound packet queue. The zero value is
// not usable; create one with New.
type Writer struct {
	loop       *eventloop.Loop
	handle     iohandle.Handle
	sourceType eventloop.SourceType
	disconnect func()

	log *logger.Logger
	src *logger.Source

	mu               sync.Mutex
	backlog          []packet.Packet
	droppedCount     uint64
	warnedAtCapacity bool
	writeRegistered  bool
}

var src = logger.NewSource("writer/writer.go")

// New creates a Writer over handle, which must already be registered
// with loop (typically for read-readiness by the connection's owner);
// New only ever adds or removes the write direction on it. disconnect
// is invoked on any write error other than would-block; log may be nil
// to suppress warnings.
func New(loop *eventloop.Loop, handle iohandle.Handle, sourceType eventloop.SourceType, disconnect func(), log *logger.Logger) *Writer {
	return &Writer{
		loop:       loop,
		handle:     handle,
		sourceType: sourceType,
		disconnect: disconnect,
		log:        log,
		src:        src,
	}
}

// Write is the §4.6 write(packet) operation. It returns false if the
// packet was written directly, true if it was enqueued instead. A
// non-would-block write error invokes the disconnect hook and is
// returned to the caller.
func (w *Writer) Write(p packet.Packet) (enqueued bool, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.backlog) == 0 {
		wire, encErr := packet.Encode(p)
		if encErr != nil {
			return false, encErr
		}
		if _, werr := w.handle.Write(wire); werr == nil {
			return false, nil
		} else if !errs.OfKind(werr, errs.WouldBlock) {
			w.invokeDisconnectLocked()
			return false, werr
		}
		// would-block: fall through to enqueue
	}

	w.enqueueLocked(p)
	return true, nil
}

// enqueueLocked implements the §4.6 enqueue path. Caller holds w.mu.
func (w *Writer) enqueueLocked(p packet.Packet) {
	if len(w.backlog) >= backlogCapacity {
		popped := 0
		for len(w.backlog) >= backlogCapacity {
			w.backlog = w.backlog[1:]
			popped++
		}
		w.droppedCount += uint64(popped)
		// Warnings are throttled to one per overflow burst (suppressed
		// until the backlog next drains below capacity) rather than one
		// per overflowing call, so a sustained burst of backpressure
		// doesn't itself flood the log; the message still reports the
		// running aggregate.
		if !w.warnedAtCapacity {
			if w.log != nil {
				w.log.Warnf(w.src, 0, "writer backlog at capacity, dropped_count=%d", w.droppedCount)
			}
			w.warnedAtCapacity = true
		}
	}

	wasEmpty := len(w.backlog) == 0
	w.backlog = append(w.backlog, p)
	if wasEmpty {
		w.registerWriteLocked()
	}
}

// Drain is the event-loop write-readiness callback, §4.6 "Drain".
func (w *Writer) Drain(any) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.backlog) == 0 {
		return
	}

	wire, err := packet.Encode(w.backlog[0])
	if err != nil {
		// malformed queued entry: drop it rather than wedge the backlog.
		w.popLocked()
		return
	}

	if _, werr := w.handle.Write(wire); werr != nil {
		if errs.OfKind(werr, errs.WouldBlock) {
			return
		}
		if w.log != nil {
			w.log.Errorf(w.src, 0, "writer drain failed: %v", werr)
		}
		w.invokeDisconnectLocked()
		return
	}

	w.popLocked()
}

func (w *Writer) popLocked() {
	w.backlog = w.backlog[1:]
	if len(w.backlog) < backlogCapacity {
		w.warnedAtCapacity = false
	}
	if len(w.backlog) == 0 {
		w.deregisterWriteLocked()
	}
}

// Close is the §4.6 destroy operation: if the backlog is non-empty it
// warns and deregisters write-readiness, without invoking disconnect.
func (w *Writer) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.backlog) > 0 {
		if w.log != nil {
			w.log.Warnf(w.src, 0, "destroying writer with %d packets still queued", len(w.backlog))
		}
		w.deregisterWriteLocked()
	}
	w.backlog = nil
}

// DroppedCount reports the cumulative number of packets dropped to
// backpressure, §8 property 9.
func (w *Writer) DroppedCount() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.droppedCount
}

// BacklogLen reports the current backlog depth.
func (w *Writer) BacklogLen() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.backlog)
}

// WriteRegistered reports whether the handle is currently registered
// for write-readiness, §8 property 10.
func (w *Writer) WriteRegistered() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writeRegistered
}

func (w *Writer) registerWriteLocked() {
	w.loop.ModifySource(w.handle.FD(), w.sourceType, eventloop.Modification{
		AddWrite:    true,
		WriteCB:     w.Drain,
		WriteOpaque: nil,
	})
	w.writeRegistered = true
}

func (w *Writer) deregisterWriteLocked() {
	w.loop.ModifySource(w.handle.FD(), w.sourceType, eventloop.Modification{RemoveWrite: true})
	w.writeRegistered = false
}

func (w *Writer) invokeDisconnectLocked() {
	if w.disconnect != nil {
		w.disconnect()
	}
}
