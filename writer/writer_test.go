package writer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/craigwin-ni/daemonlib/errs"
	"github.com/craigwin-ni/daemonlib/eventloop"
	"github.com/craigwin-ni/daemonlib/packet"
)

// stubHandle is an iohandle.Handle whose Write behavior is controlled
// by the test: alwaysWouldBlock forces every Write to fail with
// errs.WouldBlock, as §8 scenario S4 requires.
type stubHandle struct {
	fd               int
	mu               sync.Mutex
	alwaysWouldBlock bool
	writes           int
}

func (h *stubHandle) FD() int { return h.fd }
func (h *stubHandle) Write(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.writes++
	if h.alwaysWouldBlock {
		return 0, errs.New("stubHandle.Write", errs.WouldBlock, "stub always blocks")
	}
	return len(p), nil
}
func (h *stubHandle) Read(p []byte) (int, error) { return 0, nil }
func (h *stubHandle) Close() error               { return nil }

// newTestWriter registers handle with a fresh Loop (AddSource inserts
// into the registry synchronously; only the backend syscall is
// deferred, which these tests never exercise) and wraps it in a Writer.
func newTestWriter(t *testing.T, handle *stubHandle) (*Writer, *eventloop.Loop) {
	t.Helper()
	loop, err := eventloop.New()
	require.NoError(t, err)
	require.NoError(t, loop.AddSource(handle, eventloop.Generic, eventloop.EventRead, func(any) {}, nil, nil, nil))

	w := New(loop, handle, eventloop.Generic, nil, nil)
	return w, loop
}

// TestBackpressureBurst is scenario S4: stub io.write to always return
// would-block; push 32,770 packets; expect exactly 32,768 in backlog,
// dropped_count == 2, and write-readiness registered throughout once the
// first packet is queued. The writer here has no logger, so the overflow
// warning is not observed.
func TestBackpressureBurst(t *testing.T) {
	handle := &stubHandle{fd: 99, alwaysWouldBlock: true}
	w, _ := newTestWriter(t, handle)

	p := packet.Packet{Header: packet.Header{UID: 1}}
	for i := 0; i < 32770; i++ {
		enqueued, err := w.Write(p)
		require.NoError(t, err)
		require.True(t, enqueued)
		if i >= 0 {
			require.True(t, w.WriteRegistered())
		}
	}

	require.Equal(t, backlogCapacity, w.BacklogLen())
	require.Equal(t, uint64(2), w.DroppedCount())
}

func TestDirectWriteSucceedsWithoutEnqueue(t *testing.T) {
	handle := &stubHandle{fd: 1}
	w, _ := newTestWriter(t, handle)

	enqueued, err := w.Write(packet.Packet{Header: packet.Header{UID: 1}})
	require.NoError(t, err)
	require.False(t, enqueued)
	require.Equal(t, 0, w.BacklogLen())
	require.False(t, w.WriteRegistered())
}

func TestDrainEmptiesBacklogAndDeregisters(t *testing.T) {
	handle := &stubHandle{fd: 2, alwaysWouldBlock: true}
	w, _ := newTestWriter(t, handle)

	_, err := w.Write(packet.Packet{Header: packet.Header{UID: 1}})
	require.NoError(t, err)
	require.Equal(t, 1, w.BacklogLen())
	require.True(t, w.WriteRegistered())

	handle.mu.Lock()
	handle.alwaysWouldBlock = false
	handle.mu.Unlock()

	w.Drain(nil)
	require.Equal(t, 0, w.BacklogLen())
	require.False(t, w.WriteRegistered())
}

func TestDestroyWithNonEmptyBacklogWarnsAndDeregisters(t *testing.T) {
	handle := &stubHandle{fd: 3, alwaysWouldBlock: true}
	w, _ := newTestWriter(t, handle)

	_, err := w.Write(packet.Packet{Header: packet.Header{UID: 1}})
	require.NoError(t, err)
	require.True(t, w.WriteRegistered())

	w.Close()
	require.Equal(t, 0, w.BacklogLen())
	require.False(t, w.WriteRegistered())
}

// ioErrorHandle always fails writes with a non-would-block error, to
// exercise the disconnect-hook path.
type ioErrorHandle struct{ fd int }

func (h *ioErrorHandle) FD() int                     { return h.fd }
func (h *ioErrorHandle) Write(p []byte) (int, error) { return 0, errs.New("ioErrorHandle.Write", errs.IO, "boom") }
func (h *ioErrorHandle) Read(p []byte) (int, error)  { return 0, nil }
func (h *ioErrorHandle) Close() error                { return nil }

// TestOtherErrorInvokesDisconnect checks the non-would-block direct
// write failure path: it invokes the disconnect hook and returns the
// error rather than enqueuing.
func TestOtherErrorInvokesDisconnect(t *testing.T) {
	loop, err := eventloop.New()
	require.NoError(t, err)
	handle := &ioErrorHandle{fd: 5}
	require.NoError(t, loop.AddSource(handle, eventloop.Generic, eventloop.EventRead, func(any) {}, nil, nil, nil))

	disconnected := false
	w := New(loop, handle, eventloop.Generic, func() { disconnected = true }, nil)

	_, err = w.Write(packet.Packet{Header: packet.Header{UID: 1}})
	require.Error(t, err)
	require.True(t, disconnected)
	require.Equal(t, 0, w.BacklogLen())
}
