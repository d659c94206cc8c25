package eventloop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/craigwin-ni/daemonlib/iohandle"
)

func newPipePair(t *testing.T) (r, w int) {
	t.Helper()
	var fds [2]int
	require.NoError(t, unix.Pipe(fds[:]))
	require.NoError(t, unix.SetNonblock(fds[0], true))
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestAddSourceDuplicateErrors(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	defer l.Close()

	r, _ := newPipePair(t)
	h := iohandle.NewRawFD(r)
	require.NoError(t, l.AddSource(h, Generic, EventRead, func(any) {}, nil, nil, nil))
	err = l.AddSource(h, Generic, EventRead, func(any) {}, nil, nil, nil)
	require.ErrorIs(t, err, ErrDuplicateSource)
}

func TestRemoveThenReaddResurrects(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	defer l.Close()

	r, _ := newPipePair(t)
	h := iohandle.NewRawFD(r)
	require.NoError(t, l.AddSource(h, Generic, EventRead, func(any) {}, nil, nil, nil))
	l.RemoveSource(r, Generic)

	called := false
	require.NoError(t, l.AddSource(h, Generic, EventRead, func(any) { called = true }, nil, nil, nil))

	l.entries[SourceKey{FD: r, Type: Generic}].readCB(nil)
	require.True(t, called)
}

// TestDeferredRemovalWithinBatch exercises testable property 4: if a
// callback removes a source later in the same readiness batch, that
// later source's callback must not fire.
func TestDeferredRemovalWithinBatch(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	defer l.Close()

	r1, w1 := newPipePair(t)
	r2, w2 := newPipePair(t)

	var secondFired bool
	firstCB := func(any) {
		l.RemoveSource(r2, Generic)
	}
	secondCB := func(any) { secondFired = true }

	require.NoError(t, l.AddSource(iohandle.NewRawFD(r1), Generic, EventRead, firstCB, nil, nil, nil))
	require.NoError(t, l.AddSource(iohandle.NewRawFD(r2), Generic, EventRead, secondCB, nil, nil, nil))

	_, err = unix.Write(w1, []byte{1})
	require.NoError(t, err)
	_, err = unix.Write(w2, []byte{1})
	require.NoError(t, err)

	l.cleanupSources(nil)
	ready := []readyEvent{
		{entry: l.entries[SourceKey{FD: r1, Type: Generic}], read: true},
		{entry: l.entries[SourceKey{FD: r2, Type: Generic}], read: true},
	}
	l.dispatch(ready)

	require.False(t, secondFired, "removed source's callback must not fire within the same batch")
}

// TestDirectionIsolation exercises testable property 5: dropping write
// readiness on a source must not cancel its pending read delivery in the
// same dispatch.
func TestDirectionIsolation(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	defer l.Close()

	r, _ := newPipePair(t)
	h := iohandle.NewRawFD(r)

	var readFired bool
	readCB := func(any) { readFired = true }
	writeCB := func(any) {}

	require.NoError(t, l.AddSource(h, Generic, EventRead|EventWrite, readCB, nil, writeCB, nil))
	l.cleanupSources(nil)

	require.NoError(t, l.ModifySource(r, Generic, Modification{RemoveWrite: true}))

	ready := []readyEvent{{entry: l.entries[SourceKey{FD: r, Type: Generic}], read: true, write: true}}
	l.dispatch(ready)

	require.True(t, readFired)
}

func TestRunReturnsAfterStop(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	defer l.Close()

	done := make(chan error, 1)
	go func() { done <- l.Run(nil) }()

	time.Sleep(20 * time.Millisecond)
	l.Stop()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}
