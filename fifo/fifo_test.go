package fifo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/craigwin-ni/daemonlib/errs"
)

func TestRoundTrip(t *testing.T) {
	f := New(16)
	in := []byte("hello world")
	n, err := f.Write(in, NonBlocking)
	require.NoError(t, err)
	require.Equal(t, len(in), n)

	out := make([]byte, len(in))
	got := 0
	for got < len(in) {
		n, err := f.ReadNonBlocking(out[got:])
		require.NoError(t, err)
		got += n
	}
	require.Equal(t, in, out)
}

func TestNonBlockingTooBig(t *testing.T) {
	f := New(8) // capacity 7
	_, err := f.Write(make([]byte, 8), NonBlocking)
	require.ErrorIs(t, err, &errs.Error{Kind: errs.TooBig})
}

func TestNonBlockingWouldBlock(t *testing.T) {
	f := New(8)
	_, err := f.Write([]byte("1234567"), NonBlocking)
	require.NoError(t, err)
	_, err = f.Write([]byte("x"), NonBlocking)
	require.ErrorIs(t, err, &errs.Error{Kind: errs.WouldBlock})
}

func TestBlockingReadReleasedByWrite(t *testing.T) {
	f := New(8)
	out := make([]byte, 4)
	result := make(chan int, 1)
	go func() {
		n, err := f.Read(out)
		require.NoError(t, err)
		result <- n
	}()

	time.Sleep(10 * time.Millisecond)
	_, err := f.Write([]byte("ab"), Blocking)
	require.NoError(t, err)

	select {
	case n := <-result:
		require.Equal(t, 2, n)
	case <-time.After(time.Second):
		t.Fatal("reader was not released by writer")
	}
}

func TestBlockingReadReleasedByShutdown(t *testing.T) {
	f := New(8)
	out := make([]byte, 4)
	result := make(chan int, 1)
	go func() {
		n, _ := f.Read(out)
		result <- n
	}()

	time.Sleep(10 * time.Millisecond)
	f.Shutdown()

	select {
	case n := <-result:
		require.Equal(t, 0, n)
	case <-time.After(time.Second):
		t.Fatal("reader was not released by shutdown")
	}
}

func TestShutdownWriteFails(t *testing.T) {
	f := New(8)
	f.Shutdown()
	_, err := f.Write([]byte("x"), Blocking)
	require.ErrorIs(t, err, &errs.Error{Kind: errs.BrokenPipe})
}

func TestShutdownDuringBlockingWrite(t *testing.T) {
	f := New(4) // capacity 3
	_, err := f.Write([]byte("abc"), NonBlocking)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := f.Write([]byte("d"), Blocking)
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	f.Shutdown()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, &errs.Error{Kind: errs.BrokenPipe})
	case <-time.After(time.Second):
		t.Fatal("blocked writer was not released by shutdown")
	}
}

// TestWrapAround exercises scenario S6: a buffer of length 8 (capacity
// 7), written and read such that the second write straddles the wrap
// point and must be reassembled from two contiguous regions.
func TestWrapAround(t *testing.T) {
	f := New(8)

	n, err := f.Write([]byte("12345"), NonBlocking)
	require.NoError(t, err)
	require.Equal(t, 5, n)

	buf := make([]byte, 5)
	n, err = f.ReadNonBlocking(buf)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "12345", string(buf))

	// free space is now 7 (all of it); begin/end have wrapped near the
	// end of the underlying array, so this write straddles the wrap.
	_, err = f.Write([]byte("abcdef"), NonBlocking)
	require.NoError(t, err)

	out := make([]byte, 6)
	got := 0
	for got < 6 {
		n, err := f.ReadNonBlocking(out[got:])
		require.NoError(t, err)
		got += n
	}
	require.Equal(t, "abcdef", string(out))
}
