package signalbridge

import (
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/craigwin-ni/daemonlib/eventloop"
)

// TestSigtermStopsLoop is scenario S3: a real SIGTERM delivered to the
// process reaches the event loop through the bridge and Run returns
// promptly.
func TestSigtermStopsLoop(t *testing.T) {
	loop, err := eventloop.New()
	require.NoError(t, err)
	defer loop.Close()

	b, err := New(loop, loop.Stop, nil)
	require.NoError(t, err)
	defer b.Close()

	done := make(chan error, 1)
	go func() { done <- loop.Run(nil) }()

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after SIGTERM")
	}
}

// TestSigusr1InvokesCallback checks the USR1 hook, typically wired to a
// debug-override toggle.
func TestSigusr1InvokesCallback(t *testing.T) {
	loop, err := eventloop.New()
	require.NoError(t, err)
	defer loop.Close()

	toggled := make(chan struct{}, 1)
	b, err := New(loop, nil, func() { toggled <- struct{}{} })
	require.NoError(t, err)
	defer b.Close()

	go loop.Run(nil)
	defer loop.Stop()

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGUSR1))

	select {
	case <-toggled:
	case <-time.After(time.Second):
		t.Fatal("USR1 callback was not invoked")
	}
}
