package logger

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/c2h5oh/datasize"
)

// collectingSink is a Sink that appends every Write to a slice, safe
// for the single-writer (forward thread) / single-reader (test, after
// Close) access pattern used here.
type collectingSink struct {
	mu    sync.Mutex
	lines []string
}

func (s *collectingSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	s.lines = append(s.lines, string(p))
	s.mu.Unlock()
	return len(p), nil
}

func (s *collectingSink) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

func TestInclusionMonotonicityAndOrdering(t *testing.T) {
	sink := &collectingSink{}
	l, err := New(Options{Level: LevelInfo, Sink: sink})
	require.NoError(t, err)

	src := NewSource("ordering_test.go")
	for i := 0; i < 20; i++ {
		l.Log(LevelInfo, src, GroupCommon, i, "line %d", i)
	}
	l.Close()

	lines := sink.all()
	require.Len(t, lines, 20)
	for i, line := range lines {
		require.Contains(t, line, fmt.Sprintf("line %d", i))
	}
}

func TestDebugLevelSuppressedAboveEffectiveLevel(t *testing.T) {
	sink := &collectingSink{}
	l, err := New(Options{Level: LevelInfo, Sink: sink})
	require.NoError(t, err)

	src := NewSource("suppressed_test.go")
	l.Log(LevelDebug, src, GroupCommon, 1, "should not appear")
	l.Log(LevelInfo, src, GroupCommon, 2, "should appear")
	l.Close()

	lines := sink.all()
	require.Len(t, lines, 1)
	require.Contains(t, lines[0], "should appear")
}

func TestDebugOverrideEnablesDebugWithMatchingGroup(t *testing.T) {
	sink := &collectingSink{}
	l, err := New(Options{Level: LevelInfo, Sink: sink, DebugFilter: "+all"})
	require.NoError(t, err)

	l.ToggleDebugOverride()
	src := NewSource("override_test.go")
	l.Log(LevelDebug, src, GroupPacket, 1, "debug visible")
	l.Close()

	lines := sink.all()
	require.Len(t, lines, 1)
	require.Contains(t, lines[0], "debug visible")
}

// TestFilterPrecedence is scenario S2: filter "+all,-packet,+packet:137",
// source foo.c line 137 group packet -> included; same source line 138
// -> excluded; group event any line -> included.
func TestFilterPrecedence(t *testing.T) {
	sink := &collectingSink{}
	l, err := New(Options{Level: LevelInfo, Sink: sink, DebugFilter: "+all,-packet,+packet:137"})
	require.NoError(t, err)
	l.ToggleDebugOverride()

	src := NewSource("filter_precedence_test/foo.c")
	l.Log(LevelDebug, src, GroupPacket, 137, "line137 packet")
	l.Log(LevelDebug, src, GroupPacket, 138, "line138 packet")
	l.Log(LevelDebug, src, GroupEvent, 999, "any line event")
	l.Close()

	lines := sink.all()
	joined := strings.Join(lines, "\n")
	require.Contains(t, joined, "line137 packet")
	require.NotContains(t, joined, "line138 packet")
	require.Contains(t, joined, "any line event")
}

// TestDebugFilterVersioning is property 8: after SetDebugFilter, the
// next inclusion check on an existing Source reflects the new filter
// without explicit reinitialization.
func TestDebugFilterVersioning(t *testing.T) {
	sink := &collectingSink{}
	l, err := New(Options{Level: LevelInfo, Sink: sink})
	require.NoError(t, err)
	l.ToggleDebugOverride()

	src := NewSource("versioning_test.go")
	l.Log(LevelDebug, src, GroupPacket, 1, "before filter")

	require.NoError(t, l.SetDebugFilter("+packet"))
	l.Log(LevelDebug, src, GroupPacket, 2, "after filter")
	l.Close()

	lines := sink.all()
	joined := strings.Join(lines, "\n")
	require.NotContains(t, joined, "before filter")
	require.Contains(t, joined, "after filter")
}

// TestRotateCountdown is scenario S5: a rotate hook installed with the
// countdown at its zero value fires exactly once once the byte count
// exceeds MaxOutputSize, resets the countdown to 50, and does not fire
// again for the next 49 emits.
func TestRotateCountdown(t *testing.T) {
	sinkA := &collectingSink{}
	sinkB := &collectingSink{}

	rotateCount := 0
	rotate := func(current Sink) (Sink, string, error) {
		rotateCount++
		return sinkB, "rotated", nil
	}

	l, err := New(Options{
		Level:         LevelInfo,
		Sink:          sinkA,
		Rotate:        rotate,
		MaxOutputSize: 256 * datasize.B,
	})
	require.NoError(t, err)

	src := NewSource("rotate_test.go")
	for i := 0; i < 30; i++ {
		l.Log(LevelInfo, src, GroupCommon, i, "padding padding padding %d", i)
	}
	l.Close()

	require.Equal(t, 1, rotateCount)
}
