package logger

import (
	"os"

	"github.com/craigwin-ni/daemonlib/iohandle"
)

// Sink is the abstract writable output device, §4.5 "output sink
// interface".
type Sink interface {
	Write(p []byte) (int, error)
}

// SizedSink is a Sink that can report its current size, so the rotate
// countdown's byte-count check can be driven by the sink's own
// accounting instead of a running total kept in the Logger.
type SizedSink interface {
	Sink
	Size() (int64, bool)
}

// stderrSink is the default sink, §4.5.
type stderrSink struct{}

func (stderrSink) Write(p []byte) (int, error) { return os.Stderr.Write(p) }

// StderrSink is the logger's documented default output sink.
var StderrSink Sink = stderrSink{}

// FileSink wraps an iohandle.StatusHandle as a SizedSink, for use with a
// rotate hook that swaps in a freshly-opened file once MAX_OUTPUT_SIZE is
// exceeded. It reuses the handle's own Status() instead of stat'ing the
// file a second time.
type FileSink struct {
	H iohandle.StatusHandle
}

// NewFileSink wraps an open file's handle as a FileSink. Callers
// typically obtain h via iohandle.NewFile.
func NewFileSink(h iohandle.StatusHandle) *FileSink {
	return &FileSink{H: h}
}

func (s *FileSink) Write(p []byte) (int, error) { return s.H.Write(p) }

func (s *FileSink) Size() (int64, bool) {
	st, ok := s.H.Status()
	if !ok {
		return 0, false
	}
	return st.Size, true
}
