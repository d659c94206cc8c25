// Package logger implements the asynchronous logging pipeline (§4.5):
// a synchronous inclusion check on the caller's hot path, a two-part
// atomic FIFO write, and a single forward thread that formats and
// writes to the configured sink, with hot-reconfigurable per-source and
// per-line debug filtering and size-triggered rotation.
package logger

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/c2h5oh/datasize"
	"go.uber.org/zap/zapcore"

	"github.com/craigwin-ni/daemonlib/config"
	"github.com/craigwin-ni/daemonlib/fifo"
	"github.com/craigwin-ni/daemonlib/syncutil"
)

const (
	maskPrimary   uint8 = 1 << 0
	maskSecondary uint8 = 1 << 1
)

// rotateCountdownReset is the post-rotate grace period, §4.5 step 5.
const rotateCountdownReset = 50

// defaultFIFOSize is the backing capacity of the transport FIFO between
// the hot path and the forward thread.
const defaultFIFOSize = 256 * 1024

// RotateFunc swaps the current sink for a new one once MAX_OUTPUT_SIZE
// is exceeded. A non-empty info message is emitted through the normal
// logging path by the forward thread once the swap completes.
type RotateFunc func(current Sink) (next Sink, info string, err error)

// Options configures a new Logger.
type Options struct {
	Level         Level
	DebugFilter   string // raw grammar string, §6
	FIFOSize      int
	Sink          Sink
	Secondary     Sink
	Rotate        RotateFunc
	MaxOutputSize datasize.ByteSize
	ColorFD       uintptr // fd probed for TTY color; defaults to stderr
}

// rotateSource is the internal Source used for rotate-hook
// informational messages and debug-filter parse warnings.
var rotateSource = NewSource("logger/internal")

// Logger is the process-wide asynchronous log pipeline.
type Logger struct {
	commonMutex syncutil.Mutex // LogSource lazy init, filter version, two-part FIFO write
	f           *fifo.FIFO
	thread      *syncutil.Thread

	effectiveLevel Level
	debugOverride  atomic.Bool
	filterVersion  uint64 // bumped under commonMutex, read via atomic
	rules          []rule // guarded by commonMutex

	outputMutex     syncutil.Mutex // sink, byte counter, rotate countdown
	sink            Sink
	secondary       Sink
	byteCount       int64
	rotateCountdown int
	rotateFn        RotateFunc
	maxOutputSize   int64
	encoder         zapcore.Encoder
}

// New constructs a Logger and starts its forward thread.
func New(opts Options) (*Logger, error) {
	if opts.FIFOSize <= 0 {
		opts.FIFOSize = defaultFIFOSize
	}
	sink := opts.Sink
	if sink == nil {
		sink = StderrSink
	}
	fd := opts.ColorFD
	if fd == 0 {
		fd = os.Stderr.Fd()
	}
	maxOutputSize := opts.MaxOutputSize
	if maxOutputSize == 0 {
		maxOutputSize = 5 * datasize.MB
	}

	l := &Logger{
		f:              fifo.New(opts.FIFOSize),
		effectiveLevel: opts.Level,
		sink:           sink,
		secondary:      opts.Secondary,
		rotateFn:       opts.Rotate,
		maxOutputSize:  int64(maxOutputSize.Bytes()),
		encoder:        newEncoder(useColor(fd)),
	}

	if opts.DebugFilter != "" {
		if err := l.SetDebugFilter(opts.DebugFilter); err != nil {
			return nil, err
		}
	}

	l.thread = syncutil.NewThread(l.forwardLoop)
	return l, nil
}

// SetDebugFilter parses and installs a new debug-filter rule set,
// bumping the global filter version so every Source lazily
// re-evaluates on its next debug-level inclusion check (§8 property 8).
func (l *Logger) SetDebugFilter(s string) error {
	raw, err := config.ParseDebugFilter(s)
	if err != nil {
		return err
	}

	var warnings []string
	resolved := resolveRules(raw, func(msg string) { warnings = append(warnings, msg) })

	l.commonMutex.Lock()
	l.rules = resolved
	atomic.AddUint64(&l.filterVersion, 1)
	l.commonMutex.Unlock()

	for _, w := range warnings {
		l.warn(w)
	}
	return nil
}

// ToggleDebugOverride flips the debug_override flag, typically wired as
// the signal bridge's USR1 hook (§4.3).
func (l *Logger) ToggleDebugOverride() {
	for {
		old := l.debugOverride.Load()
		if l.debugOverride.CompareAndSwap(old, !old) {
			return
		}
	}
}

func (l *Logger) warn(msg string) {
	l.Log(LevelWarn, rotateSource, GroupCommon, 0, "%s", msg)
}

func (l *Logger) info(msg string) {
	l.Log(LevelInfo, rotateSource, GroupCommon, 0, "%s", msg)
}

// Log is the synchronous, hot-path entry point (§4.5 "Inclusion check").
// If the computed inclusion mask is empty it returns immediately
// without formatting.
func (l *Logger) Log(level Level, src *Source, group Group, line int, format string, args ...any) {
	mask := l.inclusionMask(level, src, group, line)
	if mask == 0 {
		return
	}

	msg := fmt.Sprintf(format, args...)
	if len(msg) > maxMessageSize-1 {
		msg = msg[:maxMessageSize-1]
	}

	hdr := encodeHeader(wireEntry{
		timestamp:     time.Now().UnixNano(),
		sourceID:      src.id,
		line:          int32(line),
		level:         uint8(level),
		group:         uint8(group),
		inclusionMask: mask,
	})
	body := append([]byte(msg), 0)

	l.commonMutex.Lock()
	defer l.commonMutex.Unlock()
	if _, err := l.f.Write(hdr, fifo.Blocking); err != nil {
		return
	}
	l.f.Write(body, fifo.Blocking)
}

// Errorf, Warnf, Infof, and Debugf are convenience wrappers over Log for
// callers outside this package (e.g. package writer reporting backlog
// drops). Errorf, Warnf and Infof log under GroupCommon; Debugf takes
// the debug group explicitly.
func (l *Logger) Errorf(src *Source, line int, format string, args ...any) {
	l.Log(LevelError, src, GroupCommon, line, format, args...)
}

func (l *Logger) Warnf(src *Source, line int, format string, args ...any) {
	l.Log(LevelWarn, src, GroupCommon, line, format, args...)
}

func (l *Logger) Infof(src *Source, line int, format string, args ...any) {
	l.Log(LevelInfo, src, GroupCommon, line, format, args...)
}

func (l *Logger) Debugf(src *Source, group Group, line int, format string, args ...any) {
	l.Log(LevelDebug, src, group, line, format, args...)
}

func (l *Logger) inclusionMask(level Level, src *Source, group Group, line int) uint8 {
	primary := level <= l.effectiveLevel || (l.debugOverride.Load() && level == LevelDebug)
	if level == LevelDebug {
		primary = primary && src.effectiveGroups(l, line)&group != 0
	}

	var mask uint8
	if primary {
		mask |= maskPrimary
		if l.secondary != nil {
			mask |= maskSecondary
		}
	}
	return mask
}

// forwardLoop is the sole consumer of the transport FIFO, §4.5 "Forward
// thread". It exits once the FIFO is shut down and drained.
func (l *Logger) forwardLoop() {
	hdrBuf := make([]byte, wireHeaderSize)
	for {
		if !readExact(l.f, hdrBuf) {
			return
		}
		entry := decodeHeader(hdrBuf)

		msg, ok := readMessage(l.f)
		if !ok {
			return
		}

		l.emit(entry, msg)
	}
}

func readExact(f *fifo.FIFO, buf []byte) bool {
	got := 0
	for got < len(buf) {
		n, err := f.Read(buf[got:])
		if err != nil || n == 0 {
			return false
		}
		got += n
	}
	return true
}

func readMessage(f *fifo.FIFO) (string, bool) {
	var b []byte
	var one [1]byte
	for len(b) < maxMessageSize {
		n, err := f.Read(one[:])
		if err != nil || n == 0 {
			return "", false
		}
		if one[0] == 0 {
			return string(b), true
		}
		b = append(b, one[0])
	}
	return string(b), true
}

// emit formats and writes one complete entry, §4.5 forward-thread steps
// 1-5.
func (l *Logger) emit(entry wireEntry, message string) {
	l.outputMutex.Lock()
	defer l.outputMutex.Unlock()

	line, err := format(l.encoder, entry, message)
	if err == nil {
		if entry.inclusionMask&maskPrimary != 0 && l.sink != nil {
			if n, werr := l.sink.Write([]byte(line)); werr == nil {
				l.byteCount += int64(n)
			}
		}
		if entry.inclusionMask&maskSecondary != 0 && l.secondary != nil {
			l.secondary.Write([]byte(line))
		}
	}

	if l.rotateFn == nil {
		return
	}
	l.rotateCountdown--
	if l.rotateCountdown > 0 {
		return
	}

	size := l.byteCount
	if sized, ok := l.sink.(SizedSink); ok {
		if sz, ok2 := sized.Size(); ok2 {
			size = sz
		}
	}
	if size <= l.maxOutputSize {
		return
	}

	next, info, rerr := l.rotateFn(l.sink)
	if rerr != nil {
		l.rotateFn = nil
		return
	}
	l.sink = next
	l.byteCount = 0
	l.rotateCountdown = rotateCountdownReset
	if info != "" {
		l.info(info)
	}
}

// Close shuts down the transport FIFO (releasing the forward thread,
// which returns from fifo_read) and joins it, §4.5 "Termination".
func (l *Logger) Close() {
	l.f.Shutdown()
	l.thread.Join()
}
