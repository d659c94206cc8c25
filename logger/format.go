package logger

import (
	"fmt"
	"os"
	"runtime"
	"strconv"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

// lineEnding matches the platform convention called out in §4.5's
// forward-thread formatting step.
var lineEnding = func() string {
	if runtime.GOOS == "windows" {
		return "\r\n"
	}
	return "\n"
}()

// useColor decides whether ANSI color is applied to sink, mirroring
// this corpus's logging package: a real TTY, with TERM neither unset
// nor "dumb".
func useColor(fd uintptr) bool {
	if !term.IsTerminal(int(fd)) {
		return false
	}
	t := os.Getenv("TERM")
	return t != "" && t != "dumb"
}

// newEncoder builds the zapcore console encoder used by format, grounded
// on this corpus's logging.Init: start from zap's development encoder
// config and swap EncodeLevel for the colored/plain variant depending on
// color, same pattern as that package's term.IsTerminal check.
func newEncoder(color bool) zapcore.Encoder {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.LineEnding = lineEnding
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000000")
	if color {
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	return zapcore.NewConsoleEncoder(cfg)
}

// format renders one complete LogEntry + message into a single line,
// §4.5 forward-thread step 2: timestamp with microsecond precision,
// level tag, debug-group tag (debug level only), source-name and line
// qualifier, then the message.
func format(enc zapcore.Encoder, e wireEntry, message string) (string, error) {
	name := "?"
	if src := sourceByID(e.sourceID); src != nil {
		name = src.resolvedName()
	}

	qualifier := name + ":" + strconv.Itoa(int(e.line))

	msg := message
	if Level(e.level) == LevelDebug {
		msg = "[" + Group(e.group).String() + "] " + message
	}

	entry := zapcore.Entry{
		Level:      Level(e.level).zapLevel(),
		Time:       e.time(),
		LoggerName: qualifier,
		Message:    msg,
	}

	buf, err := enc.EncodeEntry(entry, nil)
	if err != nil {
		return "", fmt.Errorf("logger: format: %w", err)
	}
	defer buf.Free()
	return buf.String(), nil
}
