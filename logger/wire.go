package logger

import (
	"encoding/binary"
	"time"
)

// wireHeaderSize is the fixed size of the LogEntry header staged ahead
// of each NUL-terminated message in the FIFO, §3 "LogEntry".
const wireHeaderSize = 20

// maxMessageSize bounds a single formatted call's message, §4.5 "a
// per-call 1024-byte stack buffer, truncating safely".
const maxMessageSize = 1024

// wireEntry is LogEntry's fixed-size prefix. sourceID is an interned
// index into the package-level source registry rather than a Go
// pointer, which can't cross the FIFO's byte boundary. The call site's
// qualifier is always its line number: this reimplementation does not
// also capture the caller's function name (runtime.Caller on every
// hot-path log call was judged not worth its cost for a cosmetic
// qualifier already covered by source+line).
type wireEntry struct {
	timestamp     int64
	sourceID      uint32
	line          int32
	level         uint8
	group         uint8
	inclusionMask uint8
	_             uint8
}

func encodeHeader(e wireEntry) []byte {
	buf := make([]byte, wireHeaderSize)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(e.timestamp))
	binary.LittleEndian.PutUint32(buf[8:12], e.sourceID)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(e.line))
	buf[16] = e.level
	buf[17] = e.group
	buf[18] = e.inclusionMask
	return buf
}

func decodeHeader(buf []byte) wireEntry {
	return wireEntry{
		timestamp:     int64(binary.LittleEndian.Uint64(buf[0:8])),
		sourceID:      binary.LittleEndian.Uint32(buf[8:12]),
		line:          int32(binary.LittleEndian.Uint32(buf[12:16])),
		level:         buf[16],
		group:         buf[17],
		inclusionMask: buf[18],
	}
}

func (e wireEntry) time() time.Time {
	return time.Unix(0, e.timestamp)
}
