// Package errs provides the structured error kinds shared by every
// daemonlib component.
package errs

import (
	"errors"
	"fmt"
	"syscall"
)

// Kind categorizes an Error the way §7 of the design enumerates error
// surfaces.
type Kind int

const (
	// IO is an unrecoverable read/write failure on a sink or handle.
	IO Kind = iota
	// WouldBlock is returned by a non-blocking FIFO operation or writer
	// direct write that cannot proceed immediately.
	WouldBlock
	// BrokenPipe is returned by a FIFO write after shutdown.
	BrokenPipe
	// TooBig is returned by a non-blocking FIFO write larger than the
	// ring's capacity.
	TooBig
	// NotFound is used for a missing configuration file; callers fall
	// back to defaults.
	NotFound
	// OOM marks an allocation failure surfaced to the caller for cleanup.
	OOM
)

func (k Kind) String() string {
	switch k {
	case IO:
		return "io"
	case WouldBlock:
		return "would-block"
	case BrokenPipe:
		return "broken-pipe"
	case TooBig:
		return "too-big"
	case NotFound:
		return "not-found"
	case OOM:
		return "oom"
	default:
		return "unknown"
	}
}

// Error is the structured error type returned across package boundaries.
type Error struct {
	Op    string        // operation that failed, e.g. "fifo.Write"
	Kind  Kind          // high-level category
	Errno syscall.Errno // kernel errno, 0 if not applicable
	Msg   string        // human-readable message
	Inner error         // wrapped cause, if any
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Op != "" {
		return fmt.Sprintf("daemonlib: %s: %s", e.Op, msg)
	}
	return fmt.Sprintf("daemonlib: %s", msg)
}

func (e *Error) Unwrap() error {
	return e.Inner
}

// Is supports errors.Is(err, &errs.Error{Kind: errs.WouldBlock}) style
// comparisons: any *Error target matches when its Kind is equal; other
// target types never match.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Kind == te.Kind
	}
	return false
}

// New builds an *Error with no wrapped cause.
func New(op string, kind Kind, msg string) *Error {
	return &Error{Op: op, Kind: kind, Msg: msg}
}

// WithErrno builds an *Error carrying a kernel errno, deriving Kind from
// it when the caller doesn't already know a more specific one.
func WithErrno(op string, errno syscall.Errno) *Error {
	return &Error{Op: op, Kind: errnoToKind(errno), Errno: errno, Msg: errno.Error()}
}

// Wrap attaches op context to inner, mapping syscall errors to a Kind and
// passing already-structured *Error values through with the op updated.
func Wrap(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	var existing *Error
	if errors.As(inner, &existing) {
		cp := *existing
		cp.Op = op
		return &cp
	}
	var errno syscall.Errno
	if errors.As(inner, &errno) {
		return &Error{Op: op, Kind: errnoToKind(errno), Errno: errno, Msg: errno.Error(), Inner: inner}
	}
	return &Error{Op: op, Kind: IO, Msg: inner.Error(), Inner: inner}
}

func errnoToKind(errno syscall.Errno) Kind {
	switch errno {
	case syscall.EAGAIN:
		return WouldBlock
	case syscall.EPIPE:
		return BrokenPipe
	case syscall.ENOENT:
		return NotFound
	case syscall.ENOMEM:
		return OOM
	default:
		return IO
	}
}

// OfKind reports whether err (or something it wraps) is a *Error of kind.
func OfKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
