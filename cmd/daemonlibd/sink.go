package main

import (
	"fmt"
	"os"
	"time"

	"github.com/craigwin-ni/daemonlib/errs"
	"github.com/craigwin-ni/daemonlib/iohandle"
	"github.com/craigwin-ni/daemonlib/logger"
)

// openRotatingSink opens path for appending and returns a logger.Sink
// backed by it plus a logger.RotateFunc that renames the current file
// aside with a timestamp suffix and opens a fresh one in its place, the
// classic logrotate-by-rename scheme.
func openRotatingSink(path string) (logger.Sink, logger.RotateFunc, error) {
	sink, err := openFileSink(path)
	if err != nil {
		return nil, nil, err
	}

	rotate := func(_ logger.Sink) (logger.Sink, string, error) {
		rotated := fmt.Sprintf("%s.%s", path, time.Now().Format("20060102-150405"))
		if err := os.Rename(path, rotated); err != nil {
			return nil, "", errs.Wrap("daemonlibd.rotate", err)
		}
		next, err := openFileSink(path)
		if err != nil {
			return nil, "", err
		}
		return next, "rotated log to " + rotated, nil
	}

	return sink, rotate, nil
}

func openFileSink(path string) (*logger.FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errs.Wrap("daemonlibd.openFileSink", err)
	}
	return logger.NewFileSink(iohandle.NewFile(f)), nil
}
