// Package daemonize implements the §6 CLI surface's "--daemon" bootstrap:
// double-fork-style daemonization via a re-exec into a detached session,
// pid-file bookkeeping, and stdio redirection to /dev/null plus a log
// file. It is grounded on this corpus's re-exec-with-a-marker-env-var
// pattern (k3s's forkIfLoggingOrReaping): a child process is started
// with SysProcAttr{Setsid: true} and an environment marker so the child
// never re-execs again, rather than a literal POSIX double fork, which
// Go's runtime cannot safely perform post-fork anyway (only exec is
// async-signal-safe once goroutines/the GC are running).
package daemonize

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/craigwin-ni/daemonlib/errs"
)

// reexecMarker prevents an infinite re-exec loop: once set, the caller
// is already the detached child and Daemonize only writes the pid file.
const reexecMarker = "DAEMONLIB_DAEMONIZED"

// Options configures Daemonize.
type Options struct {
	PidFile string
	LogFile string
}

// Daemonize re-executes the current binary detached from the
// controlling terminal, in its own session, with stdio redirected to
// /dev/null (stdin) and LogFile (stdout/stderr), and writes PidFile.
// In the parent process it returns (true, nil) and the caller should
// exit 0 immediately. In the (re-exec'd) child it returns (false, nil)
// and the caller proceeds to run normally.
func Daemonize(opts Options) (isParent bool, err error) {
	if os.Getenv(reexecMarker) != "" {
		if err := writePidFile(opts.PidFile); err != nil {
			return false, err
		}
		return false, nil
	}

	logFile, err := os.OpenFile(opts.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return false, errs.Wrap("daemonize.Daemonize", err)
	}
	defer logFile.Close()

	devNull, err := os.OpenFile(os.DevNull, os.O_RDONLY, 0)
	if err != nil {
		return false, errs.Wrap("daemonize.Daemonize", err)
	}
	defer devNull.Close()

	exe, err := os.Executable()
	if err != nil {
		return false, errs.Wrap("daemonize.Daemonize", err)
	}

	cmd := &exec.Cmd{
		Path:   exe,
		Args:   os.Args,
		Env:    append(os.Environ(), reexecMarker+"=1"),
		Stdin:  devNull,
		Stdout: logFile,
		Stderr: logFile,
		SysProcAttr: &syscall.SysProcAttr{
			Setsid: true,
		},
	}
	if err := cmd.Start(); err != nil {
		return false, errs.Wrap("daemonize.Daemonize", err)
	}

	if err := waitForPidFile(opts.PidFile); err != nil {
		return false, err
	}

	return true, nil
}

// waitForPidFile blocks briefly for the child to write its pid file, so
// the parent doesn't exit before the daemon has actually started.
// Polled on an exponential-backoff ticker, the same
// backoff.NewTicker(&backoff.ExponentialBackOff{...}) pattern this
// corpus uses for bounded reconnect loops, rather than a fixed sleep.
func waitForPidFile(path string) error {
	deadline := time.Now().Add(5 * time.Second)

	ticker := backoff.NewTicker(&backoff.ExponentialBackOff{
		InitialInterval:     50 * time.Millisecond,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         500 * time.Millisecond,
	})
	defer ticker.Stop()

	for range ticker.C {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			break
		}
	}
	return errs.New("daemonize.waitForPidFile", errs.IO, "timed out waiting for daemon to write pid file")
}

// writePidFile writes the calling process's pid to path, failing if a
// live process already holds it.
func writePidFile(path string) error {
	if path == "" {
		return nil
	}
	if existing, err := os.ReadFile(path); err == nil {
		if pid, perr := strconv.Atoi(string(existing)); perr == nil && pid != os.Getpid() {
			if proc, ferr := os.FindProcess(pid); ferr == nil && proc.Signal(syscall.Signal(0)) == nil {
				return errs.New("daemonize.writePidFile", errs.IO, fmt.Sprintf("pid file %s already held by live process %d", path, pid))
			}
		}
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// RemovePidFile removes the pid file on clean shutdown. Errors are not
// fatal at this point in a shutdown sequence.
func RemovePidFile(path string) {
	if path != "" {
		os.Remove(path)
	}
}
