// Command daemonlibd is the reference daemon: it wires every package in
// this module into one runnable binary, the way a real consumer of the
// library would. It owns no protocol of its own beyond echoing whatever
// packet.Packet frames arrive on its listener, which exists purely to
// exercise writer's backpressure path end to end.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/sync/errgroup"

	"github.com/craigwin-ni/daemonlib/config"
	"github.com/craigwin-ni/daemonlib/daemonize"
	"github.com/craigwin-ni/daemonlib/errs"
	"github.com/craigwin-ni/daemonlib/logger"
)

// Cmd is the command line arguments, styled on this corpus's coordinator
// main: a package-level flag-target struct bound in init.
type Cmd struct {
	ConfigPath  string
	CheckConfig bool
	Listen      string
	Daemon      string
	LogFile     string
	LogOutput   string
}

var cmd Cmd

var rootCmd = &cobra.Command{
	Use:   "daemonlibd",
	Short: "reference daemon built on daemonlib",
	RunE: func(_ *cobra.Command, _ []string) error {
		return run(cmd)
	},
}

func init() {
	rootCmd.Flags().StringVarP(&cmd.ConfigPath, "config", "c", "", "path to the .conf file")
	rootCmd.Flags().BoolVar(&cmd.CheckConfig, "check-config", false, "parse the config, print its effective values, and exit")
	rootCmd.Flags().StringVar(&cmd.Listen, "listen", "127.0.0.1:7115", "address to accept packet connections on")
	rootCmd.Flags().StringVar(&cmd.Daemon, "daemon", "", "pid file path; if set, daemonize before starting")
	rootCmd.Flags().StringVar(&cmd.LogFile, "log-file", "/var/log/daemonlibd.log", "stdout/stderr destination once daemonized")
	rootCmd.Flags().StringVar(&cmd.LogOutput, "log-output", "", "file the structured log is written to, with rotation at log.max_output_size; empty means stderr")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd Cmd) error {
	undo, err := maxprocs.Set(maxprocs.Logger(func(string, ...any) {}))
	if err != nil {
		return fmt.Errorf("set GOMAXPROCS: %w", err)
	}
	defer undo()

	cfg, warnings, err := loadConfig(cmd.ConfigPath)
	if err != nil {
		return err
	}
	if cmd.CheckConfig {
		for _, w := range warnings {
			fmt.Fprintf(os.Stderr, "config: line %d: %s\n", w.Line, w.Msg)
		}
		printEffectiveConfig(cfg)
		return nil
	}

	if cmd.Daemon != "" {
		isParent, err := daemonize.Daemonize(daemonize.Options{PidFile: cmd.Daemon, LogFile: cmd.LogFile})
		if err != nil {
			return fmt.Errorf("daemonize: %w", err)
		}
		if isParent {
			return nil
		}
		defer daemonize.RemovePidFile(cmd.Daemon)
	}

	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("log.level: %w", err)
	}

	opts := logger.Options{
		Level:         level,
		DebugFilter:   cfg.Log.DebugFilter,
		MaxOutputSize: cfg.Log.MaxOutputSize,
	}
	if cmd.LogOutput != "" {
		sink, rotate, err := openRotatingSink(cmd.LogOutput)
		if err != nil {
			return fmt.Errorf("log-output %s: %w", cmd.LogOutput, err)
		}
		opts.Sink = sink
		opts.Rotate = rotate
	}

	log, err := logger.New(opts)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Close()

	d, err := newDaemon(log)
	if err != nil {
		return fmt.Errorf("build daemon: %w", err)
	}
	defer d.Close()

	if err := d.listen(cmd.Listen); err != nil {
		return fmt.Errorf("listen %s: %w", cmd.Listen, err)
	}

	ctx := context.Background()
	wg, ctx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		return d.loop.Run(nil)
	})
	wg.Go(func() error {
		d.acceptLoop()
		return nil
	})
	wg.Go(func() error {
		err := waitInterrupted(ctx)
		log.Infof(daemonSrc, 0, "shutting down: %v", err)
		d.loop.Stop()
		d.stopAccept()
		return err
	})

	if err := wg.Wait(); err != nil && !errors.Is(err, interrupted{}) {
		return err
	}
	return nil
}

// loadConfig reads path, falling back to documented defaults when the
// file is absent (config.Load's errs.NotFound case); any other error
// means the file exists but couldn't even be tokenized, which is fatal.
func loadConfig(path string) (*config.Config, []config.Warning, error) {
	if path == "" {
		return config.Default(), nil, nil
	}
	cfg, warnings, err := config.Load(path)
	if err != nil && !errs.OfKind(err, errs.NotFound) {
		return nil, warnings, fmt.Errorf("load config: %w", err)
	}
	return cfg, warnings, nil
}

func printEffectiveConfig(cfg *config.Config) {
	fmt.Printf("log.level = %s\n", cfg.Log.Level)
	fmt.Printf("log.debug_filter = %q\n", cfg.Log.DebugFilter)
	fmt.Printf("log.max_output_size = %s\n", cfg.Log.MaxOutputSize.String())
}

type interrupted struct{ os.Signal }

func (m interrupted) Error() string { return m.String() }

func (m interrupted) Is(target error) bool {
	_, ok := target.(interrupted)
	return ok
}

// waitInterrupted blocks until SIGINT/SIGTERM or ctx is canceled. The
// daemon's own shutdown path is driven by signalbridge inside the event
// loop; this is the CLI-level fallback for when the loop goroutine exits
// on its own (a backend error) before a signal arrives.
func waitInterrupted(ctx context.Context) error {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(ch)

	select {
	case v := <-ch:
		return interrupted{Signal: v}
	case <-ctx.Done():
		return ctx.Err()
	}
}
