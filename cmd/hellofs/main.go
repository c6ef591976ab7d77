// hellofs mounts a read-only filesystem holding a single file,
// hello.txt, whose content is "Hello world!\n".
//
// Usage:
//
//	hellofs [flags] <mountpoint>
//
// The mount stays up until the process receives SIGINT or SIGTERM or
// the filesystem is unmounted externally (fusermount -u).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/KarpelesLab/hellofs"
	"github.com/KarpelesLab/hellofs/config"
	"github.com/KarpelesLab/hellofs/gofuse"
)

var version = "dev"

// Exit codes for each stage that can fail.
const (
	exitUsage      = 1
	exitMountpoint = 2
	exitMount      = 3
	exitServe      = 5
)

type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }
func (e *exitError) ExitCode() int { return e.code }

func fail(code int, format string, args ...any) error {
	return &exitError{code: code, err: fmt.Errorf(format, args...)}
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "hellofs: %v\n", err)
		var coder interface{ ExitCode() int }
		if errors.As(err, &coder) {
			os.Exit(coder.ExitCode())
		}
		os.Exit(exitUsage)
	}
}

func run(args []string) error {
	var (
		configPath  string
		mountpoint  string
		backend     string
		debug       bool
		allowOther  bool
		readers     int
		showVersion bool
	)

	flagSet := pflag.NewFlagSet("hellofs", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to YAML config file (default: $"+config.EnvVar+")")
	flagSet.StringVar(&mountpoint, "mountpoint", "", "directory to mount on (or first argument)")
	flagSet.StringVar(&backend, "backend", "", "FUSE transport: native or gofuse")
	flagSet.BoolVarP(&debug, "debug", "d", false, "log every request and reply")
	flagSet.BoolVar(&allowOther, "allow-other", false, "let other users access the mount")
	flagSet.IntVar(&readers, "readers", 0, "number of /dev/fuse readers for the native backend")
	flagSet.BoolVar(&showVersion, "version", false, "print version and exit")
	flagSet.SetOutput(os.Stderr)
	flagSet.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: hellofs [flags] <mountpoint>\n\nFlags:\n")
		flagSet.PrintDefaults()
	}

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return fail(exitUsage, "%w", err)
	}

	if showVersion {
		fmt.Printf("hellofs %s\n", version)
		return nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fail(exitUsage, "%w", err)
	}

	// Flags override the config file.
	if flagSet.Changed("mountpoint") {
		cfg.Mountpoint = mountpoint
	}
	if flagSet.Changed("backend") {
		cfg.Backend = config.Backend(backend)
	}
	if flagSet.Changed("debug") {
		cfg.Debug = debug
	}
	if flagSet.Changed("allow-other") {
		cfg.AllowOther = allowOther
	}
	if flagSet.Changed("readers") {
		cfg.Readers = readers
	}

	positional := flagSet.Args()
	if len(positional) > 1 {
		return fail(exitUsage, "unexpected argument: %s", positional[1])
	}
	if len(positional) == 1 {
		cfg.Mountpoint = positional[0]
	}

	if cfg.Debug {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return fail(exitUsage, "invalid configuration: %w", err)
	}
	if cfg.Mountpoint == "" {
		flagSet.Usage()
		return fail(exitMountpoint, "no mountpoint given")
	}

	logger, err := cfg.Log.NewLogger(os.Stderr)
	if err != nil {
		return fail(exitUsage, "%w", err)
	}

	ns, err := cfg.Namespace()
	if err != nil {
		return fail(exitUsage, "%w", err)
	}
	fs := hellofs.NewHelloFS(ns)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cfg.Backend {
	case config.BackendGoFuse:
		return serveGoFuse(ctx, cfg, fs, logger)
	default:
		return serveNative(ctx, cfg, fs, logger)
	}
}

func serveNative(ctx context.Context, cfg *config.Config, fs hellofs.Filesystem, logger *slog.Logger) error {
	server, err := hellofs.Mount(cfg.Mountpoint, fs, &hellofs.MountOptions{
		Debug:       cfg.Debug,
		DirectMount: cfg.DirectMount,
		AllowOther:  cfg.AllowOther,
		FSName:      cfg.FSName,
		Subtype:     cfg.Subtype,
		Readers:     cfg.Readers,
		Logger:      logger,
	})
	if err != nil {
		return fail(exitMount, "mounting %s: %w", cfg.Mountpoint, err)
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down", "mountpoint", cfg.Mountpoint)
		if err := server.Unmount(); err != nil {
			logger.Error("unmount failed", "mountpoint", cfg.Mountpoint, "error", err)
			return fail(exitServe, "unmounting %s: %w", cfg.Mountpoint, err)
		}
		err = <-serveErr
	case err = <-serveErr:
	}

	if err != nil && !errors.Is(err, hellofs.ErrServerClosed) {
		return fail(exitServe, "serving %s: %w", cfg.Mountpoint, err)
	}
	return nil
}

func serveGoFuse(ctx context.Context, cfg *config.Config, fs hellofs.Filesystem, logger *slog.Logger) error {
	server, err := gofuse.Mount(cfg.Mountpoint, fs, gofuse.Options{
		FSName:      cfg.FSName,
		Subtype:     cfg.Subtype,
		AllowOther:  cfg.AllowOther,
		DirectMount: cfg.DirectMount,
		Debug:       cfg.Debug,
		Logger:      logger,
	})
	if err != nil {
		return fail(exitMount, "%w", err)
	}

	done := make(chan struct{})
	go func() {
		server.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down", "mountpoint", cfg.Mountpoint)
		if err := server.Unmount(); err != nil {
			logger.Error("unmount failed", "mountpoint", cfg.Mountpoint, "error", err)
			return fail(exitServe, "unmounting %s: %w", cfg.Mountpoint, err)
		}
		<-done
	case <-done:
	}
	return nil
}
