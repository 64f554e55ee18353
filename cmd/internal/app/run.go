package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Run is the CLI entrypoint used by cmd/checkinctl.
// It returns an error instead of calling os.Exit to keep defers effective; ExitCode maps it.
func Run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return Main(ctx, os.Args[1:], Streams{In: os.Stdin, Out: os.Stdout, Err: os.Stderr})
}

// Main parses global flags, loads config and runs one command.
func Main(ctx context.Context, args []string, streams Streams) error {
	fs := flag.NewFlagSet("checkinctl", flag.ContinueOnError)
	fs.SetOutput(streams.Err)
	fs.Usage = func() { printUsage(streams.Err) }
	configPath := fs.String("config", "", "YAML config file (default $CHECKIN_CONFIG)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return usagef("%v", err)
	}
	if fs.NArg() == 0 {
		printUsage(streams.Err)
		return usagef("missing command")
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		_, _ = fmt.Fprintf(streams.Err, "error: %v\n", err)
		return err
	}
	log := NewLogger(streams.Err, cfg.LogLevel, cfg.LogFormat)

	a, err := New(ctx, cfg, log, streams)
	if err != nil {
		log.Error("app.init.fail", "err", err)
		_, _ = fmt.Fprintf(streams.Err, "error: %v\n", err)
		return err
	}
	defer func() { _ = a.Close(context.WithoutCancel(ctx)) }()

	err = a.dispatch(ctx, fs.Args())
	var ue *usageError
	if errors.As(err, &ue) {
		_, _ = fmt.Fprintf(streams.Err, "checkinctl: %s\n", ue.msg)
		printUsage(streams.Err)
	}
	return err
}
