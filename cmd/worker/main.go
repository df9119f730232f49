// Package main implements the sqlqueue command: it drains queues, submits
// tasks, reconciles stuck tasks, applies migrations and exposes the task log
// to operators. It is meant to be invoked by an external scheduler; no
// subcommand runs forever.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/phrazzld/sqlqueue/internal/config"
	"github.com/phrazzld/sqlqueue/internal/platform/logger"
)

// Exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

const usage = `usage: sqlqueue <command> [flags]

commands:
  run       drain queues and print a JSON report
  enqueue   submit one task
  stuck     list, requeue or force-fail stuck tasks
  migrate   apply migrations and define queue tables
  tasks     list, inspect, archive or count a user's tasks

run "sqlqueue <command> --help" for the command's flags.
`

type command func(ctx context.Context, app *application, flags *pflag.FlagSet, stdout io.Writer) error

type commandSpec struct {
	defineFlags func(flags *pflag.FlagSet)
	run         command
}

var commands = map[string]commandSpec{
	"run":     {defineFlags: runFlags, run: runCommand},
	"enqueue": {defineFlags: enqueueFlags, run: enqueueCommand},
	"stuck":   {defineFlags: stuckFlags, run: stuckCommand},
	"migrate": {defineFlags: func(*pflag.FlagSet) {}, run: migrateCommand},
	"tasks":   {defineFlags: tasksFlags, run: tasksCommand},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// execute runs one subcommand and returns the process exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		_, _ = fmt.Fprint(stderr, usage)
		if len(args) == 0 {
			return exitUsage
		}
		return exitOK
	}

	name := args[0]
	spec, ok := commands[name]
	if !ok {
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n%s", name, usage)
		return exitUsage
	}

	flags := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flags.SetOutput(stderr)
	configFile := flags.String("config", "", "YAML config file")
	envFile := flags.String("env-file", ".env", "env file loaded before reading the environment")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("database-driver", config.DriverSQLite, "database driver (sqlite, postgres)")
	flags.String("database-url", "", "database URL or SQLite DSN")
	flags.String("redis-addr", "", "redis address for redis-backed queues")
	spec.defineFlags(flags)

	if err := flags.Parse(args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	cfg, err := config.Load(config.Options{
		File:     *configFile,
		EnvFiles: []string{*envFile},
		Flags:    flags,
	})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "failed to load configuration: %v\n", err)
		return exitFailure
	}

	log := logger.Setup(logger.Config{Level: cfg.Log.Level, Output: stderr})
	ctx = logger.WithLogger(ctx, log)

	app, err := newApplication(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize application", slog.String("error", err.Error()))
		return exitFailure
	}
	defer app.cleanup()

	if err := spec.run(ctx, app, flags, stdout); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			return exitErr.code
		}
		log.Error("command failed",
			slog.String("command", name),
			slog.String("error", err.Error()))
		return exitFailure
	}
	return exitOK
}

// exitError ends a command with a specific exit code after its output has
// already been written.
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
