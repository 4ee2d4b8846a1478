// Package main implements run-reconciliation, a single pass that merges the
// output of finished batches into the result store.
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

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/phrazzld/batchflow/internal/app"
	"github.com/phrazzld/batchflow/internal/config"
	"github.com/phrazzld/batchflow/internal/platform/logger"
	"github.com/phrazzld/batchflow/internal/reconcile"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, out io.Writer) int {
	fs := pflag.NewFlagSet("run-reconciliation", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return app.ExitOK
		}
		return app.ExitConfig
	}

	cfg, err := config.Load(fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return app.ExitConfig
	}

	log, closeLog, err := logger.Setup(cfg.Log, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logger: %v\n", err)
		return app.ExitConfig
	}
	defer func() { _ = closeLog() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithLogger(ctx, log)
	ctx = logger.WithRunID(ctx, uuid.NewString())

	rep, err := app.RunReconciliation(ctx, cfg)
	code := app.ExitCode(err)
	if code != app.ExitOK {
		logger.FromContext(ctx).Error("run-reconciliation failed",
			slog.String("error", err.Error()),
			slog.String("error_log", cfg.Log.ErrorLog),
			slog.Int("exit_code", code))
		return code
	}
	if err := printReport(out, rep); err != nil {
		logger.FromContext(ctx).Error("failed to print report", slog.String("error", err.Error()))
		return app.ExitFailure
	}
	return code
}

func printReport(w io.Writer, rep reconcile.Report) error {
	if rep.NoState {
		_, err := fmt.Fprintln(w, "No submission state found; nothing to reconcile.")
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}
