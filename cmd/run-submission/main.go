// Package main implements run-submission, the long-running process that
// admits work items into asynchronous batches without exceeding the
// configured capacity ceiling.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/phrazzld/batchflow/internal/app"
	"github.com/phrazzld/batchflow/internal/config"
	"github.com/phrazzld/batchflow/internal/platform/logger"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := pflag.NewFlagSet("run-submission", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	rebuild := fs.Bool("rebuild-catalog", false, "discard the stored catalog and cursor and build a new catalog")
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

	log, closeLog, err := logger.Setup(cfg.Log, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logger: %v\n", err)
		return app.ExitConfig
	}
	defer func() { _ = closeLog() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithLogger(ctx, log)
	ctx = logger.WithRunID(ctx, uuid.NewString())

	sum, err := app.RunSubmission(ctx, cfg, app.SubmissionOptions{RebuildCatalog: *rebuild})
	code := app.ExitCode(err)
	switch code {
	case app.ExitOK:
		logger.FromContext(ctx).Info("run-submission finished",
			slog.String("phase", string(sum.Phase)),
			slog.Int("iterations", sum.Iterations),
			slog.Int("batches_submitted", sum.Submitted),
			slog.Int("items_skipped", sum.Skipped))
	default:
		logger.FromContext(ctx).Error("run-submission failed",
			slog.String("error", err.Error()),
			slog.String("error_log", cfg.Log.ErrorLog),
			slog.Int("exit_code", code))
	}
	return code
}
