package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"despesas-etl/internal/app"
	"despesas-etl/internal/logging"
)

// main is the entry point for the despesas-etl application.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	runner := app.NewAppRunner()
	err := runner.Run(ctx, os.Args[1:])
	stop()
	if err != nil {
		// Print usage to stderr before logging for argument problems.
		if errors.Is(err, app.ErrUsage) || errors.Is(err, app.ErrConfigNotFound) || errors.Is(err, app.ErrMissingArgs) {
			fmt.Fprintln(os.Stderr, "")
			runner.Usage(os.Stderr)
		}

		// The failure must be visible even with -loglevel=none.
		if logging.GetLevel() < logging.Error {
			logging.SetLevel(logging.Error)
		}
		logging.Logf(logging.Error, "Application execution failed: %v", err)
		os.Exit(1)
	}

	logging.Logf(logging.Info, "Despesas ETL completed successfully.")
}
