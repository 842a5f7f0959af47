// ./main.go
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/xkilldash9x/bugsync/cmd"
	"github.com/xkilldash9x/bugsync/internal/observability"
)

// main is the entry point for the bugsync CLI application.
func main() {
	// Set up a context that listens for interrupt signals (SIGINT, SIGTERM) for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := cmd.Execute(ctx)
	stop()
	observability.Sync()

	if err != nil {
		// cmd.Execute handles the logging, we just handle the exit code.
		if errors.Is(err, context.Canceled) {
			os.Exit(0)
		}
		os.Exit(1)
	}
}
