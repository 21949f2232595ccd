package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/xkilldash9x/tracepilot/cmd"
)

// main is the entry point for the tracepilot CLI.
func main() {
	// Listen for interrupt signals so long episodes shut down gracefully.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd.Execute(ctx)
}
