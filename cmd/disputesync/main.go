package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/disputehq/disputesync/cmd"
	"github.com/disputehq/disputesync/internal/observability"
)

func main() {
	// Listen for interrupt signals so a harvest in flight can tear the
	// browser and database pool down cleanly.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := cmd.Execute(ctx)
	observability.Sync()
	if err != nil {
		os.Exit(1)
	}
}
