// Package main is the entry point for the jiractl CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"jiractl/cmd"
	"jiractl/internal/logging"
)

// main wires interrupt signals into the command context. Bulk commands
// stop between items on Ctrl-C and report what they already finished.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil {
		logging.Debug("command failed", "error", err)
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
