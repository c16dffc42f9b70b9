// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Command workoutsync is the command-line client for the offline-first
// workout log. It also hosts a development sync server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
