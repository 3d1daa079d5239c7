package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
)

// Exit codes for operational tooling.
const (
	exitOK          = 0
	exitConfig      = 1
	exitCoordDown   = 2
	exitDBDown      = 3
	exitRuntimeFail = 4
)

func main() {
	// Set up context with signal handling for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(exitCode(err))
	}
}

// exitCode maps a command failure onto the documented exit codes.
func exitCode(err error) int {
	switch {
	case errors.Is(err, errBadConfig):
		return exitConfig
	case errors.Is(err, errCoordUnreachable):
		return exitCoordDown
	case errors.Is(err, errDBUnreachable):
		return exitDBDown
	default:
		return exitRuntimeFail
	}
}
