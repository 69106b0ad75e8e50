package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/openfroyo/cloudplan/cmd/cloudplan/commands"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	// Create context that cancels on interrupt signals
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The first signal cancels the run; in-flight provider calls finish and
	// their results are recorded. A second signal exits immediately.
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "Received interrupt signal, waiting for in-flight operations...")
		cancel()
		<-sigChan
		os.Exit(commands.ExitCancelled)
	}()

	code := commands.Execute(ctx, os.Args[1:], Version, Commit, BuildDate)
	cancel()
	os.Exit(code)
}
