package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lanternlang/lantern/config"
	"github.com/lanternlang/lantern/payload"
	"github.com/lanternlang/lantern/runtime"
	"github.com/lanternlang/lantern/standalone"
)

func main() {
	// The standalone check runs before any CLI parsing: a patched
	// binary is the program it carries, and its arguments belong to
	// the guest, not to lantern.
	mode, unit, err := standalone.Check(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lantern: damaged standalone payload: %v\n", err)
		os.Exit(runtime.StatusCorrupt.Code())
	}
	if mode == standalone.ModeEmbedded {
		os.Exit(runEmbedded(unit))
	}

	Execute()
}

func runEmbedded(unit *payload.Unit) int {
	cfg, err := config.FindAndLoad(".")
	if err != nil {
		cfg = config.Default()
	}

	status, runErr := execute(context.Background(), cfg, unit, os.Args[1:])
	if runErr != nil && status != runtime.StatusSuccess {
		fmt.Fprintf(os.Stderr, "lantern: %v\n", runErr)
	}
	return status.Code()
}

// execute runs one unit under a fresh runtime, with an interrupt
// translating into cooperative cancellation of the task tree.
func execute(ctx context.Context, cfg *config.Config, unit *payload.Unit, args []string) (runtime.Status, error) {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := runtime.New(ctx, runtime.Config{
		Granularity:      cfg.Granularity(),
		MaxTasks:         cfg.Runtime.MaxTasks,
		MemoryLimitPages: cfg.Runtime.MemoryLimitPages,
		Args:             args,
	})
	if err != nil {
		return runtime.StatusFailure, err
	}
	defer rt.Close(context.Background())

	return rt.Run(ctx, unit)
}
