package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	lantern "github.com/lanternlang/lantern"
	"github.com/lanternlang/lantern/engine"
	"github.com/lanternlang/lantern/reactor"
	"github.com/lanternlang/lantern/runtime"
	"github.com/lanternlang/lantern/sched"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "lantern",
	Short: "Standalone WebAssembly script runtime",
	Long: `lantern - Run WebAssembly programs with cooperative scheduling,
and package them into self-contained standalone executables.

A binary built with "lantern build" carries its program in a trailing
payload and runs it directly; the CLI only appears in unpatched builds.`,
	Version:       lantern.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return wireLogging()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
}

// wireLogging hands a real zap logger to every package hook. Without
// --verbose the packages keep their no-op default.
func wireLogging() error {
	if !verbose {
		return nil
	}

	zcfg := zap.NewDevelopmentConfig()
	zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	logger, err := zcfg.Build()
	if err != nil {
		return err
	}

	reactor.SetLogger(logger.Named("reactor"))
	sched.SetLogger(logger.Named("sched"))
	engine.SetLogger(logger.Named("engine"))
	runtime.SetLogger(logger.Named("runtime"))
	return nil
}
