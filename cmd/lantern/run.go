package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lanternlang/lantern/config"
	"github.com/lanternlang/lantern/payload"
	"github.com/lanternlang/lantern/runtime"
)

var runCmd = &cobra.Command{
	Use:   "run <program.wasm> [args...]",
	Short: "Run a compiled program",
	Long: `Execute a compiled WebAssembly program directly, without packaging
it into a standalone binary first. Arguments after the program path are
passed through to the guest.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read program: %w", err)
	}

	unit := &payload.Unit{
		Bytecode: data,
		Format:   payload.FormatWASM,
		Source:   filepath.Base(args[0]),
	}

	cfg, err := config.FindAndLoad(".")
	if err != nil {
		return err
	}

	status, runErr := execute(cmd.Context(), cfg, unit, args[1:])
	if runErr != nil && status != runtime.StatusSuccess {
		fmt.Fprintf(os.Stderr, "lantern: %v\n", runErr)
	}
	os.Exit(status.Code())
	return nil
}
