package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/lanternlang/lantern/payload"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <binary>",
	Short: "Inspect the payload of a standalone binary",
	Long: `Show what a standalone binary carries: the program's source label,
bytecode format and size, and any embedded files. Interactive unless
stdout is not a terminal or --plain is given.`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().Bool("plain", false, "Plain text output, no TUI")
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	image, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read binary: %w", err)
	}

	unit, err := payload.Scan(image)
	if err != nil {
		return err
	}
	if unit == nil {
		fmt.Printf("%s carries no payload\n", args[0])
		return nil
	}

	report := renderUnit(args[0], len(image), unit)

	plain, _ := cmd.Flags().GetBool("plain")
	if plain || !term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Print(report)
		return nil
	}

	p := tea.NewProgram(newInspectModel(args[0], report), tea.WithAltScreen())
	_, err = p.Run()
	return err
}

func renderUnit(path string, imageSize int, unit *payload.Unit) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Payload of %s (%d bytes on disk)\n\n", path, imageSize)
	fmt.Fprintf(&b, "  source:   %s\n", unit.Source)
	fmt.Fprintf(&b, "  format:   %s\n", formatName(unit.Format))
	fmt.Fprintf(&b, "  bytecode: %d bytes\n", len(unit.Bytecode))

	if len(unit.Files) == 0 {
		fmt.Fprintf(&b, "  files:    none\n")
		return b.String()
	}

	names := make([]string, 0, len(unit.Files))
	for name := range unit.Files {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintf(&b, "  files:    %d embedded\n", len(names))
	for _, name := range names {
		fmt.Fprintf(&b, "    %s (%d bytes)\n", name, len(unit.Files[name]))
	}
	return b.String()
}

func formatName(format uint32) string {
	switch format {
	case payload.FormatWASM:
		return "wasm"
	default:
		return fmt.Sprintf("unknown (%d)", format)
	}
}
