package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/lanternlang/lantern/config"
	"github.com/lanternlang/lantern/payload"
	"github.com/lanternlang/lantern/standalone"
)

var (
	buildInputStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#98FB98"))
	buildOutputStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#87CEEB"))
	buildWarnStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFD700"))
)

var buildCmd = &cobra.Command{
	Use:   "build <program.wasm>",
	Short: "Build a standalone executable",
	Long: `Package a compiled program into a self-contained executable: a copy
of the lantern binary with the program (and any embedded files) appended
as a trailing payload. Running the result executes the program directly.`,
	Args: cobra.ExactArgs(1),
	RunE: runBuild,
}

func init() {
	buildCmd.Flags().StringP("output", "o", "", "Output path (default: input without extension)")
	buildCmd.Flags().StringSlice("embed", nil, "File or directory to embed (repeatable)")
	buildCmd.Flags().String("base", "", "Reference executable to patch (default: this binary)")
	rootCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, args []string) error {
	input := args[0]

	cfg, err := config.FindAndLoad(".")
	if err != nil {
		return err
	}

	output, _ := cmd.Flags().GetString("output")
	if output == "" {
		output = cfg.Build.Output
	}
	if output == "" {
		output = strings.TrimSuffix(input, filepath.Ext(input))
	}
	if output == input {
		return fmt.Errorf("output path cannot be the same as input path")
	}

	bytecode, err := os.ReadFile(input)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	embeds, _ := cmd.Flags().GetStringSlice("embed")
	embeds = append(embeds, cfg.EmbedPaths()...)
	files, err := collectEmbeds(embeds)
	if err != nil {
		return err
	}

	ref, err := readBase(cmd, cfg)
	if err != nil {
		return err
	}

	fmt.Printf("Compiling standalone binary from %s\n", buildInputStyle.Render(input))

	unit := &payload.Unit{
		Bytecode: bytecode,
		Files:    files,
		Source:   filepath.Base(input),
		Format:   payload.FormatWASM,
	}
	patched, err := payload.Patch(ref, unit)
	if err != nil {
		return err
	}

	fmt.Printf("Writing standalone binary to %s\n", buildOutputStyle.Render(output))
	if err := os.WriteFile(output, patched, 0o755); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

func readBase(cmd *cobra.Command, cfg *config.Config) ([]byte, error) {
	base, _ := cmd.Flags().GetString("base")
	if base == "" {
		base = cfg.Build.Base
	}
	if base == "" {
		return standalone.ReadSelfImage()
	}
	data, err := os.ReadFile(base)
	if err != nil {
		return nil, fmt.Errorf("read base executable: %w", err)
	}
	return data, nil
}

// collectEmbeds reads every named file, walking directories
// recursively. Keys are slash-separated paths as given, matching what
// the guest passes to file_read. Missing paths warn and are skipped.
func collectEmbeds(paths []string) (map[string][]byte, error) {
	if len(paths) == 0 {
		return nil, nil
	}

	files := make(map[string][]byte)
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: path %q does not exist or is not readable, skipping\n",
				buildWarnStyle.Render("Warning"), p)
			continue
		}

		if info.IsDir() {
			err := filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if d.IsDir() {
					return nil
				}
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				files[filepath.ToSlash(path)] = data
				return nil
			})
			if err != nil {
				return nil, fmt.Errorf("embed %s: %w", p, err)
			}
			continue
		}

		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("embed %s: %w", p, err)
		}
		files[filepath.ToSlash(p)] = data
	}
	return files, nil
}
