package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/PranavPipariya/Godel/internal/defaults"
)

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init [dir]",
		Short: "Write a starter godel.yaml (default: current directory)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			return runInit(a.stdout, dir)
		},
	}
}

// runInit writes the bundled example configuration into dir. An
// existing godel.yaml is never overwritten.
func runInit(w io.Writer, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	path := filepath.Join(dir, "godel.yaml")
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(w, "  - %s already exists, left unchanged\n", path)
		return nil
	}
	// The config may hold API keys.
	if err := os.WriteFile(path, defaults.ConfigYAML, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(w, "  ✓ %s\n", path)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Edit godel.yaml to choose a model and approval policy.")
	return nil
}
