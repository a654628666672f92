// Godel is a coding agent for the terminal.
//
// With a prompt it runs a single turn and exits; without one it starts
// an interactive session. Configuration is loaded from a single YAML
// file discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	godel [prompt]            Run one turn, or start the interactive session
//	godel serve               Start the WebSocket chat bridge
//	godel sessions            List saved sessions
//	godel init [dir]          Write a starter godel.yaml
//	godel version             Print version and build information
//	godel version -o json     Output version information as JSON
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/PranavPipariya/Godel/internal/approval"
	"github.com/PranavPipariya/Godel/internal/buildinfo"
)

// main constructs the OS-level environment and delegates to [run], so
// the whole command can be driven from tests.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		stop()
		os.Exit(1)
	}
}

// run is the real entry point. Interrupts are handled by the commands
// themselves: they cancel a turn rather than the process.
func run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) error {
	root := newRootCmd(newApp(stdin, stdout, stderr))
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "godel [prompt]",
		Short: "Godel - a coding agent for the terminal",
		Long: "Godel reads, edits and runs code in a working directory on your behalf.\n" +
			"Give it a prompt to run a single turn, or start it without one for an interactive session.",
		Version:       buildinfo.Version,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(); err != nil {
				return err
			}
			defer a.close()

			if len(args) == 1 {
				return a.runOnce(cmd.Context(), args[0])
			}
			return a.runREPL(cmd.Context())
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&a.opts.configPath, "config", "", "path to config file (default: auto-discover)")
	f.StringVarP(&a.opts.cwd, "cwd", "c", "", "working directory for the agent")
	f.StringVar(&a.opts.approval, "approval", "", fmt.Sprintf("approval policy %v", approval.Policies))
	f.StringVar(&a.opts.model, "model", "", "model name")

	root.AddCommand(
		newServeCmd(a),
		newSessionsCmd(a),
		newVersionCmd(a),
		newInitCmd(a),
	)
	return root
}
