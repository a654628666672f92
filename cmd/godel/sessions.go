package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/PranavPipariya/Godel/internal/persistence"
)

func newSessionsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List saved sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(store *persistence.Store) error {
				list, err := store.ListSessions()
				if err != nil {
					return err
				}
				renderSessions(a.stdout, list, time.Now())
				return nil
			})
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "checkpoints [session_id]",
			Short: "List checkpoints, optionally of one session",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				var sessionID string
				if len(args) == 1 {
					sessionID = args[0]
				}
				return a.withStore(func(store *persistence.Store) error {
					list, err := store.ListCheckpoints(sessionID)
					if err != nil {
						return err
					}
					renderCheckpoints(a.stdout, list, time.Now())
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "delete <session_id>",
			Short: "Delete a saved session and its checkpoints",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withStore(func(store *persistence.Store) error {
					err := store.DeleteSession(args[0])
					if errors.Is(err, persistence.ErrNotFound) {
						return fmt.Errorf("session %s does not exist", args[0])
					}
					if err != nil {
						return err
					}
					fmt.Fprintf(a.stdout, "Deleted session %s\n", args[0])
					return nil
				})
			},
		},
		newPruneCmd(a),
	)
	return cmd
}

func newPruneCmd(a *app) *cobra.Command {
	var keep int
	cmd := &cobra.Command{
		Use:   "prune <session_id>",
		Short: "Delete all but the newest checkpoints of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if keep < 0 {
				return fmt.Errorf("--keep must not be negative")
			}
			return a.withStore(func(store *persistence.Store) error {
				n, err := store.PruneCheckpoints(args[0], keep)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.stdout, "Removed %d checkpoint(s)\n", n)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&keep, "keep", 5, "number of checkpoints to keep")
	return cmd
}

// withStore loads the configuration and runs fn against the session
// database.
func (a *app) withStore(fn func(*persistence.Store) error) error {
	if err := a.load(); err != nil {
		return err
	}
	defer a.close()
	store, err := a.openStore()
	if err != nil {
		return err
	}
	return fn(store)
}
