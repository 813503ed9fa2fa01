package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/depmark/depmark/pkg/engine"
	"github.com/depmark/depmark/pkg/history"
)

func newUndoCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "undo",
		Short: "Revert the most recent transaction",
		Long: `Revert the most recent transaction that has not itself been undone.

The inverse of every recorded package change is replayed through the
normal mutators, so protections and the orphan sweep still apply. The
undo is recorded as a transaction of its own and the original is marked
undone. Running undo repeatedly walks further back through the journal.`,
		Example: `  # Take back the last change
  depmark undo`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, true, func(s *session) error {
				store, err := s.journal()
				if err != nil {
					return err
				}

				orig, err := store.LatestActive(s.ctx)
				if err != nil {
					return err
				}
				changes, err := store.Changes(s.ctx, orig.ID)
				if err != nil {
					return err
				}

				var applied int
				sum, err := s.transact("undo "+orig.Command, &orig.ID, func(undo *engine.UndoGroup) error {
					applied = history.ApplyInverse(s.eng, changes, undo)
					return nil
				})
				if err != nil {
					return err
				}
				if err := store.MarkUndone(s.ctx, orig.ID); err != nil {
					return fmt.Errorf("marking transaction undone: %w", err)
				}

				if jsonOutput {
					return printJSON(struct {
						Transaction string `json:"transaction"`
						UndoneOf    string `json:"undone_of"`
						Command     string `json:"command"`
						Applied     int    `json:"applied"`
						Changed     int    `json:"changed"`
					}{
						Transaction: sum.ID.String(),
						UndoneOf:    orig.ID.String(),
						Command:     orig.Command,
						Applied:     applied,
						Changed:     sum.Changed,
					})
				}
				fmt.Printf("undid %q (%s): %d of %d change(s) reverted\n",
					orig.Command, shortID(orig.ID), applied, len(changes))
				return nil
			})
		},
	}

	return cmd
}
