package commands

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/depmark/depmark/pkg/history"
)

// shortID is the abbreviated transaction id used in human output. The
// journal always works with full UUIDs.
func shortID(id uuid.UUID) string {
	return id.String()[:8]
}

func newHistoryCommand() *cobra.Command {
	var (
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "history [transaction-id]",
		Short: "Show the transaction journal",
		Long: `Show the transaction journal.

Without arguments the most recent transactions are listed, newest
first. With a transaction id the per-package changes of that
transaction are shown.`,
		Example: `  # The last twenty transactions
  depmark history

  # Page further back
  depmark history --limit 50 --offset 20

  # One transaction in detail
  depmark history 6f1b2c3d-0000-4000-8000-000000000000`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			if err := s.openJournal(); err != nil {
				return err
			}
			store, err := s.journal()
			if err != nil {
				return err
			}

			if len(args) == 1 {
				return showTransaction(s, store, args[0])
			}
			return listTransactions(s, store, limit, offset)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of transactions to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of transactions to skip")

	return cmd
}

func listTransactions(s *session, store history.Store, limit, offset int) error {
	txs, err := store.List(s.ctx, limit, offset)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(txs)
	}
	if len(txs) == 0 {
		fmt.Println("journal is empty")
		return nil
	}
	for _, tx := range txs {
		note := ""
		switch {
		case tx.Undone:
			note = " (undone)"
		case tx.UndoneOf != nil:
			note = fmt.Sprintf(" (undo of %s)", shortID(*tx.UndoneOf))
		}
		fmt.Printf("%s  %s  %-30s %3d change(s)%s\n",
			shortID(tx.ID),
			tx.StartedAt.Format("2006-01-02 15:04:05"),
			tx.Command,
			tx.ChangeCount,
			note)
	}
	return nil
}

func showTransaction(s *session, store history.Store, arg string) error {
	id, err := uuid.Parse(arg)
	if err != nil {
		return fmt.Errorf("invalid transaction id %q: %w", arg, err)
	}

	tx, err := store.Get(s.ctx, id)
	if err != nil {
		return err
	}
	changes, err := store.Changes(s.ctx, id)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(struct {
			Transaction *history.Transaction     `json:"transaction"`
			Changes     []*history.PackageChange `json:"changes"`
		}{tx, changes})
	}

	fmt.Printf("Transaction: %s\n", tx.ID)
	fmt.Printf("Command:     %s\n", tx.Command)
	fmt.Printf("Started:     %s\n", tx.StartedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Finished:    %s\n", tx.FinishedAt.Format("2006-01-02 15:04:05"))
	if tx.Undone {
		fmt.Println("Undone:      yes")
	}
	if tx.UndoneOf != nil {
		fmt.Printf("Undo of:     %s\n", *tx.UndoneOf)
	}
	fmt.Printf("Changes:     %d\n", len(changes))
	for _, ch := range changes {
		name := ch.Package
		if ch.Architecture != "" {
			name += ":" + ch.Architecture
		}
		fmt.Printf("  %-30s %s -> %s\n", name,
			changeSide(ch.OldSelection, ch.OldVersion, ch.OldAuto),
			changeSide(ch.NewSelection, ch.NewVersion, ch.NewAuto))
	}
	return nil
}

// changeSide renders one column of a journal row, e.g. "install 1.24.0 (auto)".
func changeSide(selection, version string, auto bool) string {
	s := selection
	if version != "" {
		s += " " + version
	}
	if auto {
		s += " (auto)"
	}
	return s
}
