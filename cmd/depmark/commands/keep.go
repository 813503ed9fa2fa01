package commands

import (
	"github.com/spf13/cobra"

	"github.com/depmark/depmark/pkg/engine"
)

func newKeepCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keep <package>...",
		Short: "Cancel pending actions on packages",
		Long: `Cancel pending actions and keep packages in their current state.

Keep is the neutral selection: a pending install or removal is dropped,
and a hold is released. Keeping a package that was cancelled out of an
install restores its previous auto-installed flag.`,
		Example: `  # Cancel whatever is scheduled for nginx
  depmark keep nginx`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeep(cmd, args, false)
		},
	}

	return cmd
}

func newHoldCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hold <package>...",
		Short: "Hold packages at their current version",
		Long: `Hold packages at their current version.

A held package is skipped by upgrade until the hold is released with
unhold or keep. The hold survives restarts through the state file.`,
		Example: `  # Pin the kernel image
  depmark hold linux-image-amd64`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeep(cmd, args, true)
		},
	}

	return cmd
}

func newUnholdCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unhold <package>...",
		Short: "Release held packages",
		Long: `Release held packages so upgrades consider them again.

Unholding does not schedule anything by itself; run upgrade afterwards
to pick up the versions that were held back.`,
		Example: `  # Let the kernel upgrade again
  depmark unhold linux-image-amd64`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeep(cmd, args, false)
		},
	}

	return cmd
}

// runKeep is the shared body of keep, hold and unhold; they differ only
// in whether the resulting selection is sticky-held.
func runKeep(cmd *cobra.Command, args []string, setHold bool) error {
	return withEngine(cmd, true, func(s *session) error {
		pkgs, err := s.resolvePackages(args)
		if err != nil {
			return err
		}

		var refused []string
		sum, err := s.transact(commandLine(cmd, args), nil, func(undo *engine.UndoGroup) error {
			for i, pkg := range pkgs {
				if !s.eng.MarkKeep(pkg, false, setHold, undo) {
					refused = append(refused, args[i])
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		return reportMark(sum, refused)
	})
}
