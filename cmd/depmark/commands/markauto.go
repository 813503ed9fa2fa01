package commands

import (
	"github.com/spf13/cobra"

	"github.com/depmark/depmark/pkg/engine"
)

func newMarkAutoCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "markauto <package>...",
		Short: "Mark packages as automatically installed",
		Long: `Mark packages as automatically installed.

An automatically installed package is treated as a dependency: the
orphan sweep schedules it for removal as soon as nothing installed
depends on it. Marking a package auto can therefore remove it in the
same transaction.`,
		Example: `  # Hand libfoo over to the orphan sweep
  depmark markauto libfoo`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMarkAuto(cmd, args, true)
		},
	}

	return cmd
}

func newUnmarkAutoCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unmarkauto <package>...",
		Short: "Mark packages as manually installed",
		Long: `Mark packages as manually installed.

A manual package is a reachability root: the sweep never reclaims it,
and everything it depends on stays installed. Unmarking also cancels a
pending unused-removal of the package in the same transaction.`,
		Example: `  # Keep libfoo even when nothing depends on it
  depmark unmarkauto libfoo`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMarkAuto(cmd, args, false)
		},
	}

	return cmd
}

func runMarkAuto(cmd *cobra.Command, args []string, auto bool) error {
	return withEngine(cmd, true, func(s *session) error {
		pkgs, err := s.resolvePackages(args)
		if err != nil {
			return err
		}

		var refused []string
		sum, err := s.transact(commandLine(cmd, args), nil, func(undo *engine.UndoGroup) error {
			for i, pkg := range pkgs {
				if !s.eng.MarkAuto(pkg, auto, undo) {
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
