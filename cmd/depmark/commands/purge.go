package commands

import (
	"github.com/spf13/cobra"

	"github.com/depmark/depmark/pkg/engine"
)

func newPurgeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge <package>...",
		Short: "Mark packages for removal including configuration",
		Long: `Mark packages for purge: removal including configuration files.

Purging also works on packages that are already removed but still have
configuration residue behind.`,
		Example: `  # Purge a package
  depmark purge nginx`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, true, func(s *session) error {
				pkgs, err := s.resolvePackages(args)
				if err != nil {
					return err
				}

				var refused []string
				sum, err := s.transact(commandLine(cmd, args), nil, func(undo *engine.UndoGroup) error {
					for i, pkg := range pkgs {
						if !s.eng.MarkDelete(pkg, true, false, undo) {
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
		},
	}

	return cmd
}
