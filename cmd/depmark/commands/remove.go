package commands

import (
	"github.com/spf13/cobra"

	"github.com/depmark/depmark/pkg/engine"
)

func newRemoveCommand() *cobra.Command {
	var purge bool

	cmd := &cobra.Command{
		Use:   "remove <package>...",
		Short: "Mark packages for removal",
		Long: `Mark installed packages for removal.

Dependencies that were auto-installed for the removed packages become
orphans and are picked up by the sweep in the same transaction, so one
remove usually cascades into its whole private dependency tree.
Packages protected by policy or needed by something else stay put.`,
		Example: `  # Remove a package
  depmark remove nginx

  # Remove and drop configuration files
  depmark remove --purge nginx`,
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
						if !s.eng.MarkDelete(pkg, purge, false, undo) {
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

	cmd.Flags().BoolVar(&purge, "purge", false, "also remove configuration files")

	return cmd
}
