package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/depmark/depmark/pkg/engine"
)

func newForbidVersionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "forbid-version <package> [version]",
		Short: "Forbid upgrading a package to a specific version",
		Long: `Forbid upgrading a package to a version.

Without an explicit version the current candidate is forbidden, which
reads as "skip this one upgrade": the package upgrades again as soon as
a different version becomes the candidate. Forbidding the version a
pending upgrade would install also cancels that upgrade.`,
		Example: `  # Skip the current candidate upgrade
  depmark forbid-version nginx

  # Forbid one specific version
  depmark forbid-version nginx 1.24.0-1`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, true, func(s *session) error {
				pkgs, err := s.resolvePackages(args[:1])
				if err != nil {
					return err
				}
				pkg := pkgs[0]

				version := ""
				if len(args) == 2 {
					version = args[1]
				} else {
					version = s.eng.Graph().VerStrOf(s.eng.Cache().State(pkg).Candidate)
					if version == "" {
						return fmt.Errorf("%s has no candidate version to forbid", args[0])
					}
				}

				var refused []string
				sum, err := s.transact(commandLine(cmd, args), nil, func(undo *engine.UndoGroup) error {
					if !s.eng.ForbidUpgrade(pkg, version, undo) {
						refused = append(refused, args[0])
					}
					return nil
				})
				if err != nil {
					return err
				}
				if len(refused) == 0 && !jsonOutput {
					fmt.Printf("forbidding %s version %s\n", args[0], version)
				}
				return reportMark(sum, refused)
			})
		},
	}

	return cmd
}
