package commands

import (
	"github.com/spf13/cobra"

	"github.com/depmark/depmark/pkg/engine"
)

func newInstallCommand() *cobra.Command {
	var (
		noDeps    bool
		reinstall bool
	)

	cmd := &cobra.Command{
		Use:   "install <package>...",
		Short: "Mark packages for installation",
		Long: `Mark packages for installation or upgrade.

Unsatisfied hard dependencies of the candidate version are pulled in
automatically and flagged auto-installed, so they are reclaimed by the
orphan sweep once nothing needs them anymore. A package already at its
candidate version is left alone.`,
		Example: `  # Install a package with its dependencies
  depmark install nginx

  # Install a specific architecture
  depmark install libfoo:i386

  # Install without dependency expansion
  depmark install --no-deps nginx

  # Schedule a reinstall of the current version
  depmark install --reinstall libfoo`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, true, func(s *session) error {
				pkgs, err := s.resolvePackages(args)
				if err != nil {
					return err
				}

				autoInst := s.cfg.Sweep.AutoInstall && !noDeps
				var refused []string
				sum, err := s.transact(commandLine(cmd, args), nil, func(undo *engine.UndoGroup) error {
					for i, pkg := range pkgs {
						if !s.eng.MarkInstall(pkg, autoInst, reinstall, undo) {
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

	cmd.Flags().BoolVar(&noDeps, "no-deps", false, "do not pull in dependencies")
	cmd.Flags().BoolVar(&reinstall, "reinstall", false, "reinstall the current version")

	return cmd
}
