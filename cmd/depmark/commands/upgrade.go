package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/depmark/depmark/pkg/engine"
)

func newUpgradeCommand() *cobra.Command {
	var (
		noDeps        bool
		ignoreRemoved bool
	)

	cmd := &cobra.Command{
		Use:   "upgrade",
		Short: "Mark every upgradable package for upgrade",
		Long: `Mark every upgradable package for upgrade.

Held packages, packages with a forbidden candidate and broken packages
are skipped. New dependencies of the upgraded versions are pulled in
and flagged auto-installed.`,
		Example: `  # Schedule all pending upgrades
  depmark upgrade

  # Also upgrade packages currently marked for removal
  depmark upgrade --ignore-removed=false`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, true, func(s *session) error {
				upgradable := len(s.eng.GetUpgradable(ignoreRemoved))

				autoInst := s.cfg.Sweep.AutoInstall && !noDeps
				var refused []string
				sum, err := s.transact(commandLine(cmd, args), nil, func(undo *engine.UndoGroup) error {
					if !s.eng.MarkAllUpgradable(autoInst, ignoreRemoved, undo) {
						refused = append(refused, "upgrade")
					}
					return nil
				})
				if err != nil {
					return err
				}
				if !jsonOutput {
					fmt.Printf("%d package(s) upgradable\n", upgradable)
				}
				return reportMark(sum, refused)
			})
		},
	}

	cmd.Flags().BoolVar(&noDeps, "no-deps", false, "do not pull in new dependencies")
	cmd.Flags().BoolVar(&ignoreRemoved, "ignore-removed", true, "leave packages marked for removal alone")

	return cmd
}

func newForgetNewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "forget-new [package]...",
		Short: "Clear the new flag",
		Long: `Clear the "new" flag from packages.

Packages appearing in the universe for the first time carry a new flag
until it is cleared. Without arguments every new flag is cleared.`,
		Example: `  # Acknowledge all new packages
  depmark forget-new

  # Acknowledge one
  depmark forget-new nginx`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, true, func(s *session) error {
				pkgs, err := s.resolvePackages(args)
				if err != nil {
					return err
				}

				before := s.eng.NewPackageCount()
				var refused []string
				sum, err := s.transact(commandLine(cmd, args), nil, func(undo *engine.UndoGroup) error {
					if !s.eng.ForgetNew(undo, pkgs...) {
						refused = append(refused, "forget-new")
					}
					return nil
				})
				if err != nil {
					return err
				}
				if !jsonOutput {
					fmt.Printf("forgot %d new package(s)\n", before-s.eng.NewPackageCount())
				}
				return reportMark(sum, refused)
			})
		},
	}

	return cmd
}
