package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
	readOnly   bool

	// buildVersion is stamped into telemetry as the service version.
	buildVersion string
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	buildVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "depmark",
		Short: "depmark - package selection tracking and orphan reclamation",
		Long: `depmark tracks package selection states as a sticky overlay on the
installer database: what should be installed, removed, held back, and
which packages were only pulled in to satisfy a dependency. Orphaned
dependencies are reclaimed the moment nothing needs them.

Features:
  - Sticky selections layered over the installer database
  - Automatic orphan sweep with auto-installed tracking
  - Policy-based sweep protection via Rego rules
  - Transaction journal with undo
  - Starlark batch scripting
  - Overlay sync to fleet hosts over SSH`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&readOnly, "read-only", false, "open the state without taking the write lock")

	// Add subcommands
	rootCmd.AddCommand(newInstallCommand())
	rootCmd.AddCommand(newRemoveCommand())
	rootCmd.AddCommand(newPurgeCommand())
	rootCmd.AddCommand(newKeepCommand())
	rootCmd.AddCommand(newHoldCommand())
	rootCmd.AddCommand(newUnholdCommand())
	rootCmd.AddCommand(newMarkAutoCommand())
	rootCmd.AddCommand(newUnmarkAutoCommand())
	rootCmd.AddCommand(newForbidVersionCommand())
	rootCmd.AddCommand(newUpgradeCommand())
	rootCmd.AddCommand(newForgetNewCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newShowCommand())
	rootCmd.AddCommand(newAutoremoveCommand())
	rootCmd.AddCommand(newTagCommand())
	rootCmd.AddCommand(newUndoCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newBatchCommand())
	rootCmd.AddCommand(newGraphCommand())
	rootCmd.AddCommand(newSyncCommand())
	rootCmd.AddCommand(newConfigCommand())

	return rootCmd
}

// printJSON renders v as indented JSON on stdout.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
