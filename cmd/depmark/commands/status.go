package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/depmark/depmark/pkg/engine"
)

// statusReport is the machine-readable shape of the status command.
type statusReport struct {
	StateFile  string            `json:"state_file"`
	GraphFile  string            `json:"graph_file"`
	ReadOnly   bool              `json:"read_only"`
	Dirty      bool              `json:"dirty"`
	Packages   int               `json:"packages"`
	Upgradable int               `json:"upgradable"`
	Protected  int               `json:"protected"`
	Stats      engine.Statistics `json:"stats"`
}

func newStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Summarize the selection state",
		Long: `Summarize the selection state: pending actions, upgradable and new
packages, policy protection and the net size change the pending actions
would cause.`,
		Example: `  # Human-readable overview
  depmark status

  # Machine-readable
  depmark status --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, false, func(s *session) error {
				rep := statusReport{
					StateFile:  s.cfg.StateFile,
					GraphFile:  s.cfg.GraphFile,
					ReadOnly:   s.eng.ReadOnly(),
					Dirty:      s.eng.Dirty(),
					Packages:   s.eng.Graph().PackageCount(),
					Upgradable: len(s.eng.GetUpgradable(true)),
					Stats:      s.eng.Statistics(),
				}
				if s.prot != nil {
					rep.Protected = s.prot.Count()
				}

				if jsonOutput {
					return printJSON(rep)
				}

				mode := "writable"
				if rep.ReadOnly {
					mode = "read-only"
				}
				fmt.Printf("State file:  %s (%s)\n", rep.StateFile, mode)
				fmt.Printf("Universe:    %d packages, %d new\n", rep.Packages, rep.Stats.New)
				fmt.Printf("Pending:     %d install, %d delete, %d keep, %d broken\n",
					rep.Stats.Install, rep.Stats.Delete, rep.Stats.Keep, rep.Stats.Broken)
				fmt.Printf("Upgradable:  %d\n", rep.Upgradable)
				if s.prot != nil {
					fmt.Printf("Protected:   %d (by policy)\n", rep.Protected)
				}
				fmt.Printf("Disk delta:  %s, download %s\n",
					humanBytes(rep.Stats.UsrSize), humanBytes(rep.Stats.DownloadSize))
				if rep.Dirty {
					fmt.Println("Unsaved changes present.")
				}
				return nil
			})
		},
	}

	return cmd
}
