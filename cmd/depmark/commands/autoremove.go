package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/depmark/depmark/pkg/depcache"
	"github.com/depmark/depmark/pkg/engine"
	"github.com/depmark/depmark/pkg/pkggraph"
)

func newAutoremoveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "autoremove",
		Short: "Reclaim orphaned automatic packages",
		Long: `Run the orphan sweep and schedule unused packages for removal.

A package is unused when it was installed automatically and nothing
reachable from a manually installed package depends on it anymore.
Policy-protected packages are never reclaimed. The sweep also runs
after every marking command; autoremove exists to trigger it on its
own, for example after sweep.delete_unused was switched on.`,
		Example: `  # Reclaim orphans
  depmark autoremove

  # See what is scheduled without details
  depmark autoremove --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, true, func(s *session) error {
				// An empty transaction: the sweep at group close does the work.
				sum, err := s.transact("autoremove", nil, func(undo *engine.UndoGroup) error {
					return nil
				})
				if err != nil {
					return err
				}

				g := s.eng.Graph()
				var reclaimed []string
				for id := pkggraph.PkgID(0); int(id) < g.PackageCount(); id++ {
					if s.eng.Cache().State(id).Mode != depcache.ModeDelete {
						continue
					}
					if s.eng.State(id).RemoveReason == engine.ReasonUnused {
						reclaimed = append(reclaimed, g.DisplayName(id))
					}
				}

				if jsonOutput {
					return printJSON(struct {
						Sweep    engine.SweepStats `json:"sweep"`
						Unused   []string          `json:"unused,omitempty"`
						Disabled bool              `json:"sweep_disabled,omitempty"`
					}{sum.Sweep, reclaimed, !s.cfg.Sweep.DeleteUnused})
				}

				if !s.cfg.Sweep.DeleteUnused {
					fmt.Println("sweep.delete_unused is disabled; nothing reclaimed")
					return nil
				}
				fmt.Printf("sweep: collected %d, reinstated %d, conflicted %d\n",
					sum.Sweep.Collected, sum.Sweep.Reinstated, sum.Sweep.Conflicted)
				for _, name := range reclaimed {
					fmt.Printf("  unused: %s\n", name)
				}
				return nil
			})
		},
	}

	return cmd
}
