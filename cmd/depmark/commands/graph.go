package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/depmark/depmark/pkg/depcache"
	"github.com/depmark/depmark/pkg/pkggraph"
)

func newGraphCommand() *cobra.Command {
	var (
		output string
		depth  int
		soft   bool
		color  bool
	)

	cmd := &cobra.Command{
		Use:   "graph [package]...",
		Short: "Export the dependency graph as DOT",
		Long: `Export the dependency graph in Graphviz DOT format.

Without arguments the whole universe is exported. With package
arguments only those packages and their dependency closure are,
optionally limited to --depth hops. With --color nodes are painted by
pending action, which makes orphan chains easy to spot.`,
		Example: `  # Everything nginx pulls in, two levels deep
  depmark graph nginx --depth 2 -o nginx.dot

  # Render the pending actions
  depmark graph --color | dot -Tsvg -o state.svg`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, false, func(s *session) error {
				roots, err := s.resolvePackages(args)
				if err != nil {
					return err
				}

				opts := pkggraph.DOTOptions{
					Roots:       roots,
					Depth:       depth,
					IncludeSoft: soft,
				}
				if color {
					opts.NodeColor = func(pkg pkggraph.PkgID) string {
						st := s.eng.Cache().State(pkg)
						switch {
						case st.Mode == depcache.ModeInstall:
							return "palegreen"
						case st.Mode == depcache.ModeDelete:
							return "lightpink"
						case s.eng.IsHeld(pkg):
							return "khaki"
						case st.Garbage:
							return "orange"
						}
						return ""
					}
				}

				w := os.Stdout
				if output != "" {
					f, err := os.Create(output)
					if err != nil {
						return fmt.Errorf("creating output file: %w", err)
					}
					defer f.Close()
					w = f
				}
				return pkggraph.WriteDOT(w, s.eng.Graph(), opts)
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Write DOT to this file instead of stdout")
	cmd.Flags().IntVar(&depth, "depth", 0, "Limit the closure to this many hops from the roots (0 = unlimited)")
	cmd.Flags().BoolVar(&soft, "soft", false, "Include Recommends and Suggests edges")
	cmd.Flags().BoolVar(&color, "color", false, "Color nodes by pending action")

	return cmd
}
