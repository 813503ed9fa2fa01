package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/depmark/depmark/pkg/engine"
	"github.com/depmark/depmark/pkg/pkggraph"
)

func newTagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tag",
		Short: "Manage user tags on packages",
		Long: `Manage user tags on packages.

Tags are free-form labels persisted in the state file. They carry no
built-in meaning, but policies can key on them, for example to protect
everything tagged "baseline" from the orphan sweep.`,
	}

	cmd.AddCommand(newTagAddCommand())
	cmd.AddCommand(newTagRemoveCommand())
	cmd.AddCommand(newTagListCommand())

	return cmd
}

func newTagAddCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <tag> <package>...",
		Short: "Attach a tag to packages",
		Example: `  # Tag the web stack
  depmark tag add web nginx libfoo`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTagEdit(cmd, args, true)
		},
	}

	return cmd
}

func newTagRemoveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <tag> <package>...",
		Short: "Detach a tag from packages",
		Example: `  # Untag one package
  depmark tag remove web libfoo`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTagEdit(cmd, args, false)
		},
	}

	return cmd
}

func runTagEdit(cmd *cobra.Command, args []string, attach bool) error {
	return withEngine(cmd, true, func(s *session) error {
		tag := args[0]
		pkgs, err := s.resolvePackages(args[1:])
		if err != nil {
			return err
		}

		var refused []string
		sum, err := s.transact(commandLine(cmd, args), nil, func(undo *engine.UndoGroup) error {
			for i, pkg := range pkgs {
				var ok bool
				if attach {
					ok = s.eng.AttachUserTag(pkg, tag, undo)
				} else {
					ok = s.eng.DetachUserTag(pkg, tag, undo)
				}
				if !ok {
					refused = append(refused, args[1+i])
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

func newTagListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list [package]...",
		Short: "List tags",
		Long: `List user tags. Without arguments every tagged package is listed;
with arguments only the named packages.`,
		Example: `  # All tagged packages
  depmark tag list

  # Tags of one package
  depmark tag list nginx`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, false, func(s *session) error {
				g := s.eng.Graph()

				var pkgs []pkggraph.PkgID
				if len(args) > 0 {
					var err error
					pkgs, err = s.resolvePackages(args)
					if err != nil {
						return err
					}
				} else {
					for id := pkggraph.PkgID(0); int(id) < g.PackageCount(); id++ {
						if len(s.eng.State(id).Tags) > 0 {
							pkgs = append(pkgs, id)
						}
					}
				}

				type taggedPackage struct {
					Package string   `json:"package"`
					Tags    []string `json:"tags"`
				}
				out := make([]taggedPackage, 0, len(pkgs))
				for _, pkg := range pkgs {
					out = append(out, taggedPackage{
						Package: g.DisplayName(pkg),
						Tags:    s.eng.State(pkg).Tags.Names(s.eng.Tags()),
					})
				}

				if jsonOutput {
					return printJSON(out)
				}
				for _, tp := range out {
					fmt.Printf("%s:", tp.Package)
					for _, tag := range tp.Tags {
						fmt.Printf(" %s", tag)
					}
					fmt.Println()
				}
				return nil
			})
		},
	}

	return cmd
}
