package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/depmark/depmark/pkg/depcache"
	"github.com/depmark/depmark/pkg/pkggraph"
)

// packageReport is one package's state as the show command renders it.
type packageReport struct {
	Name             string   `json:"name"`
	Architecture     string   `json:"architecture,omitempty"`
	Installed        bool     `json:"installed"`
	Version          string   `json:"version,omitempty"`
	Candidate        string   `json:"candidate,omitempty"`
	Action           string   `json:"action"`
	Selection        string   `json:"selection"`
	Auto             bool     `json:"auto"`
	Held             bool     `json:"held"`
	New              bool     `json:"new"`
	Reinstall        bool     `json:"reinstall,omitempty"`
	RemoveReason     string   `json:"remove_reason,omitempty"`
	ForbiddenVersion string   `json:"forbidden_version,omitempty"`
	Garbage          bool     `json:"garbage,omitempty"`
	ProtectedBy      string   `json:"protected_by,omitempty"`
	Tags             []string `json:"tags,omitempty"`
}

func newShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <package>...",
		Short: "Show the selection state of packages",
		Long: `Show the full per-package selection state: the pending action, the
sticky selection behind it, the auto-installed flag, holds, forbidden
versions, user tags and what the orphan sweep thinks of the package.`,
		Example: `  # Inspect one package
  depmark show nginx

  # Several at once, machine-readable
  depmark show --json nginx libfoo`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, false, func(s *session) error {
				pkgs, err := s.resolvePackages(args)
				if err != nil {
					return err
				}

				reports := make([]packageReport, len(pkgs))
				for i, pkg := range pkgs {
					reports[i] = buildPackageReport(s, pkg)
				}

				if jsonOutput {
					return printJSON(reports)
				}
				for i := range reports {
					if i > 0 {
						fmt.Println()
					}
					printPackageReport(&reports[i])
				}
				return nil
			})
		},
	}

	return cmd
}

// buildPackageReport collects one package's state across the layers.
func buildPackageReport(s *session, pkg pkggraph.PkgID) packageReport {
	g := s.eng.Graph()
	p := g.Pkg(pkg)
	st := s.eng.Cache().State(pkg)
	ext := s.eng.State(pkg)

	rep := packageReport{
		Name:             p.Name,
		Architecture:     p.Architecture,
		Installed:        p.Installed(),
		Version:          g.VerStrOf(p.CurrentVer),
		Candidate:        g.VerStrOf(st.Candidate),
		Action:           st.Mode.String(),
		Selection:        ext.Selection.String(),
		Auto:             st.Auto,
		Held:             s.eng.IsHeld(pkg),
		New:              ext.New,
		Reinstall:        ext.Reinstall,
		ForbiddenVersion: ext.ForbiddenVersion,
		Garbage:          st.Garbage,
	}
	if st.Mode == depcache.ModeDelete {
		if st.Purge {
			rep.Action = "purge"
		}
		rep.RemoveReason = ext.RemoveReason.String()
	}
	if s.prot != nil {
		if name, ok := s.prot.Verdict(pkg); ok {
			rep.ProtectedBy = name
		}
	}
	for _, ref := range ext.Tags {
		rep.Tags = append(rep.Tags, s.eng.Tags().Name(ref))
	}
	return rep
}

func printPackageReport(rep *packageReport) {
	name := rep.Name
	if rep.Architecture != "" && rep.Architecture != "all" {
		name += ":" + rep.Architecture
	}
	fmt.Printf("Package: %s\n", name)
	if rep.Installed {
		fmt.Printf("  Installed:  %s\n", rep.Version)
	} else {
		fmt.Println("  Installed:  no")
	}
	if rep.Candidate != "" && rep.Candidate != rep.Version {
		fmt.Printf("  Candidate:  %s\n", rep.Candidate)
	}
	fmt.Printf("  Action:     %s\n", rep.Action)
	if rep.RemoveReason != "" {
		fmt.Printf("  Reason:     %s\n", rep.RemoveReason)
	}
	fmt.Printf("  Selection:  %s\n", rep.Selection)
	fmt.Printf("  Auto:       %s\n", yesNo(rep.Auto))
	if rep.Held {
		fmt.Println("  Held:       yes")
	}
	if rep.New {
		fmt.Println("  New:        yes")
	}
	if rep.Reinstall {
		fmt.Println("  Reinstall:  yes")
	}
	if rep.ForbiddenVersion != "" {
		fmt.Printf("  Forbidden:  %s\n", rep.ForbiddenVersion)
	}
	if rep.Garbage {
		fmt.Println("  Unused:     yes (nothing depends on it)")
	}
	if rep.ProtectedBy != "" {
		fmt.Printf("  Protected:  %s\n", rep.ProtectedBy)
	}
	if len(rep.Tags) > 0 {
		fmt.Printf("  Tags:       %v\n", rep.Tags)
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
