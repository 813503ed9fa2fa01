package pkggraph

import (
	"fmt"
	"io"
	"strings"
)

// DOTOptions controls WriteDOT output.
type DOTOptions struct {
	// Roots restricts the output to the dependency neighborhood of these
	// packages; empty means the whole graph.
	Roots []PkgID

	// Depth bounds the forward walk from Roots; 0 means unbounded.
	Depth int

	// NodeColor, when set, supplies a fill color per package. Layers above
	// the graph use it to color by disposition.
	NodeColor func(PkgID) string

	// IncludeSoft adds Recommends/Suggests edges to the output.
	IncludeSoft bool
}

// WriteDOT renders (part of) the graph in DOT format for Graphviz tools.
// Virtual packages render as ellipses, provides edges as gray dashed arrows.
func WriteDOT(w io.Writer, g *Graph, opts DOTOptions) error {
	include := g.collectDOTNodes(opts)

	var sb strings.Builder
	sb.WriteString("digraph packages {\n")
	sb.WriteString("  rankdir=LR;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for id := PkgID(0); int(id) < g.PackageCount(); id++ {
		if !include[id] {
			continue
		}
		p := g.Pkg(id)
		label := g.DisplayName(id)
		if p.CurrentVer != None {
			label += "\\n" + g.VerStrOf(p.CurrentVer)
		}
		attrs := fmt.Sprintf("label=\"%s\"", label)
		if p.Virtual() {
			attrs += ", shape=ellipse, style=dashed"
		} else if opts.NodeColor != nil {
			if c := opts.NodeColor(id); c != "" {
				attrs += fmt.Sprintf(", fillcolor=\"%s\", style=\"filled,rounded\"", c)
			}
		}
		sb.WriteString(fmt.Sprintf("  \"%s\" [%s];\n", g.DisplayName(id), attrs))
	}
	sb.WriteString("\n")

	for id := PkgID(0); int(id) < g.PackageCount(); id++ {
		if !include[id] {
			continue
		}
		p := g.Pkg(id)
		for _, vid := range p.Versions {
			if vid != p.CurrentVer && p.CurrentVer != None {
				continue
			}
			v := g.Ver(vid)
			for _, did := range v.Deps {
				d := g.Dep(did)
				if !include[d.TargetPkg] {
					continue
				}
				if !opts.IncludeSoft && (d.Type == DepRecommends || d.Type == DepSuggests) {
					continue
				}
				sb.WriteString(fmt.Sprintf("  \"%s\" -> \"%s\" [%s];\n",
					g.DisplayName(id), g.DisplayName(d.TargetPkg), depEdgeStyle(d.Type)))
			}
			for _, pid := range v.Provides {
				pr := g.Prv(pid)
				if !include[pr.Pkg] {
					continue
				}
				sb.WriteString(fmt.Sprintf("  \"%s\" -> \"%s\" [style=dashed, color=gray, label=\"provides\"];\n",
					g.DisplayName(id), g.DisplayName(pr.Pkg)))
			}
		}
	}

	sb.WriteString("}\n")
	_, err := io.WriteString(w, sb.String())
	return err
}

// collectDOTNodes picks the packages to render: everything, or a bounded
// forward walk from the requested roots.
func (g *Graph) collectDOTNodes(opts DOTOptions) map[PkgID]bool {
	include := make(map[PkgID]bool)
	if len(opts.Roots) == 0 {
		for id := PkgID(0); int(id) < g.PackageCount(); id++ {
			include[id] = true
		}
		return include
	}

	type item struct {
		pkg   PkgID
		depth int
	}
	stack := make([]item, 0, len(opts.Roots))
	for _, r := range opts.Roots {
		stack = append(stack, item{r, 0})
	}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if include[it.pkg] {
			continue
		}
		include[it.pkg] = true
		if opts.Depth > 0 && it.depth >= opts.Depth {
			continue
		}
		p := g.Pkg(it.pkg)
		for _, vid := range p.Versions {
			v := g.Ver(vid)
			for _, did := range v.Deps {
				d := g.Dep(did)
				if !opts.IncludeSoft && (d.Type == DepRecommends || d.Type == DepSuggests) {
					continue
				}
				stack = append(stack, item{d.TargetPkg, it.depth + 1})
			}
			for _, pid := range v.Provides {
				stack = append(stack, item{g.Prv(pid).Pkg, it.depth + 1})
			}
		}
	}
	return include
}

// depEdgeStyle maps dependency types to DOT edge styles.
func depEdgeStyle(t DepType) string {
	switch t {
	case DepDepends, DepPreDepends:
		return "style=solid, color=black"
	case DepRecommends:
		return "style=dashed, color=blue"
	case DepSuggests:
		return "style=dotted, color=gray"
	case DepConflicts, DepBreaks:
		return "style=solid, color=red, arrowhead=tee"
	default:
		return "style=dotted, color=gray"
	}
}
