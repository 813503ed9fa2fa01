package depcache

import (
	"github.com/depmark/depmark/pkg/pkggraph"
)

// MarkAndSweep recomputes the Marked and Garbage flags. Roots are packages
// that are present (or will be) and are not auto-installed, are flagged
// essential or important, or are claimed by the root-set hook. Marking
// follows hard dependency edges (plus Recommends/Suggests per policy) from
// the version that is installed or will be installed, through direct targets
// and providers. Garbage is everything present-or-incoming that the marking
// never reached.
//
// A package scheduled for deletion can still end up marked through its
// current version when something reachable depends on it; deciding whether
// that should cancel the deletion is the caller's business.
func (c *Cache) MarkAndSweep(root RootSetFunc) {
	for i := range c.states {
		c.states[i].Marked = false
		c.states[i].Garbage = false
	}

	for pkg := pkggraph.PkgID(0); int(pkg) < c.g.PackageCount(); pkg++ {
		st := &c.states[pkg]
		p := c.g.Pkg(pkg)
		isRoot := !st.Auto || p.Essential || p.Important || (root != nil && root(pkg))
		if !isRoot {
			continue
		}
		switch {
		case st.Mode == ModeInstall:
			c.markPackage(pkg, st.Candidate)
		case p.Installed() && st.Mode != ModeDelete:
			c.markPackage(pkg, p.CurrentVer)
		}
	}

	for pkg := pkggraph.PkgID(0); int(pkg) < c.g.PackageCount(); pkg++ {
		st := &c.states[pkg]
		if !st.Marked && (c.g.Pkg(pkg).Installed() || st.Mode == ModeInstall) {
			st.Garbage = true
		}
	}
}

type markItem struct {
	pkg pkggraph.PkgID
	ver pkggraph.VerID
}

// markPackage marks pkg reachable through ver and walks onward, depth-first
// with an explicit stack. A (pkg, ver) pair only counts when ver is the
// package's current or to-be-installed version; other satisfying versions
// are dead ends.
func (c *Cache) markPackage(pkg pkggraph.PkgID, ver pkggraph.VerID) {
	stack := []markItem{{pkg, ver}}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if it.ver == pkggraph.None {
			continue
		}
		p := c.g.Pkg(it.pkg)
		st := &c.states[it.pkg]
		if it.ver != p.CurrentVer && it.ver != c.InstallVer(it.pkg) {
			continue
		}
		if st.Marked {
			continue
		}
		st.Marked = true

		v := c.g.Ver(it.ver)
		for _, did := range v.Deps {
			d := c.g.Dep(did)
			if !c.followForMark(d.Type) {
				continue
			}
			tgt := c.g.Pkg(d.TargetPkg)
			for _, vid := range tgt.Versions {
				if pkggraph.CheckDep(c.g.Ver(vid).VerStr, d.Op, d.TargetVer) {
					stack = append(stack, markItem{d.TargetPkg, vid})
				}
			}
			for _, pid := range tgt.ProvidedBy {
				prv := c.g.Prv(pid)
				if d.Op != pkggraph.OpNone && prv.ProvideVersion == "" {
					continue
				}
				if pkggraph.CheckDep(prv.ProvideVersion, d.Op, d.TargetVer) {
					stack = append(stack, markItem{c.g.Ver(prv.OwnerVer).Pkg, prv.OwnerVer})
				}
			}
		}
	}
}

func (c *Cache) followForMark(t pkggraph.DepType) bool {
	switch t {
	case pkggraph.DepDepends, pkggraph.DepPreDepends:
		return true
	case pkggraph.DepRecommends:
		return c.policy.FollowRecommends
	case pkggraph.DepSuggests:
		return c.policy.FollowSuggests
	default:
		return false
	}
}
