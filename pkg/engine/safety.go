package engine

import (
	"github.com/depmark/depmark/pkg/pkggraph"
)

// CanRemoveAutoInstalled reports whether pkg could be removed as
// unused: it is an automatically installed package (or a virtual name)
// that no package remaining on the system depends on. The check is
// deliberately coarse; the sweep makes the final call.
func (e *Engine) CanRemoveAutoInstalled(pkg pkggraph.PkgID) bool {
	p := e.g.Pkg(pkg)
	if !p.Virtual() {
		if p.CurrentVer == pkggraph.None {
			return false
		}
		if !e.dep.State(pkg).Auto {
			return false
		}
	}
	for _, depID := range p.RevDeps {
		d := e.g.Dep(depID)
		if !e.interestingDep(depID, d.Type) {
			continue
		}
		parent := e.g.Ver(d.ParentVer).Pkg
		if parent == pkg {
			continue
		}
		if e.dep.InstallVer(parent) != pkggraph.None {
			return false
		}
	}
	return true
}

// isConflicted reports whether ver cannot coexist with the versions
// that will be on the system after the pending actions: either ver
// declares a negative dependency against one of them, or one of them
// declares a negative dependency against ver or something it provides.
func (e *Engine) isConflicted(ver pkggraph.VerID) bool {
	v := e.g.Ver(ver)

	for _, depID := range v.Deps {
		d := e.g.Dep(depID)
		if !d.Type.Negative() || d.TargetPkg == v.Pkg {
			continue
		}
		tiv := e.dep.InstallVer(d.TargetPkg)
		if tiv != pkggraph.None &&
			pkggraph.CheckDep(e.g.Ver(tiv).VerStr, d.Op, d.TargetVer) {
			return true
		}
		for _, prvID := range e.g.Pkg(d.TargetPkg).ProvidedBy {
			prv := e.g.Prv(prvID)
			owner := e.g.Ver(prv.OwnerVer)
			if owner.Pkg == v.Pkg {
				continue
			}
			if e.dep.InstallVer(owner.Pkg) == prv.OwnerVer &&
				pkggraph.CheckDep(prv.ProvideVersion, d.Op, d.TargetVer) {
				return true
			}
		}
	}

	for _, depID := range e.g.Pkg(v.Pkg).RevDeps {
		d := e.g.Dep(depID)
		if !d.Type.Negative() {
			continue
		}
		parent := e.g.Ver(d.ParentVer).Pkg
		if parent == v.Pkg {
			continue
		}
		if e.dep.InstallVer(parent) == d.ParentVer &&
			pkggraph.CheckDep(v.VerStr, d.Op, d.TargetVer) {
			return true
		}
	}

	for _, prvID := range v.Provides {
		prv := e.g.Prv(prvID)
		for _, depID := range e.g.Pkg(prv.Pkg).RevDeps {
			d := e.g.Dep(depID)
			if !d.Type.Negative() {
				continue
			}
			parent := e.g.Ver(d.ParentVer).Pkg
			if parent == v.Pkg {
				continue
			}
			if e.dep.InstallVer(parent) == d.ParentVer &&
				pkggraph.CheckDep(prv.ProvideVersion, d.Op, d.TargetVer) {
				return true
			}
		}
	}
	return false
}
