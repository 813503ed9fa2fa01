package engine

import (
	"github.com/depmark/depmark/pkg/depcache"
	"github.com/depmark/depmark/pkg/pkggraph"
)

// SweepStats counts what an orphan sweep did.
type SweepStats struct {
	// Collected is the number of packages newly scheduled for removal.
	Collected int `json:"collected"`

	// Reinstated is the number of unused-removals cancelled because
	// something needs the package again.
	Reinstated int `json:"reinstated"`

	// Conflicted is the number of reinstatement candidates dropped
	// because their installed version conflicts with pending installs.
	Conflicted int `json:"conflicted"`
}

// sweep refreshes reachability and folds the result into the pending
// actions: newly orphaned packages are scheduled for removal and
// unused-removals whose package is wanted again are cancelled. Runs at
// the close of every outermost action group, before changes are
// collected, so its effects land in the same transaction.
func (e *Engine) sweep() {
	e.dep.MarkAndSweep(e.opts.RootSet)
	if !e.opts.DeleteUnused {
		e.lastSweep = SweepStats{}
		return
	}

	var stats SweepStats
	reinstated := make(map[pkggraph.PkgID]bool)
	var bad []pkggraph.PkgID

	for id := pkggraph.PkgID(0); int(id) < e.g.PackageCount(); id++ {
		st := e.dep.State(id)
		p := e.g.Pkg(id)
		ext := e.ext(id)

		switch {
		case st.Garbage && p.Installed():
			if st.Mode != depcache.ModeDelete {
				e.dep.MarkDelete(id, e.opts.PurgeUnused, 0)
				if e.opts.PurgeUnused {
					ext.Selection = pkggraph.SelPurge
				} else {
					ext.Selection = pkggraph.SelDeInstall
				}
				ext.RemoveReason = ReasonUnused
				stats.Collected++
			}
		case st.Garbage:
			// A package that is not installed can only be garbage
			// while marked for install; cancel that install.
			if p.CurrentVer == pkggraph.None {
				if st.Purge {
					ext.Selection = pkggraph.SelPurge
				} else {
					ext.Selection = pkggraph.SelDeInstall
				}
			} else {
				ext.Selection = pkggraph.SelInstall
			}
			e.dep.MarkKeep(id, false, false)
		case st.Mode == depcache.ModeDelete && ext.RemoveReason == ReasonUnused:
			// No longer garbage: something reachable wants it back.
			if p.CurrentVer != pkggraph.None && e.isConflicted(p.CurrentVer) {
				bad = append(bad, id)
				stats.Conflicted++
			} else {
				reinstated[id] = true
			}
		}
	}

	// Anything that needs a conflicted version cannot come back either.
	for _, id := range bad {
		if cur := e.g.Pkg(id).CurrentVer; cur != pkggraph.None {
			e.removeReverseCurrentVersions(reinstated, cur)
		}
	}

	notOrphaned := make(map[pkggraph.PkgID]bool)
	for id := range reinstated {
		e.findNotOrphaned(id, reinstated, notOrphaned)
	}
	for id := range notOrphaned {
		e.dep.MarkKeep(id, false, false)
		e.ext(id).Selection = pkggraph.SelInstall
		stats.Reinstated++
	}

	e.lastSweep = stats
}

// removeReverseCurrentVersions drops from reinstated every package
// whose installed version depends on badVer, then treats each dropped
// package's version as bad in turn. badVer is going away, so nothing
// that needs it can be reinstated. Cascades over an explicit work
// stack; the shrinking reinstated set doubles as the visited set.
func (e *Engine) removeReverseCurrentVersions(reinstated map[pkggraph.PkgID]bool, badVer pkggraph.VerID) {
	stack := []pkggraph.VerID{badVer}
	for len(stack) > 0 {
		bv := e.g.Ver(stack[len(stack)-1])
		stack = stack[:len(stack)-1]

		affected := func(d *pkggraph.Dependency, have string) bool {
			parent := e.g.Ver(d.ParentVer).Pkg
			if parent == bv.Pkg || !reinstated[parent] {
				return false
			}
			if !d.Type.Critical() {
				return false
			}
			if d.ParentVer != e.g.Pkg(parent).CurrentVer {
				return false
			}
			return pkggraph.CheckDep(have, d.Op, d.TargetVer)
		}
		drop := func(parent pkggraph.PkgID) {
			delete(reinstated, parent)
			if cur := e.g.Pkg(parent).CurrentVer; cur != pkggraph.None {
				stack = append(stack, cur)
			}
		}

		for _, depID := range e.g.Pkg(bv.Pkg).RevDeps {
			d := e.g.Dep(depID)
			if affected(d, bv.VerStr) {
				drop(e.g.Ver(d.ParentVer).Pkg)
			}
		}
		for _, prvID := range bv.Provides {
			prv := e.g.Prv(prvID)
			for _, depID := range e.g.Pkg(prv.Pkg).RevDeps {
				d := e.g.Dep(depID)
				if affected(d, prv.ProvideVersion) {
					drop(e.g.Ver(d.ParentVer).Pkg)
				}
			}
		}
	}
}

// findNotOrphaned checks whether anything that will remain on the
// system depends on pkg's installed version, directly or through what
// it provides. If so, pkg and every reinstated package it relies on
// are recorded in notOrphaned.
func (e *Engine) findNotOrphaned(pkg pkggraph.PkgID, reinstated, notOrphaned map[pkggraph.PkgID]bool) {
	p := e.g.Pkg(pkg)
	if !p.Installed() || p.CurrentVer == pkggraph.None {
		e.sink.Warning("sweep: no version of %s is installed, cannot reinstate it", p.Name)
		return
	}
	cur := e.g.Ver(p.CurrentVer)

	wanted := func(d *pkggraph.Dependency, have string) bool {
		parent := e.g.Ver(d.ParentVer).Pkg
		if parent == pkg {
			return false
		}
		if !d.Type.Critical() {
			return false
		}
		// Only a manually wanted package confirms an orphan, and only
		// through the version of it that is staying; automatic
		// dependents are pulled back in by the forward trace instead.
		if e.dep.State(parent).Auto || e.dep.InstallVer(parent) != d.ParentVer {
			return false
		}
		return pkggraph.CheckDep(have, d.Op, d.TargetVer)
	}

	for _, depID := range p.RevDeps {
		if wanted(e.g.Dep(depID), cur.VerStr) {
			e.traceNotOrphaned(pkg, reinstated, notOrphaned)
			return
		}
	}
	for _, prvID := range cur.Provides {
		prv := e.g.Prv(prvID)
		for _, depID := range e.g.Pkg(prv.Pkg).RevDeps {
			if wanted(e.g.Dep(depID), prv.ProvideVersion) {
				e.traceNotOrphaned(pkg, reinstated, notOrphaned)
				return
			}
		}
	}
}

// traceNotOrphaned records pkg as needed and walks down its installed
// version's dependencies over an explicit work stack, pulling back in
// every reinstated package it relies on.
func (e *Engine) traceNotOrphaned(pkg pkggraph.PkgID, reinstated, notOrphaned map[pkggraph.PkgID]bool) {
	stack := []pkggraph.PkgID{pkg}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if notOrphaned[id] || !reinstated[id] {
			continue
		}
		p := e.g.Pkg(id)
		if !p.Installed() || p.CurrentVer == pkggraph.None {
			e.sink.Warning("sweep: no version of %s is installed, cannot reinstate it", p.Name)
			continue
		}
		notOrphaned[id] = true

		cur := e.g.Ver(p.CurrentVer)
		var next []pkggraph.PkgID
		for _, depID := range cur.Deps {
			d := e.g.Dep(depID)
			if !e.interestingDep(depID, d.Type) {
				continue
			}
			t := e.g.Pkg(d.TargetPkg)
			if t.Installed() && t.CurrentVer != pkggraph.None &&
				pkggraph.CheckDep(e.g.Ver(t.CurrentVer).VerStr, d.Op, d.TargetVer) {
				next = append(next, d.TargetPkg)
			}
			for _, prvID := range t.ProvidedBy {
				prv := e.g.Prv(prvID)
				if pkggraph.CheckDep(prv.ProvideVersion, d.Op, d.TargetVer) {
					next = append(next, e.g.Ver(prv.OwnerVer).Pkg)
				}
			}
		}
		for i := len(next) - 1; i >= 0; i-- {
			stack = append(stack, next[i])
		}
	}
}
