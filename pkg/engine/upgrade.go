package engine

import (
	"github.com/depmark/depmark/pkg/depcache"
	"github.com/depmark/depmark/pkg/pkggraph"
)

// IsHeld reports whether pkg is held back from its candidate, either
// by an explicit hold or because the candidate is its forbidden
// version.
func (e *Engine) IsHeld(pkg pkggraph.PkgID) bool {
	p := e.g.Pkg(pkg)
	if p.CurrentVer == pkggraph.None {
		return false
	}
	ext := e.ext(pkg)
	if ext.Selection == pkggraph.SelHold {
		return true
	}
	cand := e.dep.State(pkg).Candidate
	return ext.ForbiddenVersion != "" && cand != pkggraph.None &&
		e.g.Ver(cand).VerStr == ext.ForbiddenVersion
}

// GetUpgradable lists the installed packages an upgrade run would
// touch: a newer candidate exists and the package is not held. With
// ignoreRemoved, packages whose recorded selection is not install are
// left out.
func (e *Engine) GetUpgradable(ignoreRemoved bool) []pkggraph.PkgID {
	var out []pkggraph.PkgID
	for id := pkggraph.PkgID(0); int(id) < e.g.PackageCount(); id++ {
		if e.g.Pkg(id).CurrentVer == pkggraph.None {
			continue
		}
		if ignoreRemoved {
			sel := e.states[id].Selection
			if sel != pkggraph.SelInstall && sel != pkggraph.SelUnknown {
				continue
			}
		}
		if e.dep.Upgradable(id) && !e.IsHeld(id) {
			out = append(out, id)
		}
	}
	return out
}

// MarkAllUpgradable schedules every upgradable package for upgrade.
// withAutoInst makes a second pass so packages pulled in by the first
// get their own dependencies considered. ignoreRemoved leaves
// packages alone unless their recorded selection is install.
func (e *Engine) MarkAllUpgradable(withAutoInst, ignoreRemoved bool, undo *UndoGroup) bool {
	if !e.checkReadOnly("mark_all_upgradable") {
		return false
	}
	ag := e.BeginActionGroup(undo)
	defer ag.End()

	for iter := 0; iter == 0 || (iter == 1 && withAutoInst); iter++ {
		for id := pkggraph.PkgID(0); int(id) < e.g.PackageCount(); id++ {
			p := e.g.Pkg(id)
			if p.CurrentVer == pkggraph.None {
				continue
			}

			doUpgrade := false
			if !ignoreRemoved {
				doUpgrade = e.dep.Upgradable(id) && !e.IsHeld(id)
			} else {
				ext := e.ext(id)
				switch ext.Selection {
				case pkggraph.SelUnknown:
					e.sink.Warning("selection of %s is unknown, treating it as install", p.Name)
					ext.Selection = pkggraph.SelInstall
					e.dirty = true
					fallthrough
				case pkggraph.SelInstall:
					doUpgrade = e.dep.Upgradable(id) && !e.IsHeld(id)
				}
			}

			if doUpgrade {
				e.internalMarkInstall(id, iter == 1, false)
			}
		}
	}
	return true
}

// MarkSingleInstall keeps every package back and then schedules just
// pkg with its dependencies, yielding the minimal action set for that
// one package.
func (e *Engine) MarkSingleInstall(pkg pkggraph.PkgID, undo *UndoGroup) bool {
	if !e.checkReadOnly("mark_single_install") {
		return false
	}
	ag := e.BeginActionGroup(undo)
	defer ag.End()

	e.dirty = true
	for id := pkggraph.PkgID(0); int(id) < e.g.PackageCount(); id++ {
		e.dep.MarkKeep(id, true, true)
	}

	p := e.g.Pkg(pkg)
	st := e.dep.State(pkg)
	setToManual := (p.CurrentVer == pkggraph.None && st.Mode != depcache.ModeInstall) ||
		(p.CurrentVer != pkggraph.None && st.Mode == depcache.ModeDelete &&
			e.ext(pkg).RemoveReason == ReasonUnused)
	if setToManual {
		e.dep.MarkAuto(pkg, false)
	}

	e.internalMarkInstall(pkg, true, false)
	return true
}

// ApplySolution applies a resolver solution in one transaction, so the
// sweep and change notifications run once for the whole set.
func (e *Engine) ApplySolution(choices []Choice, undo *UndoGroup) bool {
	if !e.checkReadOnly("apply_solution") {
		return false
	}
	ag := e.BeginActionGroup(undo)
	defer ag.End()

	e.dirty = true
	for _, ch := range choices {
		p := e.g.Pkg(ch.Pkg)
		st := e.dep.State(ch.Pkg)
		switch {
		case ch.Ver == pkggraph.None:
			e.internalMarkDelete(ch.Pkg, false, false, nil)
			if p.CurrentVer != pkggraph.None && st.Auto {
				e.ext(ch.Pkg).RemoveReason = ReasonFromResolver
			}
		case ch.Ver == p.CurrentVer:
			e.internalMarkKeep(ch.Pkg, st.Auto, false)
		default:
			hadInstall := e.dep.InstallVer(ch.Pkg) != pkggraph.None
			e.internalSetCandidate(ch.Pkg, ch.Ver)
			e.internalMarkInstall(ch.Pkg, false, false)
			if ch.Auto && !hadInstall {
				e.dep.MarkAuto(ch.Pkg, true)
			}
		}
	}
	return true
}
