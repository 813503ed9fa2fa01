package engine

import (
	"github.com/depmark/depmark/pkg/depcache"
	"github.com/depmark/depmark/pkg/pkggraph"
)

// MarkInstall schedules pkg for install or upgrade, or for
// reinstallation of its current version when reInstall is set.
// autoInst additionally schedules the package's dependencies, subject
// to the AutoInstall option.
func (e *Engine) MarkInstall(pkg pkggraph.PkgID, autoInst, reInstall bool, undo *UndoGroup) bool {
	if !e.checkReadOnly("mark_install") {
		return false
	}
	ag := e.BeginActionGroup(undo)
	defer ag.End()

	e.internalMarkInstall(pkg, autoInst && e.opts.AutoInstall, reInstall)
	return true
}

// internalMarkInstall is MarkInstall without the guard or transaction.
// The automatic flag survives an install request except when the
// request rescues the package: a fresh install of something not yet
// scheduled, or the cancellation of an unused-removal, makes it
// manual.
func (e *Engine) internalMarkInstall(pkg pkggraph.PkgID, autoInst, reInstall bool) {
	e.dirty = true

	p := e.g.Pkg(pkg)
	st := e.dep.State(pkg)
	ext := e.ext(pkg)

	setToManual := (p.CurrentVer == pkggraph.None && st.Mode != depcache.ModeInstall) ||
		(p.CurrentVer != pkggraph.None && st.Mode == depcache.ModeDelete &&
			ext.RemoveReason == ReasonUnused)
	finalAuto := st.Auto
	if setToManual {
		finalAuto = false
	}

	if !reInstall {
		e.dep.MarkInstall(pkg, autoInst, 0)
	} else {
		e.dep.MarkKeep(pkg, autoInst, true)
	}
	e.dep.SetReInstall(pkg, reInstall)
	e.dep.MarkAuto(pkg, finalAuto)

	ext.Selection = pkggraph.SelInstall
	ext.Reinstall = reInstall
	ext.ForbiddenVersion = ""
	ext.PreviouslyAuto = finalAuto
}

// MarkDelete schedules pkg for removal, or purge when purge is set.
// unusedDelete records the removal as caused by the package falling
// out of use rather than by an explicit request.
func (e *Engine) MarkDelete(pkg pkggraph.PkgID, purge, unusedDelete bool, undo *UndoGroup) bool {
	if e.refuseSelfRemoval(pkg, "mark_delete") {
		return false
	}
	if !e.checkReadOnly("mark_delete") {
		return false
	}
	ag := e.BeginActionGroup(undo)
	defer ag.End()

	e.internalMarkDelete(pkg, purge, unusedDelete, nil)
	return true
}

// internalMarkDelete is MarkDelete without the guard or transaction.
// After marking, the dependencies of the removed version are walked
// and automatic packages that lose their last user are scheduled for
// removal too; visited carries the packages already handled when the
// expansion is driven from a bulk operation.
func (e *Engine) internalMarkDelete(pkg pkggraph.PkgID, purge, unusedDelete bool, visited map[pkggraph.PkgID]bool) {
	if e.refuseSelfRemoval(pkg, "mark_delete") {
		return
	}
	e.deleteOne(pkg, purge, unusedDelete)
	e.expandUnused(pkg, visited)
}

// deleteOne applies removal state to pkg alone, without expansion.
func (e *Engine) deleteOne(pkg pkggraph.PkgID, purge, unusedDelete bool) {
	if unusedDelete && e.opts.PurgeUnused {
		purge = true
	}
	e.dirty = true

	previouslyToDelete := e.dep.State(pkg).Mode == depcache.ModeDelete

	e.dep.MarkDelete(pkg, purge, 0)
	e.dep.SetReInstall(pkg, false)

	ext := e.ext(pkg)
	if purge {
		ext.Selection = pkggraph.SelPurge
	} else {
		ext.Selection = pkggraph.SelDeInstall
	}
	ext.Reinstall = false
	if !previouslyToDelete {
		if unusedDelete {
			ext.RemoveReason = ReasonUnused
		} else {
			ext.RemoveReason = ReasonManual
		}
	}
}

// expandUnused schedules the automatically installed dependencies of
// root's current version for removal when nothing else keeps them,
// depth first over an explicit work stack.
func (e *Engine) expandUnused(root pkggraph.PkgID, visited map[pkggraph.PkgID]bool) {
	if !e.opts.DeleteUnused {
		return
	}
	if e.g.Pkg(root).CurrentVer == pkggraph.None {
		return
	}
	if visited == nil {
		visited = make(map[pkggraph.PkgID]bool, 8)
	}
	visited[root] = true

	stack := e.unusedTargets(root, nil)
	for len(stack) > 0 {
		pkg := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[pkg] {
			continue
		}
		visited[pkg] = true
		if e.refuseSelfRemoval(pkg, "mark_delete") {
			continue
		}
		e.deleteOne(pkg, e.opts.PurgeUnused, true)
		stack = e.unusedTargets(pkg, stack)
	}
}

// unusedTargets appends the removal candidates among pkg's important
// dependencies to stack, last first, so popping processes them in
// declaration order.
func (e *Engine) unusedTargets(pkg pkggraph.PkgID, stack []pkggraph.PkgID) []pkggraph.PkgID {
	p := e.g.Pkg(pkg)
	if p.CurrentVer == pkggraph.None {
		return stack
	}
	var targets []pkggraph.PkgID
	cur := e.g.Ver(p.CurrentVer)
	for _, depID := range cur.Deps {
		d := e.g.Dep(depID)
		if !e.interestingDep(depID, d.Type) {
			continue
		}
		t := e.g.Pkg(d.TargetPkg)
		if t.Virtual() {
			if !e.CanRemoveAutoInstalled(d.TargetPkg) {
				continue
			}
			for _, prvID := range t.ProvidedBy {
				owner := e.g.Ver(e.g.Prv(prvID).OwnerVer).Pkg
				if e.dep.State(owner).Auto && e.CanRemoveAutoInstalled(owner) {
					targets = append(targets, owner)
				}
			}
			continue
		}
		required := t.Essential || t.Important ||
			t.Priority == pkggraph.PriorityRequired ||
			t.Priority == pkggraph.PriorityImportant
		if t.Installed() && e.dep.State(d.TargetPkg).Auto && !required &&
			e.CanRemoveAutoInstalled(d.TargetPkg) {
			targets = append(targets, d.TargetPkg)
		}
	}
	for i := len(targets) - 1; i >= 0; i-- {
		stack = append(stack, targets[i])
	}
	return stack
}

// keepsInUse reports whether a dependency of this type counts as
// keeping its target in use, for delete expansion and reinstatement
// tracing alike.
func (e *Engine) keepsInUse(t pkggraph.DepType) bool {
	switch t {
	case pkggraph.DepDepends, pkggraph.DepPreDepends:
		return true
	case pkggraph.DepRecommends:
		return e.opts.KeepRecommends
	case pkggraph.DepSuggests:
		return e.opts.KeepSuggests
	default:
		return false
	}
}

// MarkKeep cancels any pending action on pkg. automatic records the
// keep as engine-initiated, leaving the auto flag alone; setHold
// additionally pins the package against upgrades.
func (e *Engine) MarkKeep(pkg pkggraph.PkgID, automatic, setHold bool, undo *UndoGroup) bool {
	if !e.checkReadOnly("mark_keep") {
		return false
	}
	ag := e.BeginActionGroup(undo)
	defer ag.End()

	e.internalMarkKeep(pkg, automatic, setHold)
	return true
}

// internalMarkKeep is MarkKeep without the guard or transaction.
func (e *Engine) internalMarkKeep(pkg pkggraph.PkgID, automatic, setHold bool) {
	e.dirty = true

	p := e.g.Pkg(pkg)
	st := e.dep.State(pkg)
	ext := e.ext(pkg)

	wasGarbageRemoved := st.Mode == depcache.ModeDelete &&
		p.CurrentVer != pkggraph.None &&
		ext.RemoveReason == ReasonUnused
	if wasGarbageRemoved {
		e.dep.MarkAuto(pkg, false)
	}
	purgePending := st.Purge

	// Keeping a package also abandons any candidate override.
	e.internalSetCandidate(pkg, e.dep.NaturalCandidate(pkg))

	e.dep.MarkKeep(pkg, false, !automatic)
	e.dep.SetReInstall(pkg, false)
	ext.Reinstall = false
	ext.ForbiddenVersion = ""

	switch {
	case p.CurrentVer == pkggraph.None:
		if purgePending {
			ext.Selection = pkggraph.SelPurge
		} else {
			ext.Selection = pkggraph.SelDeInstall
		}
	case setHold:
		ext.Selection = pkggraph.SelHold
	default:
		ext.Selection = pkggraph.SelInstall
	}
}

// SetCandidateVersion overrides the candidate for ver's package. Only
// a downloadable version or the installed version itself is accepted.
// An override differing from the natural candidate is recorded and
// persists across sessions until cleared by a keep or a completed
// upgrade.
func (e *Engine) SetCandidateVersion(ver pkggraph.VerID, undo *UndoGroup) bool {
	if !e.checkReadOnly("set_candidate_version") {
		return false
	}
	e.dirty = true
	if ver == pkggraph.None {
		e.sink.Error(NewPermanentError("no such version", nil).
			WithCode(ErrCodeNotFound).
			WithOperation("set_candidate_version"))
		return false
	}
	v := e.g.Ver(ver)
	pkg := v.Pkg
	p := e.g.Pkg(pkg)
	if !v.Downloadable &&
		!(ver == p.CurrentVer && p.CurrentState != pkggraph.StateConfigFiles) {
		e.sink.Error(NewPermanentError("version cannot be made candidate", nil).
			WithCode(ErrCodeValidation).
			WithResource(p.FullName()).
			WithOperation("set_candidate_version").
			WithDetail("version", v.VerStr))
		return false
	}

	// The candidate item goes in first so that a rollback replays it
	// last, after any keep has reset the candidate to natural.
	if undo != nil {
		undo.Add(UndoItem{
			Kind:          UndoCandidate,
			Pkg:           pkg,
			PrevCandidate: e.dep.State(pkg).Candidate,
		})
	}

	ag := e.BeginActionGroup(undo)
	defer ag.End()

	e.internalSetCandidate(pkg, ver)
	return true
}

// internalSetCandidate switches pkg's candidate to ver, recording an
// override when the choice differs from the natural candidate.
// Rejected versions leave the candidate alone but still dirty the
// cache.
func (e *Engine) internalSetCandidate(pkg pkggraph.PkgID, ver pkggraph.VerID) bool {
	e.dirty = true
	if ver == pkggraph.None {
		return false
	}
	v := e.g.Ver(ver)
	p := e.g.Pkg(pkg)
	if !v.Downloadable &&
		!(ver == p.CurrentVer && p.CurrentState != pkggraph.StateConfigFiles) {
		return false
	}

	st := e.dep.State(pkg)
	ext := e.ext(pkg)

	setToManual := (p.CurrentVer == pkggraph.None && st.Mode != depcache.ModeInstall) ||
		(p.CurrentVer != pkggraph.None && st.Mode == depcache.ModeDelete &&
			ext.RemoveReason == ReasonUnused)
	if setToManual {
		e.dep.MarkAuto(pkg, false)
	}

	if ver != e.dep.NaturalCandidate(pkg) {
		ext.CandidateOverride = v.VerStr
	} else {
		ext.CandidateOverride = ""
	}
	ext.Selection = pkggraph.SelInstall
	e.dep.SetCandidateVersion(ver)
	return true
}

// ForbidUpgrade prevents pkg from being upgraded to version verStr.
// If exactly that upgrade is already pending it is demoted to a keep.
func (e *Engine) ForbidUpgrade(pkg pkggraph.PkgID, verStr string, undo *UndoGroup) bool {
	if !e.checkReadOnly("forbid_upgrade") {
		return false
	}
	ext := e.ext(pkg)
	if ext.ForbiddenVersion == verStr {
		return true
	}
	ag := e.BeginActionGroup(undo)
	defer ag.End()

	e.dirty = true
	st := e.dep.State(pkg)
	if st.Candidate != pkggraph.None && st.Mode == depcache.ModeInstall &&
		e.g.Ver(st.Candidate).VerStr == verStr {
		e.internalMarkKeep(pkg, false, false)
	}
	// After the keep, which clears any previous ban.
	ext.ForbiddenVersion = verStr
	return true
}

// MarkAuto flags pkg as automatically or manually installed.
func (e *Engine) MarkAuto(pkg pkggraph.PkgID, auto bool, undo *UndoGroup) bool {
	if !e.checkReadOnly("mark_auto") {
		return false
	}
	// cheaper to check first
	if e.dep.State(pkg).Auto == auto {
		return true
	}
	ag := e.BeginActionGroup(undo)
	defer ag.End()

	e.dirty = true
	e.dep.MarkAuto(pkg, auto)
	return true
}

// SetNewFlag marks or unmarks pkg as new. Newness is display state;
// changing it alone does not dirty the cache.
func (e *Engine) SetNewFlag(pkg pkggraph.PkgID, isNew bool) bool {
	if !e.checkReadOnly("set_new_flag") {
		return false
	}
	e.setNewFlag(pkg, isNew)
	return true
}

func (e *Engine) setNewFlag(pkg pkggraph.PkgID, isNew bool) {
	st := e.ext(pkg)
	if st.New == isNew {
		return
	}
	if isNew {
		e.newCount++
	} else if e.newCount > 0 {
		e.newCount--
	}
	st.New = isNew
}

// ForgetNew clears the new flag from the named packages, or from every
// package when none are given. The whole view resets instead of
// emitting per-package change notifications.
func (e *Engine) ForgetNew(undo *UndoGroup, pkgs ...pkggraph.PkgID) bool {
	if !e.checkReadOnly("forget_new") {
		return false
	}
	forget := func(id pkggraph.PkgID) {
		st := e.ext(id)
		if !st.New {
			return
		}
		if e.newCount > 0 {
			e.newCount--
		}
		st.New = false
		e.dirty = true
		if undo != nil {
			undo.Add(UndoItem{Kind: UndoSetNew, Pkg: id})
		}
	}
	if len(pkgs) == 0 {
		for id := pkggraph.PkgID(0); int(id) < e.g.PackageCount(); id++ {
			forget(id)
		}
	} else {
		for _, id := range pkgs {
			forget(id)
		}
	}
	e.captureBackup()
	e.notifyReset()
	return true
}

// refuseSelfRemoval blocks removal of the package this program ships
// as, which would pull the engine out from under itself.
func (e *Engine) refuseSelfRemoval(pkg pkggraph.PkgID, op string) bool {
	p := e.g.Pkg(pkg)
	if e.opts.SelfPackage == "" || p.Name != e.opts.SelfPackage || !p.Installed() {
		return false
	}
	e.sink.Error(NewPermanentError("cannot remove "+p.Name+" from within "+p.Name, nil).
		WithCode(ErrCodeSelfProtected).
		WithResource(p.FullName()).
		WithOperation(op))
	return true
}
