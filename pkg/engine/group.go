package engine

import (
	"github.com/depmark/depmark/pkg/depcache"
	"github.com/depmark/depmark/pkg/pkggraph"
)

// ActionGroup holds the cache in a transaction. Mutations made while
// any group is open are batched; when the outermost group closes, the
// orphan sweep runs, undo items and change notifications are generated
// from the accumulated difference, and the rollback baseline is
// refreshed.
type ActionGroup struct {
	e      *Engine
	undo   *UndoGroup
	closed bool
}

// BeginActionGroup opens a group. Groups nest; only the outermost
// close runs the transaction epilogue. Undo items for the whole batch
// are appended to undo, which may be nil.
func (e *Engine) BeginActionGroup(undo *UndoGroup) *ActionGroup {
	e.groupLevel++
	return &ActionGroup{e: e, undo: undo}
}

// GroupLevel returns the current action group nesting depth.
func (e *Engine) GroupLevel() int { return e.groupLevel }

// End closes the group. Closing a group twice panics.
func (a *ActionGroup) End() {
	if a.closed {
		panic("engine: action group closed twice")
	}
	a.closed = true

	e := a.e
	if e.groupLevel <= 0 {
		panic("engine: action group underflow")
	}
	if e.groupLevel == 1 {
		// Mutations were already refused individually; a read-only
		// close skips the epilogue so the baseline stays untouched.
		if e.readOnly && !e.readOnlyPermission() {
			e.groupLevel--
			return
		}
		e.sweep()
		changed := e.collectChanges(a.undo)
		e.captureBackup()
		e.notifyChanged(changed)
	}
	e.groupLevel--
}

// collectChanges diffs current state against the baseline, realigns
// sticky selections whose pending action was changed underneath them
// by the dependency layer, emits undo items for the reversible fields,
// and returns every package whose visible state moved.
func (e *Engine) collectChanges(undo *UndoGroup) []pkggraph.PkgID {
	if e.backup == nil {
		return nil
	}
	var changed []pkggraph.PkgID
	for id := pkggraph.PkgID(0); int(id) < e.g.PackageCount(); id++ {
		now := e.dep.State(id)
		was := &e.backup.dep.States[id]
		ext := e.ext(id)
		wasExt := &e.backup.ext[id]

		reversible := now.Mode != was.Mode ||
			now.Auto != was.Auto ||
			now.ReInstall != was.ReInstall ||
			ext.Selection != wasExt.Selection ||
			ext.Reinstall != wasExt.Reinstall ||
			ext.RemoveReason != wasExt.RemoveReason ||
			ext.ForbiddenVersion != wasExt.ForbiddenVersion

		if reversible {
			if now.Mode != was.Mode && ext.Selection == wasExt.Selection {
				e.fixupSelection(id, ext, now.Mode)
			}
			if undo != nil {
				undo.Add(packageStateItem(id, was, wasExt))
			}
			changed = append(changed, id)
			continue
		}

		if now.Candidate != was.Candidate ||
			now.AutoKept != was.AutoKept ||
			now.Purge != was.Purge ||
			now.Marked != was.Marked ||
			now.Garbage != was.Garbage ||
			ext.New != wasExt.New ||
			!ext.Tags.equal(wasExt.Tags) {
			changed = append(changed, id)
		}
	}
	return changed
}

// fixupSelection realigns a sticky selection with a pending action the
// dependency layer changed without an explicit request, so the saved
// selection matches what will actually happen.
func (e *Engine) fixupSelection(pkg pkggraph.PkgID, st *ExtState, mode depcache.Mode) {
	p := e.g.Pkg(pkg)
	switch mode {
	case depcache.ModeDelete:
		if st.Selection != pkggraph.SelDeInstall {
			if p.CurrentVer != pkggraph.None {
				st.RemoveReason = ReasonFromCache
			}
			st.Selection = pkggraph.SelDeInstall
		}
	case depcache.ModeKeep:
		if p.CurrentVer != pkggraph.None {
			st.Selection = pkggraph.SelInstall
		} else if p.CurrentState == pkggraph.StateNotInstalled {
			st.Selection = pkggraph.SelPurge
		} else {
			st.Selection = pkggraph.SelDeInstall
		}
	case depcache.ModeInstall:
		st.Selection = pkggraph.SelInstall
	}
}
