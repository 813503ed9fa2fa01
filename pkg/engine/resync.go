package engine

import (
	"github.com/depmark/depmark/pkg/pkggraph"
)

// MarkFromDselect aligns pkg's pending action with the selection the
// installer database last recorded, and remembers that selection for
// later drift detection. Used when another tool changed selections
// behind the engine's back.
func (e *Engine) MarkFromDselect(pkg pkggraph.PkgID, undo *UndoGroup) bool {
	if !e.checkReadOnly("mark_from_dselect") {
		return false
	}
	p := e.g.Pkg(pkg)
	st := e.ext(pkg)

	st.OriginalSelection = p.SelectedState
	if p.SelectedState == st.Selection {
		return true
	}

	switch p.SelectedState {
	case pkggraph.SelPurge:
		if p.CurrentVer != pkggraph.None || !e.dep.State(pkg).Purge {
			return e.MarkDelete(pkg, true, false, undo)
		}
		return e.MarkKeep(pkg, false, false, undo)

	case pkggraph.SelUnknown, pkggraph.SelDeInstall:
		if p.CurrentVer != pkggraph.None {
			return e.MarkDelete(pkg, false, false, undo)
		}
		return e.MarkKeep(pkg, false, false, undo)

	case pkggraph.SelHold:
		if p.CurrentVer != pkggraph.None {
			return e.MarkKeep(pkg, false, true, undo)
		}
		return true

	case pkggraph.SelInstall:
		if p.CurrentVer == pkggraph.None {
			return e.MarkInstall(pkg, false, false, undo)
		}
		return e.MarkKeep(pkg, false, false, undo)
	}
	return true
}
