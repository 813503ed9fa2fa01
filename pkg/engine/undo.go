package engine

import (
	"github.com/google/uuid"

	"github.com/depmark/depmark/pkg/depcache"
	"github.com/depmark/depmark/pkg/pkggraph"
)

// UndoKind names the action replayed for one undo item.
type UndoKind uint8

const (
	// UndoPackageState restores a package's pending action and the
	// bookkeeping that travels with it.
	UndoPackageState UndoKind = iota

	// UndoCandidate restores an earlier candidate version choice.
	UndoCandidate

	// UndoAttachTag re-attaches a detached user tag.
	UndoAttachTag

	// UndoDetachTag detaches an attached user tag.
	UndoDetachTag

	// UndoSetNew restores a new flag cleared by ForgetNew.
	UndoSetNew
)

// UndoItem records enough of a package's prior state to put it back.
// Which fields are meaningful depends on Kind.
type UndoItem struct {
	Kind UndoKind
	Pkg  pkggraph.PkgID

	PrevMode      depcache.Mode
	PrevAuto      bool
	PrevAutoKept  bool
	PrevPurge     bool
	PrevReInstall bool

	PrevSelection pkggraph.SelectedState
	PrevReason    RemoveReason
	PrevForbidden string

	PrevCandidate pkggraph.VerID

	Tag TagRef
}

// UndoGroup collects the items generated by one user-visible action so
// they can be replayed together.
type UndoGroup struct {
	// ID identifies the group in history storage.
	ID uuid.UUID

	items []UndoItem
}

// NewUndoGroup returns an empty group with a fresh ID.
func NewUndoGroup() *UndoGroup {
	return &UndoGroup{ID: uuid.New()}
}

// Add appends an item to the group.
func (u *UndoGroup) Add(item UndoItem) {
	u.items = append(u.items, item)
}

// Len returns the number of recorded items.
func (u *UndoGroup) Len() int { return len(u.items) }

// Empty reports whether the group recorded nothing.
func (u *UndoGroup) Empty() bool { return len(u.items) == 0 }

// Items returns the recorded items, oldest first.
func (u *UndoGroup) Items() []UndoItem { return u.items }

// Undo replays g newest-first inside a single action group, so the
// sweep and change notifications run once for the whole rollback.
// Items are only meaningful against the cache generation that recorded
// them; callers discard undo history when the cache is reloaded.
func (e *Engine) Undo(g *UndoGroup) bool {
	if !e.checkReadOnly("undo") {
		return false
	}
	if g == nil || g.Empty() {
		return true
	}
	ag := e.BeginActionGroup(nil)
	defer ag.End()
	for i := len(g.items) - 1; i >= 0; i-- {
		e.undoItem(&g.items[i])
	}
	return true
}

func (e *Engine) undoItem(it *UndoItem) {
	switch it.Kind {
	case UndoPackageState:
		e.dirty = true
		if it.PrevReInstall {
			e.internalMarkInstall(it.Pkg, false, true)
		} else {
			switch it.PrevMode {
			case depcache.ModeDelete:
				e.internalMarkDelete(it.Pkg, it.PrevPurge, it.PrevReason == ReasonUnused, nil)
			case depcache.ModeKeep:
				e.internalMarkKeep(it.Pkg, it.PrevAutoKept, it.PrevSelection == pkggraph.SelHold)
			case depcache.ModeInstall:
				e.internalMarkInstall(it.Pkg, false, false)
			}
		}
		e.dep.MarkAuto(it.Pkg, it.PrevAuto)
		st := e.ext(it.Pkg)
		st.RemoveReason = it.PrevReason
		st.ForbiddenVersion = it.PrevForbidden
	case UndoCandidate:
		e.internalSetCandidate(it.Pkg, it.PrevCandidate)
	case UndoAttachTag:
		st := e.ext(it.Pkg)
		if !st.Tags.Has(it.Tag) {
			st.Tags = st.Tags.insert(it.Tag)
			e.dirty = true
		}
	case UndoDetachTag:
		st := e.ext(it.Pkg)
		if st.Tags.Has(it.Tag) {
			st.Tags = st.Tags.remove(it.Tag)
			e.dirty = true
		}
	case UndoSetNew:
		e.setNewFlag(it.Pkg, true)
		e.dirty = true
	}
}

// packageStateItem builds the undo item that restores pkg to the given
// snapshot of its cache cell and engine state.
func packageStateItem(pkg pkggraph.PkgID, dep *depcache.PkgState, ext *ExtState) UndoItem {
	return UndoItem{
		Kind:          UndoPackageState,
		Pkg:           pkg,
		PrevMode:      dep.Mode,
		PrevAuto:      dep.Auto,
		PrevAutoKept:  dep.AutoKept,
		PrevPurge:     dep.Purge,
		PrevReInstall: dep.ReInstall,
		PrevSelection: ext.Selection,
		PrevReason:    ext.RemoveReason,
		PrevForbidden: ext.ForbiddenVersion,
	}
}
