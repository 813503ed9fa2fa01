package history

import (
	"github.com/depmark/depmark/pkg/depcache"
	"github.com/depmark/depmark/pkg/engine"
	"github.com/depmark/depmark/pkg/pkggraph"
)

// actionString names a pending action the way the journal stores it.
func actionString(mode depcache.Mode, purge bool, sel pkggraph.SelectedState) string {
	switch mode {
	case depcache.ModeDelete:
		if purge {
			return "purge"
		}
		return "delete"
	case depcache.ModeInstall:
		return "install"
	default:
		if sel == pkggraph.SelHold {
			return "hold"
		}
		return "keep"
	}
}

// ChangesFromUndo derives journal rows from the undo group of a closed
// action group: each item's snapshot supplies the before column, the
// engine's current state the after column. Only package-state items
// produce rows; tag and new-flag items have no journal representation.
// The version columns read as installed version before the transaction
// versus the version its pending action leaves behind.
func ChangesFromUndo(e *engine.Engine, g *engine.UndoGroup) []PackageChange {
	if g == nil || g.Empty() {
		return nil
	}
	grph := e.Graph()
	cache := e.Cache()

	changes := make([]PackageChange, 0, g.Len())
	for _, it := range g.Items() {
		if it.Kind != engine.UndoPackageState {
			continue
		}
		p := grph.Pkg(it.Pkg)
		now := cache.State(it.Pkg)
		ext := e.State(it.Pkg)

		changes = append(changes, PackageChange{
			Package:      p.Name,
			Architecture: p.Architecture,
			OldSelection: actionString(it.PrevMode, it.PrevPurge, it.PrevSelection),
			NewSelection: actionString(now.Mode, now.Purge, ext.Selection),
			OldReason:    it.PrevReason.String(),
			NewReason:    ext.RemoveReason.String(),
			OldVersion:   grph.VerStrOf(p.CurrentVer),
			NewVersion:   grph.VerStrOf(cache.InstallVer(it.Pkg)),
			OldAuto:      it.PrevAuto,
			NewAuto:      now.Auto,
		})
	}
	return changes
}

// ApplyInverse replays the before column of changes through the
// ordinary mutators, newest first, inside one action group, so the
// sweep and change notifications behave exactly as for fresh edits.
// Unlike Engine.Undo it works from journal rows, which survive process
// boundaries and cache reloads. Packages no longer present in the
// universe are skipped; the count of changes actually applied is
// returned.
func ApplyInverse(e *engine.Engine, changes []*PackageChange, undo *engine.UndoGroup) int {
	if len(changes) == 0 {
		return 0
	}
	g := e.Graph()

	ag := e.BeginActionGroup(undo)
	defer ag.End()

	applied := 0
	for i := len(changes) - 1; i >= 0; i-- {
		c := changes[i]
		pkg := g.FindPkg(c.Package, c.Architecture)
		if pkg == pkggraph.None {
			continue
		}

		var done bool
		switch c.OldSelection {
		case "purge":
			done = e.MarkDelete(pkg, true, c.OldReason == "unused", nil)
		case "delete":
			done = e.MarkDelete(pkg, false, c.OldReason == "unused", nil)
		case "install":
			done = e.MarkInstall(pkg, false, false, nil)
		case "hold":
			done = e.MarkKeep(pkg, false, true, nil)
		default:
			done = e.MarkKeep(pkg, false, false, nil)
		}
		if done {
			e.MarkAuto(pkg, c.OldAuto, nil)
			applied++
		}
	}
	return applied
}
