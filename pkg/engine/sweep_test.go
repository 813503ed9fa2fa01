package engine

import (
	"testing"

	"github.com/depmark/depmark/pkg/depcache"
	"github.com/depmark/depmark/pkg/pkggraph"
)

// orphanUniverse builds a system with a package already fallen out of
// use:
//
//	holder   1.0 installed (manual), depends libused
//	libused  1.0 installed (auto)
//	orphan   0.3 installed (auto), nothing depends on it
func orphanUniverse(t *testing.T) *pkggraph.Graph {
	t.Helper()
	b := pkggraph.NewBuilder()

	holder := b.AddPackage("holder", "amd64")
	holderV := b.AddVersion(holder, "1.0", true)
	b.SetCurrent(holder, holderV, pkggraph.StateInstalled)

	libused := b.AddPackage("libused", "amd64")
	usedV := b.AddVersion(libused, "1.0", true)
	b.SetCurrent(libused, usedV, pkggraph.StateInstalled)

	orphan := b.AddPackage("orphan", "amd64")
	orphanV := b.AddVersion(orphan, "0.3", true)
	b.SetCurrent(orphan, orphanV, pkggraph.StateInstalled)

	b.AddDep(holderV, pkggraph.DepDepends, libused, pkggraph.OpNone, "", false)

	g, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return g
}

func TestSweepCollectsOrphan(t *testing.T) {
	g := orphanUniverse(t)
	e := newTestEngine(t, g, []string{"libused", "orphan"}, DefaultOptions())
	orphan := findPkg(t, g, "orphan")
	libused := findPkg(t, g, "libused")

	ag := e.BeginActionGroup(nil)
	ag.End()

	st := e.Cache().State(orphan)
	if st.Mode != depcache.ModeDelete {
		t.Fatalf("orphan mode = %v, want delete", st.Mode)
	}
	ext := e.State(orphan)
	if ext.Selection != pkggraph.SelDeInstall || ext.RemoveReason != ReasonUnused {
		t.Errorf("orphan engine state = %+v", ext)
	}
	if e.Cache().State(libused).Mode != depcache.ModeKeep {
		t.Error("libused collected despite holder depending on it")
	}
	if got := e.LastSweep(); got.Collected != 1 || got.Reinstated != 0 {
		t.Errorf("sweep stats = %+v, want one collection", got)
	}
}

func TestSweepHonorsRootSet(t *testing.T) {
	g := orphanUniverse(t)
	orphan := findPkg(t, g, "orphan")
	opts := DefaultOptions()
	opts.RootSet = func(pkg pkggraph.PkgID) bool { return pkg == orphan }
	e := newTestEngine(t, g, []string{"libused", "orphan"}, opts)

	ag := e.BeginActionGroup(nil)
	ag.End()

	if got := e.Cache().State(orphan).Mode; got != depcache.ModeKeep {
		t.Errorf("orphan mode = %v, want keep: the root set protects it", got)
	}
	if got := e.LastSweep().Collected; got != 0 {
		t.Errorf("Collected = %d, want 0", got)
	}
}

func TestSweepDisabled(t *testing.T) {
	g := orphanUniverse(t)
	opts := DefaultOptions()
	opts.DeleteUnused = false
	e := newTestEngine(t, g, []string{"libused", "orphan"}, opts)
	orphan := findPkg(t, g, "orphan")

	ag := e.BeginActionGroup(nil)
	ag.End()

	if got := e.Cache().State(orphan).Mode; got != depcache.ModeKeep {
		t.Errorf("orphan mode = %v, want keep with the sweep disabled", got)
	}
	if got := e.LastSweep(); got != (SweepStats{}) {
		t.Errorf("sweep stats = %+v, want zero", got)
	}
}

func TestSweepCancelsInstallOfGarbage(t *testing.T) {
	g := testUniverse(t)
	e := newTestEngine(t, g, []string{"libfoo"}, DefaultOptions())
	gadget := findPkg(t, g, "gadget")
	libbar := findPkg(t, g, "libbar")

	e.MarkInstall(gadget, true, false, nil)
	if e.Cache().State(libbar).Mode != depcache.ModeInstall {
		t.Fatal("libbar not pulled in")
	}

	e.MarkKeep(gadget, false, false, nil)
	st := e.Cache().State(libbar)
	if st.Mode != depcache.ModeKeep {
		t.Fatalf("libbar mode = %v, want the install cancelled", st.Mode)
	}
	if sel := e.State(libbar).Selection; sel != pkggraph.SelDeInstall {
		t.Errorf("libbar selection = %v, want deinstall", sel)
	}
}

func TestSweepReinstatesNeededOrphan(t *testing.T) {
	g := testUniverse(t)
	e := newTestEngine(t, g, []string{"libfoo"}, DefaultOptions())
	app := findPkg(t, g, "app")
	libfoo := findPkg(t, g, "libfoo")

	e.MarkDelete(app, false, false, nil)
	if e.Cache().State(libfoo).Mode != depcache.ModeDelete {
		t.Fatal("libfoo not swept up by the delete")
	}

	e.MarkKeep(app, false, false, nil)
	st := e.Cache().State(libfoo)
	if st.Mode != depcache.ModeKeep {
		t.Fatalf("libfoo mode = %v, want reinstated to keep", st.Mode)
	}
	if !st.Auto {
		t.Error("reinstatement cleared the auto flag")
	}
	if sel := e.State(libfoo).Selection; sel != pkggraph.SelInstall {
		t.Errorf("libfoo selection = %v, want install", sel)
	}
	if got := e.LastSweep().Reinstated; got != 1 {
		t.Errorf("Reinstated = %d, want 1", got)
	}
}

// conflictUniverse builds the system for reinstatement conflicts:
//
//	pkga    1.0 installed (manual), depends libc and libd
//	libc    1.0 installed (auto)
//	libd    1.0 installed (auto), depends libc
//	newpkg  1.0 downloadable, conflicts libc
func conflictUniverse(t *testing.T) *pkggraph.Graph {
	t.Helper()
	b := pkggraph.NewBuilder()

	pkga := b.AddPackage("pkga", "amd64")
	pkgaV := b.AddVersion(pkga, "1.0", true)
	b.SetCurrent(pkga, pkgaV, pkggraph.StateInstalled)

	libc := b.AddPackage("libc", "amd64")
	libcV := b.AddVersion(libc, "1.0", true)
	b.SetCurrent(libc, libcV, pkggraph.StateInstalled)

	libd := b.AddPackage("libd", "amd64")
	libdV := b.AddVersion(libd, "1.0", true)
	b.SetCurrent(libd, libdV, pkggraph.StateInstalled)

	newpkg := b.AddPackage("newpkg", "amd64")
	newV := b.AddVersion(newpkg, "1.0", true)

	b.AddDep(pkgaV, pkggraph.DepDepends, libc, pkggraph.OpNone, "", false)
	b.AddDep(pkgaV, pkggraph.DepDepends, libd, pkggraph.OpNone, "", false)
	b.AddDep(libdV, pkggraph.DepDepends, libc, pkggraph.OpNone, "", false)
	b.AddDep(newV, pkggraph.DepConflicts, libc, pkggraph.OpNone, "", false)

	g, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return g
}

// A reinstatement candidate whose installed version conflicts with a
// pending install stays removed, and so does everything that needs it.
func TestSweepConflictedReinstatement(t *testing.T) {
	g := conflictUniverse(t)
	e := newTestEngine(t, g, []string{"libc", "libd"}, DefaultOptions())
	pkga := findPkg(t, g, "pkga")
	libc := findPkg(t, g, "libc")
	libd := findPkg(t, g, "libd")
	newpkg := findPkg(t, g, "newpkg")

	e.MarkDelete(pkga, false, false, nil)
	if e.Cache().State(libc).Mode != depcache.ModeDelete ||
		e.Cache().State(libd).Mode != depcache.ModeDelete {
		t.Fatal("cascade did not remove libc and libd")
	}

	ag := e.BeginActionGroup(nil)
	e.MarkInstall(newpkg, true, false, nil)
	e.MarkKeep(pkga, false, false, nil)
	ag.End()

	if got := e.Cache().State(newpkg).Mode; got != depcache.ModeInstall {
		t.Fatalf("newpkg mode = %v, want install", got)
	}
	if got := e.Cache().State(libc).Mode; got != depcache.ModeDelete {
		t.Errorf("libc mode = %v, want to stay deleted: newpkg conflicts with it", got)
	}
	if got := e.Cache().State(libd).Mode; got != depcache.ModeDelete {
		t.Errorf("libd mode = %v, want to stay deleted: it needs the conflicted libc", got)
	}
	stats := e.LastSweep()
	if stats.Conflicted != 1 {
		t.Errorf("Conflicted = %d, want 1", stats.Conflicted)
	}
	if stats.Reinstated != 0 {
		t.Errorf("Reinstated = %d, want 0", stats.Reinstated)
	}
}

// Without the conflicting install the same keep brings both libraries
// back.
func TestSweepReinstatesChain(t *testing.T) {
	g := conflictUniverse(t)
	e := newTestEngine(t, g, []string{"libc", "libd"}, DefaultOptions())
	pkga := findPkg(t, g, "pkga")
	libc := findPkg(t, g, "libc")
	libd := findPkg(t, g, "libd")

	e.MarkDelete(pkga, false, false, nil)
	e.MarkKeep(pkga, false, false, nil)

	if got := e.Cache().State(libc).Mode; got != depcache.ModeKeep {
		t.Errorf("libc mode = %v, want reinstated", got)
	}
	if got := e.Cache().State(libd).Mode; got != depcache.ModeKeep {
		t.Errorf("libd mode = %v, want reinstated", got)
	}
	if got := e.LastSweep().Reinstated; got != 2 {
		t.Errorf("Reinstated = %d, want 2", got)
	}
}

// A user-initiated removal is never reclassified as automatic and never
// resurrected by the sweep.
func TestSweepPreservesManualRemoveReason(t *testing.T) {
	g := testUniverse(t)
	e := newTestEngine(t, g, []string{"libfoo"}, DefaultOptions())
	app := findPkg(t, g, "app")
	libfoo := findPkg(t, g, "libfoo")

	e.MarkDelete(libfoo, false, false, nil)
	if got := e.State(libfoo).RemoveReason; got != ReasonManual {
		t.Fatalf("remove reason = %v, want manual", got)
	}

	// The cascade from app finds libfoo already scheduled and leaves
	// the reason alone.
	e.MarkDelete(app, false, false, nil)
	if got := e.State(libfoo).RemoveReason; got != ReasonManual {
		t.Errorf("remove reason = %v after cascade, want manual preserved", got)
	}

	// Keeping app back reinstates unused removals only.
	e.MarkKeep(app, false, false, nil)
	if got := e.Cache().State(libfoo).Mode; got != depcache.ModeDelete {
		t.Errorf("libfoo mode = %v, want the manual removal to survive", got)
	}
}

func TestSweepFollowsRecommendsPolicy(t *testing.T) {
	build := func(t *testing.T) *pkggraph.Graph {
		b := pkggraph.NewBuilder()
		pkgr := b.AddPackage("pkgr", "amd64")
		prV := b.AddVersion(pkgr, "1.0", true)
		b.SetCurrent(pkgr, prV, pkggraph.StateInstalled)

		libsoft := b.AddPackage("libsoft", "amd64")
		lsV := b.AddVersion(libsoft, "1.0", true)
		b.SetCurrent(libsoft, lsV, pkggraph.StateInstalled)

		b.AddDep(prV, pkggraph.DepRecommends, libsoft, pkggraph.OpNone, "", false)
		g, err := b.Build()
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}
		return g
	}

	t.Run("kept", func(t *testing.T) {
		g := build(t)
		e := newTestEngine(t, g, []string{"libsoft"}, DefaultOptions())
		ag := e.BeginActionGroup(nil)
		ag.End()
		if got := e.Cache().State(findPkg(t, g, "libsoft")).Mode; got != depcache.ModeKeep {
			t.Errorf("libsoft mode = %v, want keep: recommends keep it in use", got)
		}
	})

	t.Run("collected", func(t *testing.T) {
		g := build(t)
		opts := DefaultOptions()
		opts.KeepRecommends = false
		opts.KeepSuggests = false
		e := newTestEngine(t, g, []string{"libsoft"}, opts)
		ag := e.BeginActionGroup(nil)
		ag.End()
		if got := e.Cache().State(findPkg(t, g, "libsoft")).Mode; got != depcache.ModeDelete {
			t.Errorf("libsoft mode = %v, want delete: recommends no longer bind", got)
		}
	})
}
