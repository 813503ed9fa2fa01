package engine

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/depmark/depmark/pkg/depcache"
	"github.com/depmark/depmark/pkg/pkggraph"
)

// testUniverse builds the system most tests start from:
//
//	app     1.0 installed (manual), 2.0 downloadable; both depend libfoo
//	libfoo  1.0 installed (auto), 1.2 downloadable
//	gadget  1.0 downloadable, not installed, depends libbar
//	libbar  0.9 downloadable, not installed
//	base    1.0 installed, essential, priority required
//
// Nothing is orphaned at the start: libfoo is reachable through app.
func testUniverse(t *testing.T) *pkggraph.Graph {
	t.Helper()
	b := pkggraph.NewBuilder()

	app := b.AddPackage("app", "amd64")
	appV1 := b.AddVersion(app, "1.0", true)
	appV2 := b.AddVersion(app, "2.0", true)
	b.SetCurrent(app, appV1, pkggraph.StateInstalled)

	libfoo := b.AddPackage("libfoo", "amd64")
	fooV1 := b.AddVersion(libfoo, "1.0", true)
	b.AddVersion(libfoo, "1.2", true)
	b.SetCurrent(libfoo, fooV1, pkggraph.StateInstalled)

	gadget := b.AddPackage("gadget", "amd64")
	gadgetV := b.AddVersion(gadget, "1.0", true)

	libbar := b.AddPackage("libbar", "amd64")
	b.AddVersion(libbar, "0.9", true)

	base := b.AddPackage("base", "amd64")
	baseV := b.AddVersion(base, "1.0", true)
	b.SetCurrent(base, baseV, pkggraph.StateInstalled)
	b.SetFlags(base, true, false, pkggraph.PriorityRequired)

	b.AddDep(appV1, pkggraph.DepDepends, libfoo, pkggraph.OpNone, "", false)
	b.AddDep(appV2, pkggraph.DepDepends, libfoo, pkggraph.OpGreaterEq, "1.0", false)
	b.AddDep(gadgetV, pkggraph.DepDepends, libbar, pkggraph.OpNone, "", false)

	g, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return g
}

// newTestEngine wires a fresh dependency cache over g, seeds the named
// packages as automatically installed and returns an engine using opts.
func newTestEngine(t *testing.T, g *pkggraph.Graph, auto []string, opts Options) *Engine {
	t.Helper()
	dep := depcache.New(g, depcache.Policy{
		FollowRecommends: opts.KeepRecommends,
		FollowSuggests:   opts.KeepSuggests,
	}, zerolog.Nop())
	for _, name := range auto {
		pkg := g.FindPkg(name, "")
		if pkg == pkggraph.None {
			t.Fatalf("auto seed %s not in universe", name)
		}
		dep.MarkAuto(pkg, true)
	}
	return New(g, dep, opts, zerolog.Nop())
}

func findPkg(t *testing.T, g *pkggraph.Graph, name string) pkggraph.PkgID {
	t.Helper()
	id := g.FindPkg(name, "")
	if id == pkggraph.None {
		t.Fatalf("package %s not in universe", name)
	}
	return id
}

func TestStateDefaults(t *testing.T) {
	g := testUniverse(t)
	e := newTestEngine(t, g, []string{"libfoo"}, DefaultOptions())

	st := e.State(findPkg(t, g, "app"))
	if st.Selection != pkggraph.SelUnknown {
		t.Errorf("Selection = %v, want unknown", st.Selection)
	}
	if st.CandidateOverride != "" || st.ForbiddenVersion != "" {
		t.Errorf("fresh state carries version pins: %q / %q",
			st.CandidateOverride, st.ForbiddenVersion)
	}
	if st.Reinstall || st.New || st.PreviouslyAuto {
		t.Errorf("fresh state has flags set: %+v", st)
	}
	if len(st.Tags) != 0 {
		t.Errorf("fresh state has tags: %v", st.Tags)
	}
	if e.Dirty() {
		t.Error("fresh engine is dirty")
	}
}

func TestReadOnlyRefusesMutations(t *testing.T) {
	g := testUniverse(t)
	e := newTestEngine(t, g, []string{"libfoo"}, DefaultOptions())
	e.SetReadOnly(true)
	app := findPkg(t, g, "app")

	if e.MarkDelete(app, false, false, nil) {
		t.Fatal("MarkDelete succeeded on a read-only cache")
	}
	if got := e.Cache().State(app).Mode; got != depcache.ModeKeep {
		t.Errorf("app mode = %v after refused delete, want keep", got)
	}

	diags := e.Sink().Drain()
	if len(diags) != 1 {
		t.Fatalf("diagnostics = %d, want 1", len(diags))
	}
	if diags[0].Err == nil || diags[0].Err.Code != ErrCodeReadOnly {
		t.Errorf("diagnostic = %+v, want code %s", diags[0], ErrCodeReadOnly)
	}
}

func TestReadOnlyOverride(t *testing.T) {
	g := testUniverse(t)
	asked := 0
	opts := DefaultOptions()
	opts.ReadOnlyOverride = func() bool {
		asked++
		return true
	}
	e := newTestEngine(t, g, nil, opts)
	e.SetReadOnly(true)
	app := findPkg(t, g, "app")
	gadget := findPkg(t, g, "gadget")

	if !e.MarkDelete(app, false, false, nil) {
		t.Fatal("override did not unlock the mutation")
	}
	if !e.MarkInstall(gadget, false, false, nil) {
		t.Fatal("second mutation refused despite cached grant")
	}
	if asked != 1 {
		t.Errorf("override consulted %d times, want once", asked)
	}

	// Clearing and re-setting read-only forgets the cached answer.
	e.SetReadOnly(false)
	e.SetReadOnly(true)
	e.MarkKeep(app, false, false, nil)
	if asked != 2 {
		t.Errorf("override consulted %d times after reset, want 2", asked)
	}
}

func TestStatistics(t *testing.T) {
	g := testUniverse(t)
	e := newTestEngine(t, g, []string{"libfoo"}, DefaultOptions())

	// app and libfoo are upgradable and held at their current versions.
	if got := e.Statistics(); got.Install != 0 || got.Delete != 0 || got.Keep != 2 {
		t.Errorf("initial statistics = %+v", got)
	}

	e.MarkInstall(findPkg(t, g, "gadget"), false, false, nil)
	if got := e.Statistics(); got.Install != 2 || got.Delete != 0 {
		t.Errorf("statistics after install = %+v, want 2 installs", got)
	}

	e.MarkDelete(findPkg(t, g, "app"), false, false, nil)
	// app plus the now-unused libfoo.
	if got := e.Statistics(); got.Delete != 2 {
		t.Errorf("statistics after delete = %+v, want 2 deletes", got)
	}
}

func TestSnapshotRestore(t *testing.T) {
	g := testUniverse(t)
	e := newTestEngine(t, g, []string{"libfoo"}, DefaultOptions())
	app := findPkg(t, g, "app")
	libfoo := findPkg(t, g, "libfoo")

	var lastChanged []pkggraph.PkgID
	calls := 0
	e.OnStatesChanged(func(changed []pkggraph.PkgID) {
		calls++
		lastChanged = changed
	})

	snap := e.SnapshotState()
	e.MarkDelete(app, false, false, nil)
	if e.Cache().State(libfoo).Mode != depcache.ModeDelete {
		t.Fatal("libfoo not swept up by the delete")
	}

	if !e.RestoreState(snap) {
		t.Fatal("RestoreState failed")
	}
	if e.Cache().State(app).Mode != depcache.ModeKeep {
		t.Error("app still marked for delete after restore")
	}
	if e.Cache().State(libfoo).Mode != depcache.ModeKeep {
		t.Error("libfoo still marked for delete after restore")
	}
	if st := e.State(app); st.Selection != pkggraph.SelUnknown || st.RemoveReason != ReasonManual {
		t.Errorf("app engine state not restored: %+v", st)
	}
	if !e.Dirty() {
		t.Error("restore did not mark the overlay dirty")
	}

	// One notification for the delete, one for the restore, both
	// naming the two affected packages.
	if calls != 2 {
		t.Fatalf("notifications = %d, want 2", calls)
	}
	got := map[pkggraph.PkgID]bool{}
	for _, id := range lastChanged {
		got[id] = true
	}
	if !got[app] || !got[libfoo] || len(got) != 2 {
		t.Errorf("restore changed set = %v, want {app, libfoo}", lastChanged)
	}
}

func TestRestoreWithoutChangesStaysQuiet(t *testing.T) {
	g := testUniverse(t)
	e := newTestEngine(t, g, []string{"libfoo"}, DefaultOptions())

	calls := 0
	e.OnStatesChanged(func([]pkggraph.PkgID) { calls++ })

	snap := e.SnapshotState()
	if !e.RestoreState(snap) {
		t.Fatal("RestoreState failed")
	}
	if calls != 0 {
		t.Errorf("restoring an identical snapshot fired %d notifications", calls)
	}
}

func TestReadOnlyBlocksRestore(t *testing.T) {
	g := testUniverse(t)
	e := newTestEngine(t, g, nil, DefaultOptions())
	snap := e.SnapshotState()
	e.SetReadOnly(true)
	if e.RestoreState(snap) {
		t.Error("RestoreState succeeded on a read-only cache")
	}
}
