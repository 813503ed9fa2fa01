package engine

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/depmark/depmark/pkg/depcache"
	"github.com/depmark/depmark/pkg/pkggraph"
)

func TestOverlayRoundTrip(t *testing.T) {
	g := testUniverse(t)
	path := filepath.Join(t.TempDir(), "pkgstates")

	a := newTestEngine(t, g, []string{"libfoo"}, DefaultOptions())
	a.MarkInstall(findPkg(t, g, "gadget"), true, false, nil)
	a.MarkKeep(findPkg(t, g, "app"), false, true, nil)
	a.ForbidUpgrade(findPkg(t, g, "libfoo"), "1.2", nil)
	a.AttachUserTag(findPkg(t, g, "gadget"), "web", nil)
	a.AttachUserTag(findPkg(t, g, "gadget"), "edge", nil)

	if err := a.SaveOverlay(path, true); err != nil {
		t.Fatalf("SaveOverlay failed: %v", err)
	}
	if a.Dirty() {
		t.Error("primary save left the engine dirty")
	}

	b := newTestEngine(t, g, nil, DefaultOptions())
	if err := b.LoadOverlay(path, DefaultLoadOptions()); err != nil {
		t.Fatalf("LoadOverlay failed: %v", err)
	}

	app := findPkg(t, g, "app")
	libfoo := findPkg(t, g, "libfoo")
	gadget := findPkg(t, g, "gadget")
	libbar := findPkg(t, g, "libbar")

	if st := b.Cache().State(gadget); st.Mode != depcache.ModeInstall || st.Auto {
		t.Errorf("gadget = %+v, want the manual install back", st)
	}
	if st := b.Cache().State(libbar); st.Mode != depcache.ModeInstall || !st.Auto {
		t.Errorf("libbar = %+v, want the automatic install back", st)
	}
	if sel := b.State(app).Selection; sel != pkggraph.SelHold {
		t.Errorf("app selection = %v, want hold", sel)
	}
	if !b.IsHeld(app) {
		t.Error("app hold lost in the round trip")
	}
	if got := b.State(libfoo).ForbiddenVersion; got != "1.2" {
		t.Errorf("libfoo forbidden version = %q, want 1.2", got)
	}
	if !b.Cache().State(libfoo).Auto {
		t.Error("libfoo lost the auto flag")
	}
	tags := b.State(gadget).Tags.Names(b.Tags())
	if len(tags) != 2 || tags[0] != "edge" || tags[1] != "web" {
		t.Errorf("gadget tags = %v, want [edge web]", tags)
	}
	if got := b.NewPackageCount(); got != 0 {
		t.Errorf("NewPackageCount = %d after loading, want 0", got)
	}
}

func TestLoadOverlayFirstRun(t *testing.T) {
	g := testUniverse(t)
	e := newTestEngine(t, g, nil, DefaultOptions())

	resets := 0
	e.OnReset(func() { resets++ })

	path := filepath.Join(t.TempDir(), "pkgstates")
	if err := e.LoadOverlay(path, DefaultLoadOptions()); err != nil {
		t.Fatalf("LoadOverlay failed: %v", err)
	}
	if !e.Dirty() {
		t.Error("first run did not schedule the initial save")
	}
	if got := e.NewPackageCount(); got != 0 {
		t.Errorf("NewPackageCount = %d on first run, want 0", got)
	}
	if resets != 1 {
		t.Errorf("resets = %d, want 1", resets)
	}
}

// A malformed line loses only itself: sections before and after it are
// applied, the overlay is flagged for rewriting and a parse diagnostic
// names the damage.
func TestLoadOverlayCorruptLines(t *testing.T) {
	g := testUniverse(t)
	e := newTestEngine(t, g, nil, DefaultOptions())
	path := filepath.Join(t.TempDir(), "pkgstates")

	overlay := "Package: app\nArchitecture: amd64\nState: 2\n\n" +
		"garbage without a separator\n\n" +
		"Package: libfoo\nArchitecture: amd64\nState: 0\nAuto-Installed: yes\n\n"
	if err := os.WriteFile(path, []byte(overlay), 0644); err != nil {
		t.Fatal(err)
	}

	if err := e.LoadOverlay(path, DefaultLoadOptions()); err != nil {
		t.Fatalf("LoadOverlay failed: %v", err)
	}
	if sel := e.State(findPkg(t, g, "app")).Selection; sel != pkggraph.SelHold {
		t.Errorf("app selection = %v, want the hold before the corruption", sel)
	}
	if !e.Cache().State(findPkg(t, g, "libfoo")).Auto {
		t.Error("section after the corruption was dropped")
	}
	if !e.Dirty() {
		t.Error("corrupt overlay not scheduled for rewriting")
	}

	found := false
	for _, d := range e.Sink().Drain() {
		if d.Err != nil && d.Err.Code == ErrCodeParse {
			found = true
		}
	}
	if !found {
		t.Error("no parse diagnostic reported")
	}
}

func TestLoadOverlayInvalidSelectionValue(t *testing.T) {
	g := testUniverse(t)
	e := newTestEngine(t, g, nil, DefaultOptions())
	path := filepath.Join(t.TempDir(), "pkgstates")

	// The section parses fine; only the State value is garbage.
	overlay := "Package: app\nArchitecture: amd64\nState: banana\n\n" +
		"Package: libfoo\nArchitecture: amd64\nState: 1\nAuto-Installed: yes\n\n"
	if err := os.WriteFile(path, []byte(overlay), 0644); err != nil {
		t.Fatal(err)
	}

	if err := e.LoadOverlay(path, DefaultLoadOptions()); err != nil {
		t.Fatalf("LoadOverlay failed: %v", err)
	}

	// app falls back to Unknown, which normalizes to Install for an
	// installed package.
	if sel := e.State(findPkg(t, g, "app")).Selection; sel != pkggraph.SelInstall {
		t.Errorf("app selection = %v, want the installed-package fallback", sel)
	}
	if !e.Cache().State(findPkg(t, g, "libfoo")).Auto {
		t.Error("section after the bad value was dropped")
	}

	found := false
	for _, d := range e.Sink().Drain() {
		if d.Severity == SeverityWarning {
			found = true
		}
	}
	if !found {
		t.Error("no warning reported for the bad value")
	}
}

func TestLoadOverlayUnknownPackage(t *testing.T) {
	g := testUniverse(t)
	e := newTestEngine(t, g, nil, DefaultOptions())
	path := filepath.Join(t.TempDir(), "pkgstates")

	overlay := "Package: ghost\nState: 1\n\nPackage: app\nState: 2\n\n"
	if err := os.WriteFile(path, []byte(overlay), 0644); err != nil {
		t.Fatal(err)
	}

	if err := e.LoadOverlay(path, DefaultLoadOptions()); err != nil {
		t.Fatalf("LoadOverlay failed: %v", err)
	}
	if sel := e.State(findPkg(t, g, "app")).Selection; sel != pkggraph.SelHold {
		t.Errorf("app selection = %v, want hold despite the unknown package", sel)
	}

	warned := false
	for _, d := range e.Sink().Drain() {
		if d.Severity == SeverityWarning {
			warned = true
		}
	}
	if !warned {
		t.Error("unknown package drew no warning")
	}
}

// When another tool changed the installer database's selection since the
// last save, the recorded selection loses and the installer's wins.
func TestLoadOverlayAdoptsInstallerSelections(t *testing.T) {
	b := pkggraph.NewBuilder()
	app := b.AddPackage("app", "amd64")
	v1 := b.AddVersion(app, "1.0", true)
	b.AddVersion(app, "2.0", true)
	b.SetCurrent(app, v1, pkggraph.StateInstalled)
	b.SetSelected(app, pkggraph.SelHold)
	g, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	e := newTestEngine(t, g, nil, DefaultOptions())

	path := filepath.Join(t.TempDir(), "pkgstates")
	overlay := "Package: app\nArchitecture: amd64\nState: 1\nDselect-State: 1\n\n"
	if err := os.WriteFile(path, []byte(overlay), 0644); err != nil {
		t.Fatal(err)
	}

	if err := e.LoadOverlay(path, DefaultLoadOptions()); err != nil {
		t.Fatalf("LoadOverlay failed: %v", err)
	}
	st := e.State(app)
	if st.Selection != pkggraph.SelHold || st.OriginalSelection != pkggraph.SelHold {
		t.Errorf("app state = %+v, want the installer's hold adopted", st)
	}
	if !e.IsHeld(app) {
		t.Error("adopted hold has no effect")
	}
	if !e.Dirty() {
		t.Error("adopting a selection did not dirty the overlay")
	}
}

// A pinned upgrade whose version has vanished from the archives falls
// back to the natural candidate, with a warning.
func TestLoadOverlayStaleCandidatePin(t *testing.T) {
	g := testUniverse(t)
	e := newTestEngine(t, g, nil, DefaultOptions())
	app := findPkg(t, g, "app")
	appV2 := findVer(t, g, app, "2.0")
	path := filepath.Join(t.TempDir(), "pkgstates")

	overlay := "Package: app\nArchitecture: amd64\nState: 1\nUpgrade: yes\nVersion: 9.9\n\n"
	if err := os.WriteFile(path, []byte(overlay), 0644); err != nil {
		t.Fatal(err)
	}

	if err := e.LoadOverlay(path, DefaultLoadOptions()); err != nil {
		t.Fatalf("LoadOverlay failed: %v", err)
	}
	if got := e.State(app).CandidateOverride; got != "" {
		t.Errorf("candidate override = %q, want the stale pin cleared", got)
	}
	st := e.Cache().State(app)
	if st.Mode != depcache.ModeInstall || st.Candidate != appV2 {
		t.Errorf("app = %+v, want the upgrade replayed against the natural 2.0", st)
	}
	if !e.Dirty() {
		t.Error("dropping the stale pin did not dirty the overlay")
	}
}

// An upgrade that was carried out between sessions is not replayed.
func TestLoadOverlayDropsCompletedUpgrade(t *testing.T) {
	g := testUniverse(t)
	e := newTestEngine(t, g, nil, DefaultOptions())
	base := findPkg(t, g, "base")
	path := filepath.Join(t.TempDir(), "pkgstates")

	overlay := "Package: base\nArchitecture: amd64\nState: 1\nUpgrade: yes\n\n"
	if err := os.WriteFile(path, []byte(overlay), 0644); err != nil {
		t.Fatal(err)
	}

	if err := e.LoadOverlay(path, DefaultLoadOptions()); err != nil {
		t.Fatalf("LoadOverlay failed: %v", err)
	}
	if got := e.Cache().State(base).Mode; got != depcache.ModeKeep {
		t.Errorf("base mode = %v, want keep: the upgrade already happened", got)
	}
	if !e.Dirty() {
		t.Error("completed upgrade not scheduled for removal from the overlay")
	}
}

func TestSaveOverlayPrimarySkips(t *testing.T) {
	g := testUniverse(t)

	t.Run("clean", func(t *testing.T) {
		e := newTestEngine(t, g, nil, DefaultOptions())
		path := filepath.Join(t.TempDir(), "pkgstates")
		if err := e.SaveOverlay(path, true); err != nil {
			t.Fatalf("SaveOverlay failed: %v", err)
		}
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Error("clean engine wrote an overlay anyway")
		}
	})

	t.Run("read-only", func(t *testing.T) {
		e := newTestEngine(t, g, nil, DefaultOptions())
		e.AttachUserTag(findPkg(t, g, "app"), "dirty", nil)
		e.SetReadOnly(true)
		path := filepath.Join(t.TempDir(), "pkgstates")
		if err := e.SaveOverlay(path, true); err != nil {
			t.Fatalf("SaveOverlay failed: %v", err)
		}
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Error("read-only engine wrote an overlay anyway")
		}
	})

	// A non-primary save is an export: always written, dirty flag alone.
	t.Run("export", func(t *testing.T) {
		e := newTestEngine(t, g, nil, DefaultOptions())
		path := filepath.Join(t.TempDir(), "export")
		if err := e.SaveOverlay(path, false); err != nil {
			t.Fatalf("SaveOverlay failed: %v", err)
		}
		if _, err := os.Stat(path); err != nil {
			t.Errorf("export not written: %v", err)
		}
		if e.Dirty() {
			t.Error("export changed the dirty flag")
		}
	})
}

func TestSaveOverlayRotatesPrevious(t *testing.T) {
	g := testUniverse(t)
	e := newTestEngine(t, g, nil, DefaultOptions())
	app := findPkg(t, g, "app")
	path := filepath.Join(t.TempDir(), "pkgstates")

	e.MarkKeep(app, false, true, nil)
	if err := e.SaveOverlay(path, true); err != nil {
		t.Fatalf("first SaveOverlay failed: %v", err)
	}
	if _, err := os.Stat(path + ".old"); !os.IsNotExist(err) {
		t.Error("first save produced a backup of nothing")
	}

	e.MarkKeep(app, false, false, nil)
	if err := e.SaveOverlay(path, true); err != nil {
		t.Fatalf("second SaveOverlay failed: %v", err)
	}
	if _, err := os.Stat(path + ".old"); err != nil {
		t.Errorf("previous overlay generation not kept: %v", err)
	}
}

func TestSaveOverlayPushesSelections(t *testing.T) {
	g := testUniverse(t)
	var pushed []SelectionChange
	opts := DefaultOptions()
	opts.SyncSelections = func(chs []SelectionChange) error {
		pushed = append(pushed, chs...)
		return nil
	}
	e := newTestEngine(t, g, nil, opts)
	app := findPkg(t, g, "app")
	path := filepath.Join(t.TempDir(), "pkgstates")

	e.MarkKeep(app, false, true, nil)
	if err := e.SaveOverlay(path, true); err != nil {
		t.Fatalf("SaveOverlay failed: %v", err)
	}
	if len(pushed) != 1 || pushed[0].Pkg != app || pushed[0].Selection != pkggraph.SelHold {
		t.Fatalf("pushes = %+v, want app's hold", pushed)
	}
	if got := e.State(app).OriginalSelection; got != pkggraph.SelHold {
		t.Errorf("recorded installer selection = %v, want hold", got)
	}
}

func TestSaveOverlayFailedPushRetries(t *testing.T) {
	g := testUniverse(t)
	failing := true
	pushed := 0
	opts := DefaultOptions()
	opts.SyncSelections = func(chs []SelectionChange) error {
		if failing {
			return errors.New("installer database busy")
		}
		pushed += len(chs)
		return nil
	}
	e := newTestEngine(t, g, nil, opts)
	app := findPkg(t, g, "app")
	path := filepath.Join(t.TempDir(), "pkgstates")

	e.MarkKeep(app, false, true, nil)
	if err := e.SaveOverlay(path, true); err != nil {
		t.Fatalf("SaveOverlay failed: %v", err)
	}
	if got := e.State(app).OriginalSelection; got == pkggraph.SelHold {
		t.Fatal("failed push still updated the recorded installer selection")
	}

	failing = false
	e.AttachUserTag(app, "retry", nil)
	if err := e.SaveOverlay(path, true); err != nil {
		t.Fatalf("second SaveOverlay failed: %v", err)
	}
	if pushed == 0 {
		t.Error("selection not pushed again on the next save")
	}
	if got := e.State(app).OriginalSelection; got != pkggraph.SelHold {
		t.Errorf("recorded installer selection = %v, want hold", got)
	}
}
