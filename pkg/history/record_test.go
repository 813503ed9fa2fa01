package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/depmark/depmark/pkg/depcache"
	"github.com/depmark/depmark/pkg/engine"
	"github.com/depmark/depmark/pkg/pkggraph"
)

// testEngine builds an engine over a small universe: app 1.0 installed
// with an upgrade to 2.0, depending on libfoo 1.0 which is installed
// automatically, and gadget 1.0 available but not installed.
func testEngine(t *testing.T) *engine.Engine {
	t.Helper()

	b := pkggraph.NewBuilder()

	app := b.AddPackage("app", "amd64")
	appV2 := b.AddVersion(app, "2.0", true)
	appV1 := b.AddVersion(app, "1.0", true)
	b.SetCurrent(app, appV1, pkggraph.StateInstalled)

	libfoo := b.AddPackage("libfoo", "amd64")
	fooV1 := b.AddVersion(libfoo, "1.0", true)
	b.SetCurrent(libfoo, fooV1, pkggraph.StateInstalled)

	gadget := b.AddPackage("gadget", "amd64")
	b.AddVersion(gadget, "1.0", true)

	for _, v := range []pkggraph.VerID{appV1, appV2} {
		b.AddDep(v, pkggraph.DepDepends, libfoo, pkggraph.OpNone, "", false)
	}

	g, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	dep := depcache.New(g, depcache.Policy{FollowRecommends: true}, zerolog.Nop())
	dep.MarkAuto(libfoo, true)

	return engine.New(g, dep, engine.DefaultOptions(), zerolog.Nop())
}

func findPkg(t *testing.T, g *pkggraph.Graph, name string) pkggraph.PkgID {
	t.Helper()
	id := g.FindPkg(name, "")
	if id == pkggraph.None {
		t.Fatalf("package %s not in universe", name)
	}
	return id
}

// removeApp deletes app inside one action group, cascading the
// unused-removal of libfoo, and returns the collected undo group.
func removeApp(t *testing.T, e *engine.Engine) *engine.UndoGroup {
	t.Helper()
	app := findPkg(t, e.Graph(), "app")

	undo := engine.NewUndoGroup()
	ag := e.BeginActionGroup(undo)
	if !e.MarkDelete(app, false, false, nil) {
		t.Fatal("MarkDelete refused")
	}
	ag.End()
	return undo
}

func TestActionString(t *testing.T) {
	tests := []struct {
		name  string
		mode  depcache.Mode
		purge bool
		sel   pkggraph.SelectedState
		want  string
	}{
		{"keep", depcache.ModeKeep, false, pkggraph.SelInstall, "keep"},
		{"hold", depcache.ModeKeep, false, pkggraph.SelHold, "hold"},
		{"install", depcache.ModeInstall, false, pkggraph.SelInstall, "install"},
		{"delete", depcache.ModeDelete, false, pkggraph.SelDeInstall, "delete"},
		{"purge", depcache.ModeDelete, true, pkggraph.SelPurge, "purge"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := actionString(tt.mode, tt.purge, tt.sel); got != tt.want {
				t.Errorf("actionString(%v, %v, %v) = %q, want %q", tt.mode, tt.purge, tt.sel, got, tt.want)
			}
		})
	}
}

func TestChangesFromUndo(t *testing.T) {
	e := testEngine(t)
	undo := removeApp(t, e)

	changes := ChangesFromUndo(e, undo)
	if len(changes) != 2 {
		t.Fatalf("expected 2 changes, got %d", len(changes))
	}

	byName := map[string]PackageChange{}
	for _, c := range changes {
		byName[c.Package] = c
	}

	app, ok := byName["app"]
	if !ok {
		t.Fatal("no change recorded for app")
	}
	if app.Architecture != "amd64" {
		t.Errorf("expected architecture amd64, got %q", app.Architecture)
	}
	if app.OldSelection != "keep" || app.NewSelection != "delete" {
		t.Errorf("app selections %q -> %q, want keep -> delete", app.OldSelection, app.NewSelection)
	}
	if app.OldReason != "manual" || app.NewReason != "manual" {
		t.Errorf("app reasons %q -> %q, want manual -> manual", app.OldReason, app.NewReason)
	}
	if app.OldVersion != "1.0" || app.NewVersion != "" {
		t.Errorf("app versions %q -> %q, want 1.0 -> none", app.OldVersion, app.NewVersion)
	}
	if app.OldAuto || app.NewAuto {
		t.Error("app is manually installed on both sides")
	}

	libfoo, ok := byName["libfoo"]
	if !ok {
		t.Fatal("no change recorded for libfoo")
	}
	if libfoo.OldSelection != "keep" || libfoo.NewSelection != "delete" {
		t.Errorf("libfoo selections %q -> %q, want keep -> delete", libfoo.OldSelection, libfoo.NewSelection)
	}
	if libfoo.NewReason != "unused" {
		t.Errorf("libfoo NewReason %q, want unused", libfoo.NewReason)
	}
	if !libfoo.OldAuto || !libfoo.NewAuto {
		t.Error("libfoo stays automatically installed")
	}
}

func TestChangesFromUndoSkipsTagItems(t *testing.T) {
	e := testEngine(t)
	app := findPkg(t, e.Graph(), "app")

	undo := engine.NewUndoGroup()
	if !e.AttachUserTag(app, "role:web", undo) {
		t.Fatal("AttachUserTag refused")
	}

	if undo.Empty() {
		t.Fatal("expected a tag undo item")
	}
	if changes := ChangesFromUndo(e, undo); len(changes) != 0 {
		t.Errorf("tag items should produce no journal rows, got %d", len(changes))
	}
}

func TestChangesFromUndoEmpty(t *testing.T) {
	e := testEngine(t)
	if changes := ChangesFromUndo(e, nil); changes != nil {
		t.Errorf("expected nil for nil group, got %v", changes)
	}
	if changes := ChangesFromUndo(e, engine.NewUndoGroup()); changes != nil {
		t.Errorf("expected nil for empty group, got %v", changes)
	}
}

func TestApplyInverse(t *testing.T) {
	e := testEngine(t)
	g := e.Graph()
	app := findPkg(t, g, "app")
	libfoo := findPkg(t, g, "libfoo")

	undo := removeApp(t, e)
	changes := ChangesFromUndo(e, undo)

	rows := make([]*PackageChange, len(changes))
	for i := range changes {
		rows[i] = &changes[i]
	}

	inverse := engine.NewUndoGroup()
	applied := ApplyInverse(e, rows, inverse)
	if applied != 2 {
		t.Fatalf("expected 2 changes applied, got %d", applied)
	}

	for _, pkg := range []pkggraph.PkgID{app, libfoo} {
		if mode := e.Cache().State(pkg).Mode; mode != depcache.ModeKeep {
			t.Errorf("%s mode %v after inverse, want keep", g.DisplayName(pkg), mode)
		}
	}
	if !e.Cache().State(libfoo).Auto {
		t.Error("libfoo lost its automatic flag")
	}
	if e.State(app).RemoveReason != engine.ReasonManual {
		t.Error("app remove reason changed by inverse")
	}
	if sel := e.State(app).Selection; sel != pkggraph.SelInstall {
		t.Errorf("app selection %v after inverse, want install", sel)
	}

	// The inverse is itself a recordable transaction
	inverseChanges := ChangesFromUndo(e, inverse)
	if len(inverseChanges) != 2 {
		t.Fatalf("expected 2 inverse changes, got %d", len(inverseChanges))
	}
	for _, c := range inverseChanges {
		if c.OldSelection != "delete" || c.NewSelection != "keep" {
			t.Errorf("%s inverse selections %q -> %q, want delete -> keep", c.Package, c.OldSelection, c.NewSelection)
		}
	}
}

func TestApplyInverseSkipsUnknownPackages(t *testing.T) {
	e := testEngine(t)

	rows := []*PackageChange{
		{Package: "ghost", Architecture: "amd64", OldSelection: "keep", OldReason: "manual"},
		{Package: "app", Architecture: "amd64", OldSelection: "hold", OldReason: "manual"},
	}

	applied := ApplyInverse(e, rows, engine.NewUndoGroup())
	if applied != 1 {
		t.Fatalf("expected 1 change applied, got %d", applied)
	}

	app := findPkg(t, e.Graph(), "app")
	if e.State(app).Selection != pkggraph.SelHold {
		t.Error("hold not restored on app")
	}
}

// TestJournalRoundTrip drives the full undo path the CLI uses: commit
// a transaction, record it, then replay its inverse from the rows read
// back out of the store.
func TestJournalRoundTrip(t *testing.T) {
	e := testEngine(t)
	g := e.Graph()
	app := findPkg(t, g, "app")
	libfoo := findPkg(t, g, "libfoo")

	store := setupTestStore(t)
	defer store.Close()
	ctx := context.Background()

	// Commit and record the forward transaction
	undo := removeApp(t, e)
	started := time.Now()
	tx := &Transaction{
		ID:         undo.ID,
		Command:    "remove app",
		StartedAt:  started,
		FinishedAt: started.Add(time.Second),
	}
	if err := store.Record(ctx, tx, ChangesFromUndo(e, undo)); err != nil {
		t.Fatalf("failed to record transaction: %v", err)
	}

	// A fresh process finds it as the undo target
	target, err := store.LatestActive(ctx)
	if err != nil {
		t.Fatalf("failed to find undo target: %v", err)
	}
	if target.ID != undo.ID {
		t.Fatalf("expected target %s, got %s", undo.ID, target.ID)
	}

	rows, err := store.Changes(ctx, target.ID)
	if err != nil {
		t.Fatalf("failed to load changes: %v", err)
	}

	inverse := engine.NewUndoGroup()
	if applied := ApplyInverse(e, rows, inverse); applied != len(rows) {
		t.Fatalf("applied %d of %d changes", applied, len(rows))
	}

	// Record the inverse and retire the target
	if err := store.MarkUndone(ctx, target.ID); err != nil {
		t.Fatalf("failed to mark undone: %v", err)
	}
	invTx := &Transaction{
		ID:         inverse.ID,
		Command:    "undo",
		StartedAt:  time.Now(),
		FinishedAt: time.Now(),
		UndoneOf:   &target.ID,
	}
	if err := store.Record(ctx, invTx, ChangesFromUndo(e, inverse)); err != nil {
		t.Fatalf("failed to record inverse: %v", err)
	}

	if _, err := store.LatestActive(ctx); !errors.Is(err, ErrNothingToUndo) {
		t.Errorf("expected an exhausted journal, got %v", err)
	}

	// Engine state is back where it started
	if e.Cache().State(app).Mode != depcache.ModeKeep {
		t.Error("app still scheduled after undo")
	}
	if st := e.Cache().State(libfoo); st.Mode != depcache.ModeKeep || !st.Auto {
		t.Error("libfoo not restored after undo")
	}
}
