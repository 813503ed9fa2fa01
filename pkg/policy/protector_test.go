package policy

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/depmark/depmark/pkg/depcache"
	"github.com/depmark/depmark/pkg/pkggraph"
)

// protectorUniverse builds a small system: base (essential), an
// installed kernel image, libfoo (installed, nothing needs it), app
// (installed) and gadget (available only).
func protectorUniverse(t *testing.T) *pkggraph.Graph {
	t.Helper()

	b := pkggraph.NewBuilder()

	base := b.AddPackage("base-files", "amd64")
	baseV := b.AddVersion(base, "12.4", true)
	b.SetCurrent(base, baseV, pkggraph.StateInstalled)
	b.SetFlags(base, true, false, pkggraph.PriorityRequired)

	kernel := b.AddPackage("linux-image-6.1.0-18-amd64", "amd64")
	kernelV := b.AddVersion(kernel, "6.1.76-1", true)
	b.SetCurrent(kernel, kernelV, pkggraph.StateInstalled)

	libfoo := b.AddPackage("libfoo", "amd64")
	fooV := b.AddVersion(libfoo, "1.0", true)
	b.SetCurrent(libfoo, fooV, pkggraph.StateInstalled)

	app := b.AddPackage("app", "amd64")
	appV := b.AddVersion(app, "2.0", true)
	b.SetCurrent(app, appV, pkggraph.StateInstalled)

	gadget := b.AddPackage("gadget", "amd64")
	b.AddVersion(gadget, "1.0", true)

	g, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return g
}

func newTestProtector(t *testing.T) *Protector {
	t.Helper()
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger, true, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return NewProtector(eng, "depmark", logger)
}

func TestProtectorRefresh(t *testing.T) {
	g := protectorUniverse(t)
	prot := newTestProtector(t)

	count, err := prot.Refresh(context.Background(), g, GraphInfo(g))
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	// base-files (essential) and the kernel image are protected.
	if count != 2 {
		t.Errorf("expected 2 protected packages, got %d: %v", count, prot.Protected())
	}
	if count != prot.Count() {
		t.Errorf("Refresh returned %d but Count reports %d", count, prot.Count())
	}

	base := g.FindPkg("base-files", "")
	if name, ok := prot.Verdict(base); !ok || name != "protected-essential" {
		t.Errorf("expected base-files protected by protected-essential, got %q, %v", name, ok)
	}

	kernel := g.FindPkg("linux-image-6.1.0-18-amd64", "")
	if name, ok := prot.Verdict(kernel); !ok || name != "protected-kernel" {
		t.Errorf("expected kernel protected by protected-kernel, got %q, %v", name, ok)
	}

	for _, name := range []string{"libfoo", "app", "gadget"} {
		id := g.FindPkg(name, "")
		if verdict, ok := prot.Verdict(id); ok {
			t.Errorf("%s should not be protected, got verdict %q", name, verdict)
		}
	}
}

func TestProtectorRootSet(t *testing.T) {
	g := protectorUniverse(t)
	prot := newTestProtector(t)

	if _, err := prot.Refresh(context.Background(), g, GraphInfo(g)); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	root := prot.RootSet()
	if !root(g.FindPkg("linux-image-6.1.0-18-amd64", "")) {
		t.Error("kernel should be in the root set")
	}
	if root(g.FindPkg("libfoo", "")) {
		t.Error("libfoo should not be in the root set")
	}
}

// The point of the protector: an auto-installed kernel nothing depends
// on survives the sweep once the root-set hook is wired in.
func TestProtectorKeepsKernelFromSweep(t *testing.T) {
	g := protectorUniverse(t)
	prot := newTestProtector(t)

	if _, err := prot.Refresh(context.Background(), g, GraphInfo(g)); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	dep := depcache.New(g, depcache.Policy{FollowRecommends: true}, zerolog.Nop())
	kernel := g.FindPkg("linux-image-6.1.0-18-amd64", "")
	libfoo := g.FindPkg("libfoo", "")
	dep.MarkAuto(kernel, true)
	dep.MarkAuto(libfoo, true)

	dep.MarkAndSweep(nil)
	if !dep.State(kernel).Garbage {
		t.Fatal("without the protector the auto kernel should be garbage")
	}

	dep.MarkAndSweep(prot.RootSet())
	if dep.State(kernel).Garbage {
		t.Error("protected kernel must not be garbage")
	}
	if !dep.State(libfoo).Garbage {
		t.Error("unprotected libfoo should still be garbage")
	}
}

func TestProtectorSelfPackage(t *testing.T) {
	b := pkggraph.NewBuilder()
	self := b.AddPackage("depmark", "amd64")
	selfV := b.AddVersion(self, "0.3.0", true)
	b.SetCurrent(self, selfV, pkggraph.StateInstalled)
	g, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	prot := newTestProtector(t)
	if _, err := prot.Refresh(context.Background(), g, GraphInfo(g)); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if name, ok := prot.Verdict(g.FindPkg("depmark", "")); !ok || name != "protected-self" {
		t.Errorf("expected depmark protected by protected-self, got %q, %v", name, ok)
	}
}

func TestProtectorInfoFuncTags(t *testing.T) {
	g := protectorUniverse(t)
	prot := newTestProtector(t)

	// Wrap GraphInfo the way a selection layer would, attaching the
	// pin tag to libfoo.
	libfoo := g.FindPkg("libfoo", "")
	info := GraphInfo(g)
	withTags := func(id pkggraph.PkgID) *PackageInfo {
		pi := info(id)
		if id == libfoo {
			pi.Tags = []string{"pin"}
		}
		return pi
	}

	if _, err := prot.Refresh(context.Background(), g, withTags); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if name, ok := prot.Verdict(libfoo); !ok || name != "protected-pinned" {
		t.Errorf("expected libfoo protected by protected-pinned, got %q, %v", name, ok)
	}
}

func TestProtectorInvalidateConsume(t *testing.T) {
	prot := newTestProtector(t)

	if prot.ConsumeStale() {
		t.Error("a fresh protector should not be stale")
	}

	prot.Invalidate()
	prot.Invalidate()
	if !prot.ConsumeStale() {
		t.Error("ConsumeStale should report the invalidation")
	}
	if prot.ConsumeStale() {
		t.Error("the flag must clear after one consume")
	}
}

// A reload watcher invalidates from its own goroutine while the
// owner keeps mutating the state its InfoFunc reads and refreshing.
// Only the atomic flag crosses goroutines, so this stays clean under
// the race detector.
func TestProtectorInvalidateConcurrent(t *testing.T) {
	g := protectorUniverse(t)
	prot := newTestProtector(t)

	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		for {
			select {
			case <-done:
				return
			default:
				prot.Invalidate()
			}
		}
	}()

	libfoo := g.FindPkg("libfoo", "")
	base := GraphInfo(g)
	tags := map[pkggraph.PkgID][]string{}
	info := func(id pkggraph.PkgID) *PackageInfo {
		pi := base(id)
		pi.Tags = tags[id]
		return pi
	}

	for i := 0; i < 50; i++ {
		if i%2 == 0 {
			tags[libfoo] = []string{"pin"}
		} else {
			delete(tags, libfoo)
		}
		if !prot.ConsumeStale() {
			continue
		}
		if _, err := prot.Refresh(context.Background(), g, info); err != nil {
			t.Fatalf("Refresh: %v", err)
		}
	}
	close(done)
	<-stopped
}

func TestProtectorRefreshReplaces(t *testing.T) {
	g := protectorUniverse(t)
	prot := newTestProtector(t)

	libfoo := g.FindPkg("libfoo", "")
	info := GraphInfo(g)
	withTags := func(id pkggraph.PkgID) *PackageInfo {
		pi := info(id)
		if id == libfoo {
			pi.Tags = []string{"pin"}
		}
		return pi
	}

	if _, err := prot.Refresh(context.Background(), g, withTags); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if _, ok := prot.Verdict(libfoo); !ok {
		t.Fatal("libfoo should be protected while pinned")
	}

	// Un-pinning and refreshing drops the verdict.
	if _, err := prot.Refresh(context.Background(), g, info); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if _, ok := prot.Verdict(libfoo); ok {
		t.Error("libfoo should not stay protected after the tag is gone")
	}
}
