package policy

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/depmark/depmark/pkg/depcache"
	"github.com/depmark/depmark/pkg/pkggraph"
)

// InfoFunc builds the policy input document for one package. The graph
// alone cannot see selection-layer facts like the auto flag or user
// tags, so callers supply a closure over whatever layers they hold.
type InfoFunc func(pkggraph.PkgID) *PackageInfo

// GraphInfo returns an InfoFunc filling in the graph-derived fields.
// The Auto and Tags fields stay zero; wrap the result when those
// matter.
func GraphInfo(g *pkggraph.Graph) InfoFunc {
	return func(id pkggraph.PkgID) *PackageInfo {
		p := g.Pkg(id)
		return &PackageInfo{
			Name:         p.Name,
			Architecture: p.Architecture,
			Version:      g.VerStrOf(p.CurrentVer),
			Priority:     p.Priority.String(),
			Essential:    p.Essential,
			Important:    p.Important,
			Installed:    p.Installed(),
		}
	}
}

// Protector caches per-package protection verdicts so the sweep can
// consult them on every walk without re-running Rego. Refresh after
// loading a graph and after every policy reload.
type Protector struct {
	eng  *Engine
	self string
	log  zerolog.Logger

	mu        sync.RWMutex
	protected map[pkggraph.PkgID]string

	stale atomic.Bool
}

// NewProtector creates a protector backed by eng. self is the package
// manager's own package name, passed to policies as input.self.
func NewProtector(eng *Engine, self string, log zerolog.Logger) *Protector {
	return &Protector{
		eng:       eng,
		self:      self,
		log:       log.With().Str("component", "protector").Logger(),
		protected: make(map[pkggraph.PkgID]string),
	}
}

// Refresh evaluates every real package in the graph and replaces the
// cached verdicts. It returns the number of protected packages.
func (p *Protector) Refresh(ctx context.Context, g *pkggraph.Graph, info InfoFunc) (int, error) {
	next := make(map[pkggraph.PkgID]string)
	for id := pkggraph.PkgID(0); int(id) < g.PackageCount(); id++ {
		if g.Pkg(id).Virtual() {
			continue
		}
		pi := info(id)
		if pi == nil {
			continue
		}

		res, err := p.eng.EvaluatePackage(ctx, &PackageInput{Package: pi, Action: "sweep", Self: p.self})
		if err != nil {
			return 0, err
		}
		if res.Protected {
			next[id] = res.Violations[0].Policy
		}
	}

	p.mu.Lock()
	p.protected = next
	p.mu.Unlock()

	p.log.Debug().Int("protected", len(next)).Msg("protection verdicts refreshed")
	return len(next), nil
}

// Invalidate marks the cached verdicts stale. Unlike Refresh, which
// reads live engine state through its InfoFunc and must run on the
// engine's owning goroutine, Invalidate touches nothing but an atomic
// flag and may be called from any goroutine. The policy reload
// watcher calls it; the owning goroutine picks the flag up via
// ConsumeStale.
func (p *Protector) Invalidate() {
	p.stale.Store(true)
}

// ConsumeStale reports whether Invalidate has been called since the
// last consume, clearing the flag. Callers that see true should run
// Refresh before acting on the cached verdicts.
func (p *Protector) ConsumeStale() bool {
	return p.stale.Swap(false)
}

// RootSet returns the hook the dependency cache consults during the
// sweep: protected packages count as reachability roots and are never
// reclaimed as unused.
func (p *Protector) RootSet() depcache.RootSetFunc {
	return func(pkg pkggraph.PkgID) bool {
		p.mu.RLock()
		_, ok := p.protected[pkg]
		p.mu.RUnlock()
		return ok
	}
}

// Verdict returns the name of the policy protecting pkg, if any.
func (p *Protector) Verdict(pkg pkggraph.PkgID) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	name, ok := p.protected[pkg]
	return name, ok
}

// Count returns the number of protected packages.
func (p *Protector) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.protected)
}

// Protected lists the protected packages in ID order.
func (p *Protector) Protected() []pkggraph.PkgID {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]pkggraph.PkgID, 0, len(p.protected))
	for id := range p.protected {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
