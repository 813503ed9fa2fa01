package engine

import (
	"github.com/rs/zerolog"

	"github.com/depmark/depmark/pkg/depcache"
	"github.com/depmark/depmark/pkg/pkggraph"
)

// Options tunes engine behavior. The zero value is fully conservative;
// most callers start from DefaultOptions.
type Options struct {
	// DeleteUnused schedules automatically installed packages for
	// removal once nothing depends on them.
	DeleteUnused bool

	// PurgeUnused purges unused packages instead of removing them.
	PurgeUnused bool

	// KeepRecommends treats Recommends as strong enough to keep the
	// target installed.
	KeepRecommends bool

	// KeepSuggests treats Suggests the same way.
	KeepSuggests bool

	// AutoInstall pulls in the dependencies of packages marked for
	// install.
	AutoInstall bool

	// AutoRemoveOk lets dependency expansion remove packages without
	// an explicit request. Off by default.
	AutoRemoveOk bool

	// SelfPackage names the package this program ships as; removal
	// requests for it from inside itself are refused.
	SelfPackage string

	// RootSet reports extra packages to treat as reachability roots
	// during the sweep, beyond the manually installed set.
	RootSet depcache.RootSetFunc

	// ReadOnlyOverride is consulted at most once when a mutation hits
	// a read-only cache; returning true lets mutations proceed.
	ReadOnlyOverride func() bool

	// SyncSelections, when set, receives the selections that changed
	// since the last save so they can be pushed to the installer
	// database. A returned error defers the push to the next save.
	SyncSelections func([]SelectionChange) error
}

// DefaultOptions returns the stock tuning: remove unused packages
// without purging, let Recommends and Suggests keep packages in use,
// and install dependencies automatically.
func DefaultOptions() Options {
	return Options{
		DeleteUnused:   true,
		KeepRecommends: true,
		KeepSuggests:   true,
		AutoInstall:    true,
		SelfPackage:    "depmark",
	}
}

// Engine layers selection state over a dependency cache: sticky
// selections, candidate overrides, forbidden versions, user tags and
// the new-package list, with grouped mutations that sweep orphans and
// emit change notifications when the outermost group closes.
//
// An Engine is not safe for concurrent use.
type Engine struct {
	g    *pkggraph.Graph
	dep  *depcache.Cache
	opts Options
	log  zerolog.Logger
	sink *ErrorSink
	tags *TagRegistry

	states []ExtState

	// Per-dependency classification memo, see interestingDep.
	interesting []int8

	groupLevel int
	readOnly   bool
	roGrant    int8

	dirty    bool
	newCount int

	backup *StateSnapshot

	lastSweep SweepStats

	changedFns []func([]pkggraph.PkgID)
	resetFns   []func()
}

// New layers engine state over dep and installs the veto hooks that
// protect held packages during dependency expansion. The engine starts
// writable; callers that could not take the state lock should call
// SetReadOnly before handing it out.
func New(g *pkggraph.Graph, dep *depcache.Cache, opts Options, log zerolog.Logger) *Engine {
	e := &Engine{
		g:           g,
		dep:         dep,
		opts:        opts,
		log:         log.With().Str("component", "engine").Logger(),
		tags:        NewTagRegistry(),
		states:      make([]ExtState, g.PackageCount()),
		interesting: make([]int8, g.DepCount()),
	}
	e.sink = NewErrorSink(e.log)
	dep.SetVetoHooks(e.installOk, e.deleteOk)
	// Prime reachability so the Marked and Garbage flags are valid
	// before the first action group closes.
	dep.MarkAndSweep(opts.RootSet)
	e.captureBackup()
	return e
}

// ext returns the mutable engine state for pkg.
func (e *Engine) ext(pkg pkggraph.PkgID) *ExtState {
	return &e.states[pkg]
}

// Graph returns the package universe.
func (e *Engine) Graph() *pkggraph.Graph { return e.g }

// Cache returns the underlying dependency cache.
func (e *Engine) Cache() *depcache.Cache { return e.dep }

// Sink returns the diagnostic sink.
func (e *Engine) Sink() *ErrorSink { return e.sink }

// Tags returns the user tag registry.
func (e *Engine) Tags() *TagRegistry { return e.tags }

// State returns a copy of pkg's engine state. The Tags field shares
// storage with the live set and must not be modified.
func (e *Engine) State(pkg pkggraph.PkgID) ExtState {
	return e.states[pkg]
}

// Dirty reports whether selection state has changed since the last
// successful save.
func (e *Engine) Dirty() bool { return e.dirty }

// ReadOnly reports whether mutations are currently refused.
func (e *Engine) ReadOnly() bool { return e.readOnly }

// SetReadOnly flips the read-only flag and forgets any cached
// permission override decision.
func (e *Engine) SetReadOnly(ro bool) {
	e.readOnly = ro
	e.roGrant = 0
}

// NewPackageCount returns the number of packages still flagged new.
func (e *Engine) NewPackageCount() int { return e.newCount }

// LastSweep returns counters from the most recent orphan sweep.
func (e *Engine) LastSweep() SweepStats { return e.lastSweep }

// Statistics summarizes the pending actions.
func (e *Engine) Statistics() Statistics {
	return Statistics{
		Install:      e.dep.InstCount(),
		Delete:       e.dep.DelCount(),
		Keep:         e.dep.KeepCount(),
		Broken:       e.dep.BrokenCount(),
		New:          e.newCount,
		UsrSize:      e.dep.UsrSize(),
		DownloadSize: e.dep.DownloadSize(),
	}
}

// OnStatesChanged registers fn to run when an outermost action group
// closes. fn receives the packages whose visible state changed, which
// may be empty.
func (e *Engine) OnStatesChanged(fn func([]pkggraph.PkgID)) {
	e.changedFns = append(e.changedFns, fn)
}

// OnReset registers fn to run when the whole cache state is replaced,
// as by loading a state file or forgetting new packages.
func (e *Engine) OnReset(fn func()) {
	e.resetFns = append(e.resetFns, fn)
}

func (e *Engine) notifyChanged(changed []pkggraph.PkgID) {
	for _, fn := range e.changedFns {
		fn(changed)
	}
}

func (e *Engine) notifyReset() {
	for _, fn := range e.resetFns {
		fn()
	}
}

// checkReadOnly reports whether mutation may proceed, consulting the
// permission override the first time a read-only cache is touched.
// Failures are reported only outside action groups; inner calls fail
// silently and the group close re-checks.
func (e *Engine) checkReadOnly(op string) bool {
	if !e.readOnly {
		return true
	}
	if e.readOnlyPermission() {
		return true
	}
	if e.groupLevel == 0 {
		e.sink.Error(NewConflictError("selection state is read-only", nil).
			WithCode(ErrCodeReadOnly).
			WithOperation(op))
	}
	return false
}

// readOnlyPermission asks the override at most once and caches the
// answer until SetReadOnly is called again.
func (e *Engine) readOnlyPermission() bool {
	if e.roGrant == 0 {
		if e.opts.ReadOnlyOverride != nil && e.opts.ReadOnlyOverride() {
			e.roGrant = 1
		} else {
			e.roGrant = -1
		}
	}
	return e.roGrant == 1
}

// installOk vetoes automatic installs of held packages and of
// forbidden candidate versions. Explicit requests pass.
func (e *Engine) installOk(pkg pkggraph.PkgID, depth int) bool {
	if depth == 0 {
		return true
	}
	p := e.g.Pkg(pkg)
	st := e.ext(pkg)
	cand := e.dep.State(pkg).Candidate
	if st.Selection == pkggraph.SelHold && cand != p.CurrentVer {
		e.log.Debug().Str("package", p.Name).Msg("not auto-installing held package")
		return false
	}
	if st.ForbiddenVersion != "" && cand != pkggraph.None &&
		e.g.Ver(cand).VerStr == st.ForbiddenVersion {
		e.log.Debug().Str("package", p.Name).Str("version", st.ForbiddenVersion).
			Msg("not auto-installing forbidden version")
		return false
	}
	return true
}

// deleteOk vetoes automatic removals unless AutoRemoveOk is set, and
// protects held packages unconditionally.
func (e *Engine) deleteOk(pkg pkggraph.PkgID, depth int) bool {
	if depth == 0 {
		return true
	}
	if !e.opts.AutoRemoveOk {
		return false
	}
	return e.ext(pkg).Selection != pkggraph.SelHold
}
