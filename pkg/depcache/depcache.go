package depcache

import (
	"github.com/rs/zerolog"

	"github.com/depmark/depmark/pkg/pkggraph"
)

// Mode is the pending action recorded for a package.
type Mode uint8

// Pending actions.
const (
	ModeKeep Mode = iota
	ModeDelete
	ModeInstall
)

// String returns the lowercase mode name.
func (m Mode) String() string {
	switch m {
	case ModeDelete:
		return "delete"
	case ModeInstall:
		return "install"
	default:
		return "keep"
	}
}

// PkgState is the mutable low-level cell for one package.
type PkgState struct {
	// Candidate is the version an install would bring in.
	Candidate pkggraph.VerID

	// Mode is the pending action.
	Mode Mode

	// Auto marks the package as installed to satisfy a dependency rather
	// than by user request.
	Auto bool

	// AutoKept marks a keep that was applied automatically, not by the user.
	AutoKept bool

	// Purge upgrades a pending delete to configuration removal.
	Purge bool

	// ReInstall requests reinstallation of the current version.
	ReInstall bool

	// Marked and Garbage are the output of the last root-set marking pass.
	Marked  bool
	Garbage bool
}

// Policy tunes which soft dependency edges the marking pass follows.
type Policy struct {
	// FollowRecommends treats Recommends like hard dependencies when
	// deciding reachability. Defaults to on everywhere this package is used.
	FollowRecommends bool

	// FollowSuggests treats Suggests the same way.
	FollowSuggests bool
}

// RootSetFunc reports packages that must be treated as reachability roots in
// addition to the manually installed ones.
type RootSetFunc func(pkggraph.PkgID) bool

// VetoFunc can refuse an automatic (depth > 0) install or delete of a
// package during dependency expansion.
type VetoFunc func(pkg pkggraph.PkgID, depth int) bool

// Cache holds one PkgState per package plus aggregate counters.
type Cache struct {
	g      *pkggraph.Graph
	states []PkgState
	policy Policy
	log    zerolog.Logger

	installOk VetoFunc
	deleteOk  VetoFunc

	instCount int
	delCount  int
	keepCount int

	usrSize      int64
	downloadSize int64

	brokenCount int
	brokenDirty bool
}

// New builds a cache over g with every package kept at its natural candidate.
func New(g *pkggraph.Graph, policy Policy, log zerolog.Logger) *Cache {
	c := &Cache{
		g:           g,
		states:      make([]PkgState, g.PackageCount()),
		policy:      policy,
		log:         log.With().Str("component", "depcache").Logger(),
		brokenDirty: true,
	}
	for id := pkggraph.PkgID(0); int(id) < g.PackageCount(); id++ {
		c.states[id] = PkgState{Candidate: c.NaturalCandidate(id)}
		c.applyCounts(id, +1)
	}
	return c
}

// SetVetoHooks installs the hooks consulted before automatic installs and
// deletes during dependency expansion. Either may be nil.
func (c *Cache) SetVetoHooks(installOk, deleteOk VetoFunc) {
	c.installOk = installOk
	c.deleteOk = deleteOk
}

// Graph returns the package universe the cache is attached to.
func (c *Cache) Graph() *pkggraph.Graph { return c.g }

// State returns a copy of the cell for pkg.
func (c *Cache) State(pkg pkggraph.PkgID) PkgState { return c.states[pkg] }

// InstallVer returns the version that will be present after the pending
// action runs: the candidate for installs, the current version for keeps,
// None for deletes and for packages that are not installed.
func (c *Cache) InstallVer(pkg pkggraph.PkgID) pkggraph.VerID {
	st := &c.states[pkg]
	switch st.Mode {
	case ModeInstall:
		return st.Candidate
	case ModeDelete:
		return pkggraph.None
	default:
		p := c.g.Pkg(pkg)
		if !p.Installed() {
			return pkggraph.None
		}
		return p.CurrentVer
	}
}

// Upgradable reports whether pkg is installed with a candidate differing
// from the current version.
func (c *Cache) Upgradable(pkg pkggraph.PkgID) bool {
	p := c.g.Pkg(pkg)
	st := &c.states[pkg]
	return p.CurrentVer != pkggraph.None && st.Candidate != pkggraph.None &&
		st.Candidate != p.CurrentVer
}

// NaturalCandidate computes the default candidate for pkg: its newest
// version that is either downloadable or currently installed.
func (c *Cache) NaturalCandidate(pkg pkggraph.PkgID) pkggraph.VerID {
	p := c.g.Pkg(pkg)
	for _, vid := range p.Versions {
		if c.g.Ver(vid).Downloadable || vid == p.CurrentVer {
			return vid
		}
	}
	return pkggraph.None
}

// InstCount returns the number of packages pending install.
func (c *Cache) InstCount() int { return c.instCount }

// DelCount returns the number of packages pending removal.
func (c *Cache) DelCount() int { return c.delCount }

// KeepCount returns the number of upgradable packages held at their current
// version.
func (c *Cache) KeepCount() int { return c.keepCount }

// UsrSize returns the net change of installed bytes the pending actions
// would cause.
func (c *Cache) UsrSize() int64 { return c.usrSize }

// DownloadSize returns the bytes the pending actions would download.
func (c *Cache) DownloadSize() int64 { return c.downloadSize }

// removeCounts subtracts pkg's contribution to the aggregate counters.
// Call before mutating the cell, then addCounts after.
func (c *Cache) removeCounts(pkg pkggraph.PkgID) { c.applyCounts(pkg, -1) }

func (c *Cache) addCounts(pkg pkggraph.PkgID) {
	c.applyCounts(pkg, +1)
	c.brokenDirty = true
}

func (c *Cache) applyCounts(pkg pkggraph.PkgID, sign int64) {
	st := &c.states[pkg]
	p := c.g.Pkg(pkg)
	switch {
	case st.Mode == ModeDelete:
		c.delCount += int(sign)
	case st.Mode == ModeInstall:
		c.instCount += int(sign)
	case st.Mode == ModeKeep && c.Upgradable(pkg):
		c.keepCount += int(sign)
	}

	switch st.Mode {
	case ModeInstall:
		if st.Candidate != pkggraph.None {
			inst := c.g.Ver(st.Candidate)
			c.usrSize += sign * inst.InstalledSize
			c.downloadSize += sign * inst.Size
			if p.CurrentVer != pkggraph.None {
				c.usrSize -= sign * c.g.Ver(p.CurrentVer).InstalledSize
			}
		}
	case ModeDelete:
		if p.Installed() && p.CurrentVer != pkggraph.None {
			c.usrSize -= sign * c.g.Ver(p.CurrentVer).InstalledSize
		}
	case ModeKeep:
		if st.ReInstall && p.CurrentVer != pkggraph.None {
			c.downloadSize += sign * c.g.Ver(p.CurrentVer).Size
		}
	}
}
