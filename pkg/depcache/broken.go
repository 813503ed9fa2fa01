package depcache

import (
	"github.com/depmark/depmark/pkg/pkggraph"
)

// BrokenCount returns the number of packages whose to-be-present version has
// an unsatisfied hard dependency or a violated Conflicts/Breaks edge. The
// count is recomputed lazily after mutations.
func (c *Cache) BrokenCount() int {
	if c.brokenDirty {
		n := 0
		for pkg := pkggraph.PkgID(0); int(pkg) < c.g.PackageCount(); pkg++ {
			if c.InstBroken(pkg) {
				n++
			}
		}
		c.brokenCount = n
		c.brokenDirty = false
	}
	return c.brokenCount
}

// InstBroken reports whether pkg's to-be-present version would be broken
// after all pending actions run.
func (c *Cache) InstBroken(pkg pkggraph.PkgID) bool {
	iv := c.InstallVer(pkg)
	if iv == pkggraph.None {
		return false
	}
	v := c.g.Ver(iv)
	deps := v.Deps
	for i := 0; i < len(deps); {
		j := i
		for j+1 < len(deps) && c.g.Dep(deps[j]).Or {
			j++
		}
		group := deps[i : j+1]
		i = j + 1

		d0 := c.g.Dep(group[0])
		switch {
		case d0.Type.Critical():
			satisfied := false
			for _, did := range group {
				if c.depSatisfied(c.g.Dep(did)) {
					satisfied = true
					break
				}
			}
			if !satisfied {
				return true
			}
		case d0.Type.Negative():
			// Negative edges are not grouped; check each alone. A package
			// never conflicts with itself or its own providers.
			for _, did := range group {
				if c.negativeViolated(pkg, c.g.Dep(did)) {
					return true
				}
			}
		}
	}
	return false
}

func (c *Cache) negativeViolated(self pkggraph.PkgID, d *pkggraph.Dependency) bool {
	if d.TargetPkg != self {
		if iv := c.InstallVer(d.TargetPkg); iv != pkggraph.None {
			if pkggraph.CheckDep(c.g.Ver(iv).VerStr, d.Op, d.TargetVer) {
				return true
			}
		}
	}
	for _, pid := range c.g.Pkg(d.TargetPkg).ProvidedBy {
		prv := c.g.Prv(pid)
		owner := c.g.Ver(prv.OwnerVer).Pkg
		if owner == self {
			continue
		}
		if c.InstallVer(owner) != prv.OwnerVer {
			continue
		}
		if d.Op != pkggraph.OpNone && prv.ProvideVersion == "" {
			continue
		}
		if pkggraph.CheckDep(prv.ProvideVersion, d.Op, d.TargetVer) {
			return true
		}
	}
	return false
}

// Snapshot is a full copy of every cell plus the aggregate counters.
type Snapshot struct {
	States       []PkgState
	InstCount    int
	DelCount     int
	KeepCount    int
	UsrSize      int64
	DownloadSize int64
}

// Snapshot copies the cache state for later Restore or read-only inspection
// off the owning goroutine.
func (c *Cache) Snapshot() *Snapshot {
	states := make([]PkgState, len(c.states))
	copy(states, c.states)
	return &Snapshot{
		States:       states,
		InstCount:    c.instCount,
		DelCount:     c.delCount,
		KeepCount:    c.keepCount,
		UsrSize:      c.usrSize,
		DownloadSize: c.downloadSize,
	}
}

// Restore copies a snapshot back verbatim, counters included.
func (c *Cache) Restore(s *Snapshot) {
	copy(c.states, s.States)
	c.instCount = s.InstCount
	c.delCount = s.DelCount
	c.keepCount = s.KeepCount
	c.usrSize = s.UsrSize
	c.downloadSize = s.DownloadSize
	c.brokenDirty = true
}
