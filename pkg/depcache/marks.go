package depcache

import (
	"github.com/depmark/depmark/pkg/pkggraph"
)

// MarkKeep sets the pending action for pkg to keep. autoKept records that
// the keep was applied automatically; fromUser additionally clears the
// auto-installed flag of a package the marking pass did not reach, the
// way an explicit keep of something nothing needs turns a dependency
// into a deliberate choice.
func (c *Cache) MarkKeep(pkg pkggraph.PkgID, autoKept, fromUser bool) {
	st := &c.states[pkg]
	c.removeCounts(pkg)
	st.Mode = ModeKeep
	st.Purge = false
	st.AutoKept = autoKept
	if fromUser && !st.Marked {
		st.Auto = false
	}
	c.addCounts(pkg)
}

// MarkDelete schedules removal of pkg, or configuration purge when purge is
// set. Deleting a package that is neither installed nor leaving config
// residue behind degrades to a keep. depth > 0 marks an automatic delete and
// consults the delete veto hook.
func (c *Cache) MarkDelete(pkg pkggraph.PkgID, purge bool, depth int) bool {
	if depth > 0 && c.deleteOk != nil && !c.deleteOk(pkg, depth) {
		return false
	}
	p := c.g.Pkg(pkg)
	st := &c.states[pkg]
	c.removeCounts(pkg)
	if p.Installed() || (purge && p.CurrentState == pkggraph.StateConfigFiles) {
		st.Mode = ModeDelete
		st.Purge = purge
	} else {
		st.Mode = ModeKeep
		st.Purge = false
	}
	st.ReInstall = false
	st.AutoKept = false
	c.addCounts(pkg)
	return true
}

// MarkInstall schedules installation of pkg's candidate. When autoInst is
// set, unsatisfied hard dependencies of the candidate are expanded
// recursively; packages pulled in that way get the auto-installed flag and
// must pass the install veto hook. Installing a package already at its
// candidate degrades to a keep.
func (c *Cache) MarkInstall(pkg pkggraph.PkgID, autoInst bool, depth int) bool {
	visited := make(map[pkggraph.PkgID]bool)
	return c.markInstall(pkg, autoInst, depth, visited)
}

func (c *Cache) markInstall(pkg pkggraph.PkgID, autoInst bool, depth int, visited map[pkggraph.PkgID]bool) bool {
	if visited[pkg] {
		return true
	}
	visited[pkg] = true

	p := c.g.Pkg(pkg)
	st := &c.states[pkg]
	if st.Candidate == pkggraph.None {
		return false
	}
	if depth > 0 && c.installOk != nil && !c.installOk(pkg, depth) {
		return false
	}
	if p.Installed() && st.Candidate == p.CurrentVer {
		c.removeCounts(pkg)
		st.Mode = ModeKeep
		st.Purge = false
		st.AutoKept = false
		c.addCounts(pkg)
		return true
	}

	c.removeCounts(pkg)
	st.Mode = ModeInstall
	st.Purge = false
	st.AutoKept = false
	st.ReInstall = false
	c.addCounts(pkg)
	if depth > 0 {
		st.Auto = true
	}

	if !autoInst {
		return true
	}

	cand := c.g.Ver(st.Candidate)
	deps := cand.Deps
	for i := 0; i < len(deps); {
		j := i
		for j+1 < len(deps) && c.g.Dep(deps[j]).Or {
			j++
		}
		group := deps[i : j+1]
		i = j + 1

		if !c.g.Dep(group[0]).Type.Critical() {
			continue
		}
		satisfied := false
		for _, did := range group {
			if c.depSatisfied(c.g.Dep(did)) {
				satisfied = true
				break
			}
		}
		if satisfied {
			continue
		}
		for _, did := range group {
			d := c.g.Dep(did)
			if target := c.installTarget(d); target != pkggraph.None {
				if c.markInstall(target, true, depth+1, visited) {
					satisfied = true
					break
				}
			}
		}
		if !satisfied {
			c.log.Debug().
				Str("package", c.g.DisplayName(pkg)).
				Str("dependency", c.g.DisplayName(c.g.Dep(group[0]).TargetPkg)).
				Msg("dependency left unsatisfied during install expansion")
		}
	}
	return true
}

// MarkAuto flips the auto-installed flag. The garbage flag goes stale until
// the next marking pass.
func (c *Cache) MarkAuto(pkg pkggraph.PkgID, auto bool) {
	c.states[pkg].Auto = auto
}

// SetReInstall requests (or cancels) reinstallation of the current version.
// Setting it requires an installed, still-downloadable current version.
func (c *Cache) SetReInstall(pkg pkggraph.PkgID, to bool) bool {
	p := c.g.Pkg(pkg)
	if to {
		if !p.Installed() || p.CurrentVer == pkggraph.None || !c.g.Ver(p.CurrentVer).Downloadable {
			return false
		}
	}
	c.removeCounts(pkg)
	c.states[pkg].ReInstall = to
	c.addCounts(pkg)
	return true
}

// SetCandidateVersion points the package's candidate at ver.
func (c *Cache) SetCandidateVersion(ver pkggraph.VerID) {
	pkg := c.g.Ver(ver).Pkg
	c.removeCounts(pkg)
	c.states[pkg].Candidate = ver
	c.addCounts(pkg)
}

// depSatisfied reports whether a single dependency edge will be satisfied
// once all pending actions run, through the target directly or any provider.
func (c *Cache) depSatisfied(d *pkggraph.Dependency) bool {
	if iv := c.InstallVer(d.TargetPkg); iv != pkggraph.None {
		if pkggraph.CheckDep(c.g.Ver(iv).VerStr, d.Op, d.TargetVer) {
			return true
		}
	}
	for _, pid := range c.g.Pkg(d.TargetPkg).ProvidedBy {
		prv := c.g.Prv(pid)
		owner := c.g.Ver(prv.OwnerVer).Pkg
		if c.InstallVer(owner) != prv.OwnerVer {
			continue
		}
		// An unversioned provide never satisfies a versioned dependency.
		if d.Op != pkggraph.OpNone && prv.ProvideVersion == "" {
			continue
		}
		if pkggraph.CheckDep(prv.ProvideVersion, d.Op, d.TargetVer) {
			return true
		}
	}
	return false
}

// installTarget picks the package whose install would satisfy d: the target
// itself when its candidate matches the restriction, else the owner of the
// first provider whose candidate carries a matching provide.
func (c *Cache) installTarget(d *pkggraph.Dependency) pkggraph.PkgID {
	if cand := c.states[d.TargetPkg].Candidate; cand != pkggraph.None {
		if pkggraph.CheckDep(c.g.Ver(cand).VerStr, d.Op, d.TargetVer) {
			return d.TargetPkg
		}
	}
	for _, pid := range c.g.Pkg(d.TargetPkg).ProvidedBy {
		prv := c.g.Prv(pid)
		owner := c.g.Ver(prv.OwnerVer).Pkg
		if c.states[owner].Candidate != prv.OwnerVer {
			continue
		}
		if d.Op != pkggraph.OpNone && prv.ProvideVersion == "" {
			continue
		}
		if pkggraph.CheckDep(prv.ProvideVersion, d.Op, d.TargetVer) {
			return owner
		}
	}
	return pkggraph.None
}
