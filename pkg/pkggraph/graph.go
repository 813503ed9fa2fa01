package pkggraph

import (
	"fmt"
	"sort"
	"strings"
)

type nameArch struct {
	name string
	arch string
}

// Graph is the immutable package universe. All accessors return pointers into
// the graph's own arrays; callers must not mutate through them.
type Graph struct {
	packages   []Package
	versions   []Version
	deps       []Dependency
	provides   []Provides
	byName     map[nameArch]PkgID
	nativeArch string
}

// NativeArch returns the architecture bare package names resolve to.
func (g *Graph) NativeArch() string { return g.nativeArch }

// PackageCount returns the number of packages, virtual ones included.
func (g *Graph) PackageCount() int { return len(g.packages) }

// DepCount returns the number of dependency edges.
func (g *Graph) DepCount() int { return len(g.deps) }

// Pkg returns the package record for id.
func (g *Graph) Pkg(id PkgID) *Package { return &g.packages[id] }

// Ver returns the version record for id.
func (g *Graph) Ver(id VerID) *Version { return &g.versions[id] }

// Dep returns the dependency edge for id.
func (g *Graph) Dep(id DepID) *Dependency { return &g.deps[id] }

// Prv returns the provides edge for id.
func (g *Graph) Prv(id PrvID) *Provides { return &g.provides[id] }

// FindPkg looks a package up by name and architecture. An empty architecture
// resolves against the native architecture first, then "all", then any.
func (g *Graph) FindPkg(name, arch string) PkgID {
	if arch != "" {
		if id, ok := g.byName[nameArch{name, arch}]; ok {
			return id
		}
		return None
	}
	for _, a := range []string{g.nativeArch, "all", ""} {
		if id, ok := g.byName[nameArch{name, a}]; ok {
			return id
		}
	}
	for key, id := range g.byName {
		if key.name == name {
			return id
		}
	}
	return None
}

// DisplayName returns the name a user would type: bare for native-arch and
// arch-independent packages, name:arch otherwise.
func (g *Graph) DisplayName(id PkgID) string {
	p := &g.packages[id]
	if p.Architecture == "" || p.Architecture == "all" || p.Architecture == g.nativeArch {
		return p.Name
	}
	return p.Name + ":" + p.Architecture
}

// ParseName splits a user-typed package spec into name and architecture,
// the inverse of DisplayName. A bare name yields an empty architecture.
func ParseName(spec string) (name, arch string) {
	if n, a, ok := strings.Cut(spec, ":"); ok {
		return n, a
	}
	return spec, ""
}

// VerStrOf returns the version string for id, or "" when id is None.
func (g *Graph) VerStrOf(id VerID) string {
	if id == None {
		return ""
	}
	return g.versions[id].VerStr
}

// Installed reports whether the package is actually on the system, counting
// a config-files-only residue as not installed.
func (p *Package) Installed() bool {
	return p.CurrentState != StateNotInstalled && p.CurrentState != StateConfigFiles
}

// Virtual reports whether the package has no versions of its own.
func (p *Package) Virtual() bool { return len(p.Versions) == 0 }

// FullName returns name:architecture, or just the name when the architecture
// is empty or "all".
func (p *Package) FullName() string {
	if p.Architecture == "" || p.Architecture == "all" {
		return p.Name
	}
	return p.Name + ":" + p.Architecture
}

// Builder assembles a Graph. Zero value is not usable; use NewBuilder.
type Builder struct {
	g      Graph
	sealed bool
}

// NewBuilder returns an empty graph builder with native architecture amd64.
func NewBuilder() *Builder {
	return &Builder{g: Graph{byName: make(map[nameArch]PkgID), nativeArch: "amd64"}}
}

// SetNativeArch changes the architecture bare names resolve to.
func (b *Builder) SetNativeArch(arch string) { b.g.nativeArch = arch }

// AddPackage returns the ID for (name, arch), creating the package record on
// first use. Created records default to optional priority, not installed.
func (b *Builder) AddPackage(name, arch string) PkgID {
	if id, ok := b.g.byName[nameArch{name, arch}]; ok {
		return id
	}
	id := PkgID(len(b.g.packages))
	b.g.packages = append(b.g.packages, Package{
		ID:           id,
		Name:         name,
		Architecture: arch,
		Priority:     PriorityOptional,
		CurrentVer:   None,
	})
	b.g.byName[nameArch{name, arch}] = id
	return id
}

// SetFlags records the essential/important flags and priority of a package.
func (b *Builder) SetFlags(pkg PkgID, essential, important bool, prio Priority) {
	p := &b.g.packages[pkg]
	p.Essential = essential
	p.Important = important
	p.Priority = prio
}

// SetSelected records the installer database's selection for a package.
func (b *Builder) SetSelected(pkg PkgID, sel SelectedState) {
	b.g.packages[pkg].SelectedState = sel
}

// AddVersion adds a concrete version to a package. Versions are kept ordered
// newest first.
func (b *Builder) AddVersion(pkg PkgID, verStr string, downloadable bool) VerID {
	id := VerID(len(b.g.versions))
	b.g.versions = append(b.g.versions, Version{
		ID:           id,
		Pkg:          pkg,
		VerStr:       verStr,
		Downloadable: downloadable,
	})
	p := &b.g.packages[pkg]
	p.Versions = append(p.Versions, id)
	sort.SliceStable(p.Versions, func(i, j int) bool {
		return Compare(b.g.versions[p.Versions[i]].VerStr, b.g.versions[p.Versions[j]].VerStr) > 0
	})
	return id
}

// SetSizes records archive and installed sizes for a version.
func (b *Builder) SetSizes(ver VerID, size, installedSize int64) {
	v := &b.g.versions[ver]
	v.Size = size
	v.InstalledSize = installedSize
}

// SetCurrent marks ver as the installed version of its package with the
// given installer state. Passing None with a state clears the version but
// keeps the state (config-files residue).
func (b *Builder) SetCurrent(pkg PkgID, ver VerID, state CurState) {
	p := &b.g.packages[pkg]
	p.CurrentVer = ver
	p.CurrentState = state
}

// AddDep declares a dependency edge from a version. or marks members of an
// OR group (every member except the last).
func (b *Builder) AddDep(from VerID, typ DepType, target PkgID, op Op, targetVer string, or bool) DepID {
	id := DepID(len(b.g.deps))
	b.g.deps = append(b.g.deps, Dependency{
		ID:        id,
		ParentVer: from,
		Type:      typ,
		TargetPkg: target,
		Op:        op,
		TargetVer: targetVer,
		Or:        or,
	})
	b.g.versions[from].Deps = append(b.g.versions[from].Deps, id)
	tgt := &b.g.packages[target]
	tgt.RevDeps = append(tgt.RevDeps, id)
	return id
}

// AddProvides declares that a version provides a virtual package name,
// optionally at a specific version.
func (b *Builder) AddProvides(from VerID, virtual PkgID, provideVersion string) PrvID {
	id := PrvID(len(b.g.provides))
	b.g.provides = append(b.g.provides, Provides{
		ID:             id,
		OwnerVer:       from,
		Pkg:            virtual,
		ProvideVersion: provideVersion,
	})
	b.g.versions[from].Provides = append(b.g.versions[from].Provides, id)
	b.g.packages[virtual].ProvidedBy = append(b.g.packages[virtual].ProvidedBy, id)
	return id
}

// Build seals the builder and returns the finished graph. The builder must
// not be used afterwards.
func (b *Builder) Build() (*Graph, error) {
	if b.sealed {
		return nil, fmt.Errorf("graph builder already sealed")
	}
	b.sealed = true
	for i := range b.g.packages {
		p := &b.g.packages[i]
		if p.CurrentVer != None && b.g.versions[p.CurrentVer].Pkg != p.ID {
			return nil, fmt.Errorf("package %s: current version belongs to another package", p.FullName())
		}
		if p.CurrentVer == None && p.CurrentState == StateInstalled {
			return nil, fmt.Errorf("package %s: installed without a current version", p.FullName())
		}
	}
	return &b.g, nil
}
