package pkggraph

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Seed carries per-package initial state that belongs to layers above the
// graph, read from the same fixture file for convenience.
type Seed struct {
	// Auto lists packages whose auto-installed flag starts out set.
	Auto []PkgID
}

type fileGraph struct {
	Packages []filePackage `yaml:"packages"`
}

type filePackage struct {
	Name         string        `yaml:"name"`
	Architecture string        `yaml:"architecture"`
	Essential    bool          `yaml:"essential"`
	Important    bool          `yaml:"important"`
	Priority     string        `yaml:"priority"`
	Selected     string        `yaml:"selected"`
	Current      string        `yaml:"current"`
	State        string        `yaml:"state"`
	Auto         bool          `yaml:"auto"`
	Versions     []fileVersion `yaml:"versions"`
}

type fileVersion struct {
	Version       string        `yaml:"version"`
	Downloadable  *bool         `yaml:"downloadable"`
	Size          int64         `yaml:"size"`
	InstalledSize int64         `yaml:"installed-size"`
	Depends       []fileDep     `yaml:"depends"`
	PreDepends    []fileDep     `yaml:"pre-depends"`
	Recommends    []fileDep     `yaml:"recommends"`
	Suggests      []fileDep     `yaml:"suggests"`
	Conflicts     []fileDep     `yaml:"conflicts"`
	Breaks        []fileDep     `yaml:"breaks"`
	Replaces      []fileDep     `yaml:"replaces"`
	Provides      []fileProvide `yaml:"provides"`
}

type fileDep struct {
	On      string    `yaml:"on"`
	Op      string    `yaml:"op"`
	Version string    `yaml:"version"`
	AnyOf   []fileDep `yaml:"any-of"`
}

type fileProvide struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// LoadFile reads a graph fixture from path. See Load.
func LoadFile(path string) (*Graph, *Seed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening graph file: %w", err)
	}
	defer f.Close()
	g, seed, err := Load(f)
	if err != nil {
		return nil, nil, fmt.Errorf("loading graph file %s: %w", path, err)
	}
	return g, seed, nil
}

// Load reads a YAML graph fixture: a list of packages with versions and
// structured dependency entries. Dependency targets are created on first
// reference, so forward references and purely virtual packages need no
// declaration of their own. The fixture also seeds the auto-installed flag
// for layers above the graph.
func Load(r io.Reader) (*Graph, *Seed, error) {
	var file fileGraph
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, nil, fmt.Errorf("decoding graph fixture: %w", err)
	}

	b := NewBuilder()
	seed := &Seed{}

	// First pass: all named packages and their versions, so the current
	// version can be resolved before dependency edges reference anything.
	type verKey struct {
		pkg PkgID
		idx int
	}
	verIDs := make(map[verKey]VerID)
	for _, fp := range file.Packages {
		arch := fp.Architecture
		if arch == "" {
			arch = "amd64"
		}
		pkg := b.AddPackage(fp.Name, arch)
		prio, err := parsePriority(fp.Priority)
		if err != nil {
			return nil, nil, fmt.Errorf("package %s: %w", fp.Name, err)
		}
		b.SetFlags(pkg, fp.Essential, fp.Important, prio)
		sel, err := parseSelected(fp.Selected)
		if err != nil {
			return nil, nil, fmt.Errorf("package %s: %w", fp.Name, err)
		}
		b.SetSelected(pkg, sel)

		current := VerID(None)
		for i, fv := range fp.Versions {
			down := true
			if fv.Downloadable != nil {
				down = *fv.Downloadable
			}
			id := b.AddVersion(pkg, fv.Version, down)
			b.SetSizes(id, fv.Size, fv.InstalledSize)
			verIDs[verKey{pkg, i}] = id
			if fp.Current != "" && fv.Version == fp.Current {
				current = id
			}
		}
		if fp.Current != "" && current == None {
			// Installed version no longer carried by any archive.
			current = b.AddVersion(pkg, fp.Current, false)
		}
		state, err := parseCurState(fp.State, fp.Current != "")
		if err != nil {
			return nil, nil, fmt.Errorf("package %s: %w", fp.Name, err)
		}
		if state == StateNotInstalled || state == StateConfigFiles {
			b.SetCurrent(pkg, None, state)
		} else {
			b.SetCurrent(pkg, current, state)
		}
		if fp.Auto {
			seed.Auto = append(seed.Auto, pkg)
		}
	}

	// Second pass: dependency and provides edges.
	for _, fp := range file.Packages {
		arch := fp.Architecture
		if arch == "" {
			arch = "amd64"
		}
		pkg := b.AddPackage(fp.Name, arch)
		for i, fv := range fp.Versions {
			ver, ok := verIDs[verKey{pkg, i}]
			if !ok {
				continue
			}
			groups := []struct {
				typ  DepType
				deps []fileDep
			}{
				{DepDepends, fv.Depends},
				{DepPreDepends, fv.PreDepends},
				{DepRecommends, fv.Recommends},
				{DepSuggests, fv.Suggests},
				{DepConflicts, fv.Conflicts},
				{DepBreaks, fv.Breaks},
				{DepReplaces, fv.Replaces},
			}
			for _, grp := range groups {
				for _, fd := range grp.deps {
					if err := addFileDep(b, ver, grp.typ, fd, arch); err != nil {
						return nil, nil, fmt.Errorf("package %s version %s: %w", fp.Name, fv.Version, err)
					}
				}
			}
			for _, pv := range fv.Provides {
				virtual := b.AddPackage(pv.Name, arch)
				b.AddProvides(ver, virtual, pv.Version)
			}
		}
	}

	g, err := b.Build()
	if err != nil {
		return nil, nil, err
	}
	return g, seed, nil
}

func addFileDep(b *Builder, from VerID, typ DepType, fd fileDep, arch string) error {
	if len(fd.AnyOf) > 0 {
		if fd.On != "" {
			return fmt.Errorf("dependency entry has both 'on' and 'any-of'")
		}
		for i, alt := range fd.AnyOf {
			if len(alt.AnyOf) > 0 {
				return fmt.Errorf("nested 'any-of' groups are not supported")
			}
			or := i < len(fd.AnyOf)-1
			if err := addSingleDep(b, from, typ, alt, arch, or); err != nil {
				return err
			}
		}
		return nil
	}
	return addSingleDep(b, from, typ, fd, arch, false)
}

func addSingleDep(b *Builder, from VerID, typ DepType, fd fileDep, arch string, or bool) error {
	if fd.On == "" {
		return fmt.Errorf("dependency entry missing 'on'")
	}
	op, ok := ParseOp(fd.Op)
	if !ok {
		return fmt.Errorf("dependency on %s: bad operator %q", fd.On, fd.Op)
	}
	if op != OpNone && fd.Version == "" {
		return fmt.Errorf("dependency on %s: operator %s without a version", fd.On, op)
	}
	target := b.AddPackage(fd.On, arch)
	b.AddDep(from, typ, target, op, fd.Version, or)
	return nil
}

func parsePriority(s string) (Priority, error) {
	switch s {
	case "":
		return PriorityOptional, nil
	case "required":
		return PriorityRequired, nil
	case "important":
		return PriorityImportant, nil
	case "standard":
		return PriorityStandard, nil
	case "optional":
		return PriorityOptional, nil
	case "extra":
		return PriorityExtra, nil
	default:
		return PriorityUnset, fmt.Errorf("unknown priority %q", s)
	}
}

func parseSelected(s string) (SelectedState, error) {
	switch s {
	case "", "unknown":
		return SelUnknown, nil
	case "install":
		return SelInstall, nil
	case "hold":
		return SelHold, nil
	case "deinstall":
		return SelDeInstall, nil
	case "purge":
		return SelPurge, nil
	default:
		return SelUnknown, fmt.Errorf("unknown selected state %q", s)
	}
}

func parseCurState(s string, hasCurrent bool) (CurState, error) {
	switch s {
	case "":
		if hasCurrent {
			return StateInstalled, nil
		}
		return StateNotInstalled, nil
	case "installed":
		return StateInstalled, nil
	case "not-installed":
		return StateNotInstalled, nil
	case "config-files":
		return StateConfigFiles, nil
	case "unpacked":
		return StateUnPacked, nil
	case "half-installed":
		return StateHalfInstalled, nil
	case "half-configured":
		return StateHalfConfigured, nil
	default:
		return StateNotInstalled, fmt.Errorf("unknown package state %q", s)
	}
}
