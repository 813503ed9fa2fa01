package pkggraph

// PkgID identifies a package within a Graph. IDs are dense array indices.
type PkgID int32

// VerID identifies a concrete package version within a Graph.
type VerID int32

// DepID identifies a dependency edge within a Graph.
type DepID int32

// PrvID identifies a provides edge within a Graph.
type PrvID int32

// None is the null value for all graph ID types.
const None = -1

// Priority is the distribution-assigned importance of a package.
type Priority uint8

// Package priorities, most important first.
const (
	PriorityUnset Priority = iota
	PriorityRequired
	PriorityImportant
	PriorityStandard
	PriorityOptional
	PriorityExtra
)

// String returns the lowercase priority name.
func (p Priority) String() string {
	switch p {
	case PriorityRequired:
		return "required"
	case PriorityImportant:
		return "important"
	case PriorityStandard:
		return "standard"
	case PriorityOptional:
		return "optional"
	case PriorityExtra:
		return "extra"
	default:
		return "unset"
	}
}

// CurState is the installer's view of how far a package is installed.
type CurState uint8

// Installation states as recorded by the low-level installer.
const (
	StateNotInstalled CurState = iota
	StateConfigFiles
	StateHalfInstalled
	StateUnPacked
	StateHalfConfigured
	StateInstalled
)

// String returns the lowercase state name.
func (s CurState) String() string {
	switch s {
	case StateConfigFiles:
		return "config-files"
	case StateHalfInstalled:
		return "half-installed"
	case StateUnPacked:
		return "unpacked"
	case StateHalfConfigured:
		return "half-configured"
	case StateInstalled:
		return "installed"
	default:
		return "not-installed"
	}
}

// SelectedState is the selection the installer database last recorded for a
// package. It is the value the engine compares against its own overlay to
// detect drift introduced by other tools.
type SelectedState uint8

// Installer selection states. The numeric values are stable because they are
// persisted in the overlay file.
const (
	SelUnknown SelectedState = iota
	SelInstall
	SelHold
	SelDeInstall
	SelPurge
)

// String returns the lowercase selection name.
func (s SelectedState) String() string {
	switch s {
	case SelInstall:
		return "install"
	case SelHold:
		return "hold"
	case SelDeInstall:
		return "deinstall"
	case SelPurge:
		return "purge"
	default:
		return "unknown"
	}
}

// DepType classifies a dependency edge.
type DepType uint8

// Dependency types. Depends and PreDepends are the hard ("critical") types;
// Conflicts, Breaks and Obsoletes are negative.
const (
	DepDepends DepType = iota
	DepPreDepends
	DepSuggests
	DepRecommends
	DepConflicts
	DepReplaces
	DepObsoletes
	DepBreaks
	DepEnhances
)

// String returns the dependency type name as used in DOT output and logs.
func (t DepType) String() string {
	switch t {
	case DepDepends:
		return "Depends"
	case DepPreDepends:
		return "PreDepends"
	case DepSuggests:
		return "Suggests"
	case DepRecommends:
		return "Recommends"
	case DepConflicts:
		return "Conflicts"
	case DepReplaces:
		return "Replaces"
	case DepObsoletes:
		return "Obsoletes"
	case DepBreaks:
		return "Breaks"
	case DepEnhances:
		return "Enhances"
	default:
		return "Unknown"
	}
}

// Critical reports whether the edge must be satisfied for the parent to work.
func (t DepType) Critical() bool {
	return t == DepDepends || t == DepPreDepends
}

// Negative reports whether the edge forbids rather than requires its target.
func (t DepType) Negative() bool {
	return t == DepConflicts || t == DepBreaks || t == DepObsoletes
}

// Op is a version comparison operator on a dependency edge.
type Op uint8

// Comparison operators. OpNone means any version satisfies.
const (
	OpNone Op = iota
	OpLess
	OpLessEq
	OpEqual
	OpGreaterEq
	OpGreater
	OpNotEqual
)

// String returns the dpkg-style operator spelling.
func (o Op) String() string {
	switch o {
	case OpLess:
		return "<<"
	case OpLessEq:
		return "<="
	case OpEqual:
		return "="
	case OpGreaterEq:
		return ">="
	case OpGreater:
		return ">>"
	case OpNotEqual:
		return "!="
	default:
		return ""
	}
}

// ParseOp converts a dpkg-style operator spelling to an Op.
func ParseOp(s string) (Op, bool) {
	switch s {
	case "":
		return OpNone, true
	case "<<", "<":
		return OpLess, true
	case "<=":
		return OpLessEq, true
	case "=", "==":
		return OpEqual, true
	case ">=":
		return OpGreaterEq, true
	case ">>", ">":
		return OpGreater, true
	case "!=":
		return OpNotEqual, true
	default:
		return OpNone, false
	}
}

// Package is one named package in the universe. A package with no versions of
// its own but with provides edges pointing at it is virtual.
type Package struct {
	// ID is the package's dense index within the graph.
	ID PkgID

	// Name is the package name, unique together with Architecture.
	Name string

	// Architecture is the package architecture (e.g. amd64, all).
	Architecture string

	// Essential marks packages the system cannot function without.
	Essential bool

	// Important marks packages flagged important by the distribution.
	Important bool

	// Priority is the distribution priority of the package itself.
	Priority Priority

	// CurrentVer is the installed version, or None.
	CurrentVer VerID

	// CurrentState is how far the installer got with the package.
	CurrentState CurState

	// SelectedState is the installer database's recorded selection.
	SelectedState SelectedState

	// Versions lists all known versions, highest first.
	Versions []VerID

	// ProvidedBy lists provides edges naming this package as virtual target.
	ProvidedBy []PrvID

	// RevDeps lists dependency edges whose target is this package.
	RevDeps []DepID
}

// Version is one concrete version of a package.
type Version struct {
	// ID is the version's dense index within the graph.
	ID VerID

	// Pkg is the owning package.
	Pkg PkgID

	// VerStr is the Debian version string (epoch:upstream-revision).
	VerStr string

	// Downloadable reports whether an archive still carries this version.
	Downloadable bool

	// Size is the archive size in bytes.
	Size int64

	// InstalledSize is the unpacked size in bytes.
	InstalledSize int64

	// Deps lists dependency edges declared by this version.
	Deps []DepID

	// Provides lists provides edges declared by this version.
	Provides []PrvID
}

// Dependency is one dependency edge from a version to a target package.
type Dependency struct {
	// ID is the edge's dense index within the graph.
	ID DepID

	// ParentVer is the declaring version.
	ParentVer VerID

	// Type classifies the edge.
	Type DepType

	// TargetPkg is the depended-on package (possibly virtual).
	TargetPkg PkgID

	// Op and TargetVer restrict acceptable target versions; OpNone accepts any.
	Op Op

	// TargetVer is the version the restriction compares against.
	TargetVer string

	// Or marks edges followed by an alternative in the same OR group
	// (set on every member except the last).
	Or bool
}

// Provides is one provides edge: a version offering a virtual package name.
type Provides struct {
	// ID is the edge's dense index within the graph.
	ID PrvID

	// OwnerVer is the providing version.
	OwnerVer VerID

	// Pkg is the virtual package being provided.
	Pkg PkgID

	// ProvideVersion is the version the virtual name is provided at,
	// or empty for an unversioned provide.
	ProvideVersion string
}
