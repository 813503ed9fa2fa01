package engine

import (
	"fmt"

	"github.com/depmark/depmark/pkg/pkggraph"
)

// RemoveReason records why a package is slated for removal. Removals made
// for different reasons behave differently: unused removals are cancelled
// when the package stops being unused, and tools can report "removed
// because nothing depends on it" separately from explicit requests.
//
// Values are persisted in state files; do not renumber.
type RemoveReason int32

const (
	// ReasonManual means the user asked for the removal.
	ReasonManual RemoveReason = iota

	// ReasonUnused means the sweep pass removed an orphaned automatic
	// package.
	ReasonUnused

	// ReasonFromResolver means a dependency solution removed the package.
	ReasonFromResolver

	// ReasonFromCache means the dependency layer changed the pending
	// action as a side effect, without an explicit request.
	ReasonFromCache
)

// String returns the state-file name of the reason.
func (r RemoveReason) String() string {
	switch r {
	case ReasonManual:
		return "manual"
	case ReasonUnused:
		return "unused"
	case ReasonFromResolver:
		return "from-resolver"
	case ReasonFromCache:
		return "from-cache"
	default:
		return fmt.Sprintf("reason(%d)", int32(r))
	}
}

// ExtState is the per-package state the engine layers on top of the
// dependency cache cell: everything that must survive between sessions
// plus the bookkeeping for drift detection against the installer.
type ExtState struct {
	// Selection is the sticky selection persisted to the state file.
	// It shadows the pending action and survives cache rebuilds.
	Selection pkggraph.SelectedState

	// OriginalSelection is the installer's selection as of the last
	// sync, used to detect changes made behind the engine's back.
	OriginalSelection pkggraph.SelectedState

	// CandidateOverride holds the version string of an explicit
	// candidate choice, or "" when the natural candidate is in effect.
	CandidateOverride string

	// ForbiddenVersion names a version the package must not be
	// upgraded to, or "".
	ForbiddenVersion string

	// RemoveReason says why the package is being removed, when it is.
	RemoveReason RemoveReason

	// Reinstall is set while a reinstallation of the current version
	// is pending.
	Reinstall bool

	// PreviouslyAuto preserves the automatic flag for packages whose
	// install was cancelled, so re-installing restores it.
	PreviouslyAuto bool

	// New marks packages never yet seen by the user.
	New bool

	// Tags holds the user tags attached to the package.
	Tags TagSet
}

// same reports whether two extended states are identical, tags included.
func (s *ExtState) same(o *ExtState) bool {
	return s.Selection == o.Selection &&
		s.OriginalSelection == o.OriginalSelection &&
		s.CandidateOverride == o.CandidateOverride &&
		s.ForbiddenVersion == o.ForbiddenVersion &&
		s.RemoveReason == o.RemoveReason &&
		s.Reinstall == o.Reinstall &&
		s.PreviouslyAuto == o.PreviouslyAuto &&
		s.New == o.New &&
		s.Tags.equal(o.Tags)
}

// Choice is one element of a resolver solution: install Ver of Pkg, or
// remove Pkg when Ver is None. Auto marks installs the resolver added
// for dependency reasons rather than user intent.
type Choice struct {
	Pkg  pkggraph.PkgID
	Ver  pkggraph.VerID
	Auto bool
}

// Statistics summarizes the pending actions across the cache.
type Statistics struct {
	// Install counts packages slated for install or upgrade.
	Install int `json:"install"`

	// Delete counts packages slated for removal or purge.
	Delete int `json:"delete"`

	// Keep counts installed packages held back from an available upgrade.
	Keep int `json:"keep"`

	// Broken counts packages whose dependencies are unsatisfied after
	// the pending actions.
	Broken int `json:"broken"`

	// New counts packages not yet seen by the user.
	New int `json:"new"`

	// UsrSize is the net change in installed bytes.
	UsrSize int64 `json:"usr_size"`

	// DownloadSize is the number of bytes that must be fetched.
	DownloadSize int64 `json:"download_size"`
}
