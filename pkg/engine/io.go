package engine

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/depmark/depmark/pkg/depcache"
	"github.com/depmark/depmark/pkg/pkggraph"
	"github.com/depmark/depmark/pkg/statefile"
)

// LoadOptions controls how a saved state overlay is folded back into
// the cache.
type LoadOptions struct {
	// DoInitialSelections replays the saved selections into pending
	// actions. Leave it off when only the bookkeeping (new flags,
	// tags, reasons) is wanted.
	DoInitialSelections bool

	// ResetReinstall discards saved reinstallation requests instead
	// of honoring them.
	ResetReinstall bool

	// TrackInstallerSelections adopts selection changes that other
	// tools recorded in the installer database since the last save.
	TrackInstallerSelections bool

	// AutoUpgrade schedules every upgradable package for upgrade once
	// the overlay has been replayed.
	AutoUpgrade bool
}

// DefaultLoadOptions returns the load behavior of an interactive
// session: replay saved selections and adopt installer-side changes.
func DefaultLoadOptions() LoadOptions {
	return LoadOptions{
		DoInitialSelections:      true,
		TrackInstallerSelections: true,
	}
}

// SelectionChange is one selection the engine wants pushed back into
// the installer database after a save.
type SelectionChange struct {
	Pkg          pkggraph.PkgID
	Name         string
	Architecture string
	Selection    pkggraph.SelectedState
}

// LoadOverlay reads the state overlay at path and applies it to the
// engine. A missing file is a first run: nothing is flagged new and
// the engine becomes dirty so the file is created on the next save.
//
// LoadOverlay is meant to run once, right after New, before any user
// mutation.
func (e *Engine) LoadOverlay(path string, opts LoadOptions) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		e.dirty = true
		e.notifyReset()
		return nil
	}
	if err != nil {
		err := NewPermanentError("open state overlay", err).
			WithCode(ErrCodePersistIO).WithResource(path).WithOperation("load_overlay")
		e.sink.Error(err)
		return err
	}
	defer f.Close()

	if err := e.loadOverlay(f, path, opts); err != nil {
		return err
	}

	if opts.AutoUpgrade && opts.DoInitialSelections {
		e.MarkAllUpgradable(e.opts.AutoInstall, true, nil)
	}
	e.notifyReset()
	return nil
}

func (e *Engine) loadOverlay(r io.Reader, path string, opts LoadOptions) error {
	// The saved state replaces whatever baseline existed, so the old
	// backup must not produce undo entries for the replay.
	e.backup = nil
	e.resetInteresting()
	ag := e.BeginActionGroup(nil)
	defer ag.End()

	// Packages absent from the overlay are ones this engine has never
	// seen. Sections with "Unseen: no" clear the flag again.
	for id := pkggraph.PkgID(0); id < pkggraph.PkgID(e.g.PackageCount()); id++ {
		if len(e.g.Pkg(id).Versions) > 0 {
			e.setNewFlag(id, true)
		}
	}

	upgrades := make(map[pkggraph.PkgID]bool)

	sc := statefile.NewScanner(r)
	for sc.Next() {
		sec := sc.Section()
		name := sec.Field("Package")
		if name == "" {
			e.sink.Warning("state overlay %s: section without a Package field", path)
			continue
		}
		pkg := e.g.FindPkg(name, sec.Field("Architecture"))
		if pkg == pkggraph.None {
			e.sink.Warning("state overlay %s: unknown package %s", path, name)
			continue
		}
		p := e.g.Pkg(pkg)
		st := e.ext(pkg)

		if !sec.Bool("Unseen", true) {
			e.setNewFlag(pkg, false)
		}

		sel := pkggraph.SelUnknown
		if raw := sec.Field("State"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < int(pkggraph.SelUnknown) || n > int(pkggraph.SelPurge) {
				e.sink.Warning("state overlay %s: package %s has invalid selection %q", path, name, raw)
			} else {
				sel = pkggraph.SelectedState(n)
			}
		}
		st.Selection = sel

		st.OriginalSelection = pkggraph.SelectedState(sec.Int("Dselect-State", int(p.SelectedState)))
		if st.OriginalSelection < pkggraph.SelUnknown || st.OriginalSelection > pkggraph.SelPurge {
			st.OriginalSelection = p.SelectedState
		}

		reason := RemoveReason(sec.Int("Remove-Reason", int(ReasonManual)))
		if reason < ReasonManual || reason > ReasonFromCache {
			reason = ReasonManual
		}
		st.RemoveReason = reason

		st.CandidateOverride = sec.Field("Version")
		st.ForbiddenVersion = sec.Field("ForbidVer")
		st.Tags = parseUserTags(e.tags, sec.Field("User-Tags"))

		if sec.Bool("Upgrade", false) {
			upgrades[pkg] = true
		}

		if sec.Bool("Reinstall", false) {
			switch {
			case opts.ResetReinstall:
				e.dirty = true
			case p.CurrentVer == pkggraph.None || !e.g.Ver(p.CurrentVer).Downloadable:
				e.sink.Warning("cannot reinstall %s, its current version is not available", name)
			default:
				st.Reinstall = true
			}
		}

		if sec.Bool("Auto-New-Install", false) {
			st.PreviouslyAuto = true
		}
		if sec.Bool("Auto-Installed", false) {
			e.dep.MarkAuto(pkg, true)
			st.PreviouslyAuto = true
		}

		// A saved upgrade that has since been carried out is dropped,
		// together with any candidate pin that drove it.
		if upgrades[pkg] {
			done := false
			if st.CandidateOverride != "" {
				done = p.CurrentVer != pkggraph.None &&
					e.g.Ver(p.CurrentVer).VerStr == st.CandidateOverride
			} else {
				done = e.dep.NaturalCandidate(pkg) == p.CurrentVer
			}
			if done {
				delete(upgrades, pkg)
				st.CandidateOverride = ""
				e.dirty = true
			}
		}

		if opts.TrackInstallerSelections && p.SelectedState != st.OriginalSelection {
			e.dirty = true
			if opts.DoInitialSelections {
				e.MarkFromDselect(pkg, nil)
			} else {
				e.dep.MarkKeep(pkg, false, false)
			}
			continue
		}

		e.replaySelection(pkg, upgrades[pkg], opts.DoInitialSelections)
	}
	if err := sc.Err(); err != nil {
		err := NewPermanentError("read state overlay", err).
			WithCode(ErrCodePersistIO).WithResource(path).WithOperation("load_overlay")
		e.sink.Error(err)
		return err
	}
	// Corrupt lines are recoverable: everything readable has been
	// loaded, and the previous generation survives as <path>.old.
	if bad := sc.Corrupt(); len(bad) > 0 {
		e.sink.Error(NewPermanentError(
			fmt.Sprintf("state overlay has %d malformed line(s), first: %s; a previous version is kept at %s.old",
				len(bad), bad[0], path), nil).
			WithCode(ErrCodeParse).WithResource(path).WithOperation("load_overlay"))
		e.dirty = true
	}
	return nil
}

// replaySelection re-creates the pending action a saved selection
// describes, using the dependency layer directly so that replay works
// even without the write lock. Unknown selections are normalized even
// when replay itself is disabled.
func (e *Engine) replaySelection(pkg pkggraph.PkgID, upgrade, doInit bool) {
	p := e.g.Pkg(pkg)
	st := e.ext(pkg)

	switch st.Selection {
	case pkggraph.SelUnknown:
		if p.CurrentVer == pkggraph.None {
			st.Selection = pkggraph.SelDeInstall
		} else {
			st.Selection = pkggraph.SelInstall
		}

	case pkggraph.SelInstall:
		if !doInit {
			break
		}
		replayed := false
		if st.CandidateOverride != "" {
			if ver := e.findReplayVersion(pkg, st.CandidateOverride); ver != pkggraph.None {
				e.dep.SetCandidateVersion(ver)
				e.dep.MarkInstall(pkg, false, 0)
				replayed = true
			} else {
				e.sink.Warning("version %s of %s is no longer available, ignoring the saved selection",
					st.CandidateOverride, p.Name)
				st.CandidateOverride = ""
				e.dirty = true
			}
		}
		if !replayed {
			if p.CurrentVer == pkggraph.None {
				e.dep.MarkInstall(pkg, false, 0)
			} else {
				e.dep.SetReInstall(pkg, st.Reinstall)
				if upgrade && e.dep.Upgradable(pkg) {
					e.dep.MarkInstall(pkg, false, 0)
				}
			}
		}

	case pkggraph.SelHold:
		if !doInit {
			break
		}
		e.dep.MarkKeep(pkg, false, true)

	case pkggraph.SelDeInstall, pkggraph.SelPurge:
		if !doInit {
			break
		}
		if p.CurrentVer != pkggraph.None {
			e.dep.MarkDelete(pkg, st.Selection == pkggraph.SelPurge, 0)
		}
	}

	// Installs recreated from an overlay keep the auto flag they had
	// when the intent was first recorded.
	if st.PreviouslyAuto && e.dep.State(pkg).Mode == depcache.ModeInstall {
		e.dep.MarkAuto(pkg, true)
		e.dirty = true
	}
}

// findReplayVersion resolves a saved candidate version string against
// the versions still known for pkg.
func (e *Engine) findReplayVersion(pkg pkggraph.PkgID, verStr string) pkggraph.VerID {
	p := e.g.Pkg(pkg)
	for _, vid := range p.Versions {
		v := e.g.Ver(vid)
		if v.VerStr != verStr {
			continue
		}
		if v.Downloadable || vid == p.CurrentVer {
			return vid
		}
	}
	return pkggraph.None
}

// SaveOverlay writes the engine's state overlay to path. With primary
// set the call is the routine end-of-session save: it is skipped when
// nothing changed or when the engine is read only, and a successful
// write marks the engine clean. Without primary the overlay is always
// written and the dirty flag is left alone, which is what exporting
// state to an alternate path wants.
func (e *Engine) SaveOverlay(path string, primary bool) error {
	if primary && !e.dirty {
		return nil
	}
	if primary && e.ReadOnly() {
		return nil
	}

	var pushes []SelectionChange
	err := statefile.Rotate(path, func(w io.Writer) error {
		sw := statefile.NewWriter(w)
		for id := pkggraph.PkgID(0); id < pkggraph.PkgID(e.g.PackageCount()); id++ {
			p := e.g.Pkg(id)
			if len(p.Versions) == 0 {
				continue
			}
			st := e.states[id]
			dst := e.dep.State(id)

			sw.Field("Package", p.Name)
			if p.Architecture != "" {
				sw.Field("Architecture", p.Architecture)
			}
			sw.Field("Unseen", yesNo(st.New))
			sw.Field("State", strconv.Itoa(int(st.Selection)))
			sw.Field("Dselect-State", strconv.Itoa(int(p.SelectedState)))
			sw.Field("Remove-Reason", strconv.Itoa(int(st.RemoveReason)))
			if st.ForbiddenVersion != "" {
				sw.Field("ForbidVer", st.ForbiddenVersion)
			}
			installing := dst.Mode == depcache.ModeInstall
			if p.CurrentVer != pkggraph.None && installing {
				sw.Field("Upgrade", "yes")
			}
			if st.Reinstall {
				sw.Field("Reinstall", "yes")
			}
			if p.CurrentVer == pkggraph.None && installing && (dst.Auto || st.PreviouslyAuto) {
				sw.Field("Auto-New-Install", "yes")
			}
			if p.CurrentVer != pkggraph.None && dst.Auto {
				sw.Field("Auto-Installed", "yes")
			}
			if installing && st.CandidateOverride != "" {
				sw.Field("Version", st.CandidateOverride)
			}
			if tags := formatUserTags(e.tags, st.Tags); tags != "" {
				sw.Field("User-Tags", tags)
			}
			sw.EndSection()

			if st.OriginalSelection != st.Selection &&
				!(st.OriginalSelection == pkggraph.SelUnknown && st.Selection == pkggraph.SelDeInstall) {
				pushes = append(pushes, SelectionChange{
					Pkg:          id,
					Name:         p.Name,
					Architecture: p.Architecture,
					Selection:    st.Selection,
				})
			}
		}
		return sw.Flush()
	})
	if err != nil {
		err := NewPermanentError("save state overlay", err).
			WithCode(ErrCodePersistIO).WithResource(path).WithOperation("save_overlay")
		e.sink.Error(err)
		return err
	}

	if len(pushes) > 0 {
		synced := true
		if e.opts.SyncSelections != nil {
			if err := e.opts.SyncSelections(pushes); err != nil {
				e.sink.Warning("could not push %d selection(s) to the installer database: %s",
					len(pushes), err)
				synced = false
			}
		}
		// Only a confirmed push updates the recorded installer
		// selection, so a failed push is retried on the next save.
		if synced {
			for _, ch := range pushes {
				e.ext(ch.Pkg).OriginalSelection = ch.Selection
			}
		}
	}

	if primary {
		e.dirty = false
	}
	e.log.Debug().Str("path", path).Int("selections", len(pushes)).Msg("state overlay saved")
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
