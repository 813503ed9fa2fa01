package script

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"

	"github.com/depmark/depmark/pkg/engine"
	"github.com/depmark/depmark/pkg/pkggraph"
)

// fileOptions is the batch dialect: imperative top-level statements and
// reassignable globals, but no while loops or recursion, so every
// script terminates unless it builds a pathologically large loop.
var fileOptions = &syntax.FileOptions{
	Set:             true,
	TopLevelControl: true,
	GlobalReassign:  true,
}

// DefaultTimeout bounds a batch run when the caller does not pick a
// limit of its own.
const DefaultTimeout = 30 * time.Second

// Runner executes Starlark batch files against a selection engine. The
// engine's operations are exposed as built-in functions; each returns
// True when the request was accepted and False when the engine refused
// it. A Runner is as single-threaded as the engine it drives.
type Runner struct {
	eng     *engine.Engine
	timeout time.Duration
	log     zerolog.Logger
}

// NewRunner returns a runner bound to eng. A non-positive timeout
// selects DefaultTimeout.
func NewRunner(eng *engine.Engine, timeout time.Duration, log zerolog.Logger) *Runner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Runner{
		eng:     eng,
		timeout: timeout,
		log:     log.With().Str("component", "script").Logger(),
	}
}

// Result reports what a batch run did.
type Result struct {
	// Applied counts the mutation calls the engine accepted.
	Applied int

	// Refused lists the mutation calls the engine turned down, as
	// "verb package" strings in script order.
	Refused []string

	// Output holds the script's global variables, converted to plain
	// Go values. Names starting with an underscore are omitted.
	Output map[string]interface{}

	// ExecutionTime is the wall-clock duration of the run.
	ExecutionTime time.Duration
}

// Run executes src as a batch file. The values in input are exposed to
// the script as predeclared names. All mutations land in a single
// action group, so the unused-package sweep and the changed-state
// notification fire once for the whole script, and undo (which may be
// nil) receives the batch as one reversible unit.
//
// On failure the returned Result still carries the counts accumulated
// up to the point of the error.
func (r *Runner) Run(ctx context.Context, src string, input map[string]interface{}, undo *engine.UndoGroup) (*Result, error) {
	start := time.Now()

	evalCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res := &Result{}
	thread := &starlark.Thread{
		Name: "batch",
		Print: func(_ *starlark.Thread, msg string) {
			r.log.Info().Msg(msg)
		},
	}

	ag := r.eng.BeginActionGroup(undo)

	done := make(chan error, 1)
	go func() {
		done <- r.exec(thread, src, input, res)
	}()

	var err error
	select {
	case <-evalCtx.Done():
		// The engine is not safe for concurrent use: the evaluation
		// goroutine must have stopped before the action group closes.
		// Cancel interrupts the interpreter at its next statement.
		thread.Cancel(evalCtx.Err().Error())
		<-done
		if errors.Is(evalCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("batch script timed out after %v", r.timeout)
		} else {
			err = evalCtx.Err()
		}
	case err = <-done:
	}
	ag.End()

	res.ExecutionTime = time.Since(start)
	r.log.Debug().
		Int("applied", res.Applied).
		Int("refused", len(res.Refused)).
		Dur("duration", res.ExecutionTime).
		Err(err).
		Msg("batch script finished")
	return res, err
}

// exec evaluates the script on the calling goroutine and fills in res.
func (r *Runner) exec(thread *starlark.Thread, src string, input map[string]interface{}, res *Result) error {
	predeclared := starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
	}
	for name, impl := range r.builtins(res) {
		predeclared[name] = starlark.NewBuiltin(name, impl)
	}
	for key, val := range input {
		sv, err := toStarlark(val)
		if err != nil {
			return fmt.Errorf("batch script: input %s: %w", key, err)
		}
		predeclared[key] = sv
	}

	globals, err := starlark.ExecFileOptions(fileOptions, thread, "batch.star", src, predeclared)
	if err != nil {
		var evalErr *starlark.EvalError
		if errors.As(err, &evalErr) {
			return fmt.Errorf("batch script: %s", evalErr.Backtrace())
		}
		return fmt.Errorf("batch script: %w", err)
	}

	res.Output = make(map[string]interface{}, len(globals))
	for name, val := range globals {
		if strings.HasPrefix(name, "_") {
			continue
		}
		gv, err := fromStarlark(val)
		if err != nil {
			return fmt.Errorf("batch script: global %s: %w", name, err)
		}
		res.Output[name] = gv
	}
	return nil
}

type builtinImpl func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error)

// builtins returns the script-visible surface of the engine. Mutators
// pass a nil undo group: the outermost action group opened by Run
// collects undo items for the whole batch.
func (r *Runner) builtins(res *Result) map[string]builtinImpl {
	return map[string]builtinImpl{
		"install": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var name string
			autoInst := true
			reinstall := false
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "auto_install?", &autoInst, "reinstall?", &reinstall); err != nil {
				return nil, err
			}
			return r.mutate(res, "install", name, func(pkg pkggraph.PkgID) bool {
				return r.eng.MarkInstall(pkg, autoInst, reinstall, nil)
			})
		},
		"remove": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var name string
			purge := false
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "purge?", &purge); err != nil {
				return nil, err
			}
			return r.mutate(res, "remove", name, func(pkg pkggraph.PkgID) bool {
				return r.eng.MarkDelete(pkg, purge, false, nil)
			})
		},
		"purge": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var name string
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name); err != nil {
				return nil, err
			}
			return r.mutate(res, "purge", name, func(pkg pkggraph.PkgID) bool {
				return r.eng.MarkDelete(pkg, true, false, nil)
			})
		},
		"keep": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var name string
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name); err != nil {
				return nil, err
			}
			return r.mutate(res, "keep", name, func(pkg pkggraph.PkgID) bool {
				return r.eng.MarkKeep(pkg, false, false, nil)
			})
		},
		"hold": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var name string
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name); err != nil {
				return nil, err
			}
			return r.mutate(res, "hold", name, func(pkg pkggraph.PkgID) bool {
				return r.eng.MarkKeep(pkg, false, true, nil)
			})
		},
		"unhold": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var name string
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name); err != nil {
				return nil, err
			}
			return r.mutate(res, "unhold", name, func(pkg pkggraph.PkgID) bool {
				return r.eng.MarkKeep(pkg, false, false, nil)
			})
		},
		"mark_auto": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var name string
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name); err != nil {
				return nil, err
			}
			return r.mutate(res, "mark_auto", name, func(pkg pkggraph.PkgID) bool {
				return r.eng.MarkAuto(pkg, true, nil)
			})
		},
		"unmark_auto": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var name string
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name); err != nil {
				return nil, err
			}
			return r.mutate(res, "unmark_auto", name, func(pkg pkggraph.PkgID) bool {
				return r.eng.MarkAuto(pkg, false, nil)
			})
		},
		"forbid_version": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var name, version string
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "version?", &version); err != nil {
				return nil, err
			}
			pkg, err := r.resolve(name)
			if err != nil {
				return nil, err
			}
			if version == "" {
				// No version given: forbid the candidate upgrade.
				version = r.eng.Graph().VerStrOf(r.eng.Cache().State(pkg).Candidate)
				if version == "" {
					return nil, fmt.Errorf("%s has no candidate version to forbid", name)
				}
			}
			if !r.eng.ForbidUpgrade(pkg, version, nil) {
				res.Refused = append(res.Refused, "forbid_version "+name)
				return starlark.False, nil
			}
			res.Applied++
			return starlark.True, nil
		},
		"set_candidate": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var name, version string
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "version", &version); err != nil {
				return nil, err
			}
			pkg, err := r.resolve(name)
			if err != nil {
				return nil, err
			}
			ver := r.findVersion(pkg, version)
			if ver == pkggraph.None {
				return nil, fmt.Errorf("%s has no version %q", name, version)
			}
			if !r.eng.SetCandidateVersion(ver, nil) {
				res.Refused = append(res.Refused, "set_candidate "+name)
				return starlark.False, nil
			}
			res.Applied++
			return starlark.True, nil
		},
		"tag": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var name, tag string
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "tag", &tag); err != nil {
				return nil, err
			}
			return r.mutate(res, "tag", name, func(pkg pkggraph.PkgID) bool {
				return r.eng.AttachUserTag(pkg, tag, nil)
			})
		},
		"untag": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var name, tag string
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "tag", &tag); err != nil {
				return nil, err
			}
			return r.mutate(res, "untag", name, func(pkg pkggraph.PkgID) bool {
				return r.eng.DetachUserTag(pkg, tag, nil)
			})
		},
		"forget_new": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if len(kwargs) > 0 {
				return nil, fmt.Errorf("%s: unexpected keyword arguments", b.Name())
			}
			pkgs := make([]pkggraph.PkgID, 0, len(args))
			for i, arg := range args {
				s, ok := starlark.AsString(arg)
				if !ok {
					return nil, fmt.Errorf("%s: argument %d is not a string", b.Name(), i+1)
				}
				pkg, err := r.resolve(s)
				if err != nil {
					return nil, err
				}
				pkgs = append(pkgs, pkg)
			}
			if !r.eng.ForgetNew(nil, pkgs...) {
				res.Refused = append(res.Refused, "forget_new")
				return starlark.False, nil
			}
			res.Applied++
			return starlark.True, nil
		},
		"upgrade_all": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			autoInst := true
			ignoreRemoved := false
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "auto_install?", &autoInst, "ignore_removed?", &ignoreRemoved); err != nil {
				return nil, err
			}
			if !r.eng.MarkAllUpgradable(autoInst, ignoreRemoved, nil) {
				res.Refused = append(res.Refused, "upgrade_all")
				return starlark.False, nil
			}
			res.Applied++
			return starlark.True, nil
		},
		"state": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var name string
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name); err != nil {
				return nil, err
			}
			pkg, err := r.resolve(name)
			if err != nil {
				return nil, err
			}
			return r.packageState(pkg)
		},
		"upgradable": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
				return nil, err
			}
			ids := r.eng.GetUpgradable(false)
			out := make([]starlark.Value, len(ids))
			for i, id := range ids {
				out[i] = starlark.String(r.eng.Graph().DisplayName(id))
			}
			return starlark.NewList(out), nil
		},
		"stats": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
				return nil, err
			}
			s := r.eng.Statistics()
			return newDict([]dictEntry{
				{"install", starlark.MakeInt(s.Install)},
				{"delete", starlark.MakeInt(s.Delete)},
				{"keep", starlark.MakeInt(s.Keep)},
				{"broken", starlark.MakeInt(s.Broken)},
				{"new", starlark.MakeInt(s.New)},
				{"usr_size", starlark.MakeInt64(s.UsrSize)},
				{"download_size", starlark.MakeInt64(s.DownloadSize)},
			})
		},
	}
}

// mutate resolves spec and applies fn, recording the outcome in res.
// An unknown package name is an error and aborts the script; a refusal
// by the engine is an ordinary False return.
func (r *Runner) mutate(res *Result, verb, spec string, fn func(pkggraph.PkgID) bool) (starlark.Value, error) {
	pkg, err := r.resolve(spec)
	if err != nil {
		return nil, err
	}
	if !fn(pkg) {
		res.Refused = append(res.Refused, verb+" "+spec)
		return starlark.False, nil
	}
	res.Applied++
	return starlark.True, nil
}

// resolve looks up a user-typed package spec, "name" or "name:arch".
func (r *Runner) resolve(spec string) (pkggraph.PkgID, error) {
	name, arch := pkggraph.ParseName(spec)
	id := r.eng.Graph().FindPkg(name, arch)
	if id == pkggraph.None {
		return pkggraph.None, fmt.Errorf("no package named %q", spec)
	}
	return id, nil
}

// findVersion returns the version of pkg whose string is verStr, or
// None.
func (r *Runner) findVersion(pkg pkggraph.PkgID, verStr string) pkggraph.VerID {
	g := r.eng.Graph()
	for _, v := range g.Pkg(pkg).Versions {
		if g.Ver(v).VerStr == verStr {
			return v
		}
	}
	return pkggraph.None
}

// packageState renders pkg's current and pending state as a dict.
func (r *Runner) packageState(pkg pkggraph.PkgID) (starlark.Value, error) {
	g := r.eng.Graph()
	p := g.Pkg(pkg)
	ext := r.eng.State(pkg)
	st := r.eng.Cache().State(pkg)

	tags := make([]starlark.Value, 0, len(ext.Tags))
	for _, ref := range ext.Tags {
		tags = append(tags, starlark.String(r.eng.Tags().Name(ref)))
	}

	return newDict([]dictEntry{
		{"name", starlark.String(g.DisplayName(pkg))},
		{"installed", starlark.Bool(p.Installed())},
		{"version", starlark.String(g.VerStrOf(p.CurrentVer))},
		{"candidate", starlark.String(g.VerStrOf(st.Candidate))},
		{"action", starlark.String(st.Mode.String())},
		{"selection", starlark.String(ext.Selection.String())},
		{"auto", starlark.Bool(st.Auto)},
		{"held", starlark.Bool(r.eng.IsHeld(pkg))},
		{"new", starlark.Bool(ext.New)},
		{"reinstall", starlark.Bool(ext.Reinstall)},
		{"forbidden_version", starlark.String(ext.ForbiddenVersion)},
		{"tags", starlark.NewList(tags)},
	})
}

type dictEntry struct {
	key string
	val starlark.Value
}

func newDict(entries []dictEntry) (starlark.Value, error) {
	d := starlark.NewDict(len(entries))
	for _, e := range entries {
		if err := d.SetKey(starlark.String(e.key), e.val); err != nil {
			return nil, err
		}
	}
	return d, nil
}
