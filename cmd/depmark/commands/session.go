package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/depmark/depmark/pkg/config"
	"github.com/depmark/depmark/pkg/depcache"
	"github.com/depmark/depmark/pkg/engine"
	"github.com/depmark/depmark/pkg/history"
	"github.com/depmark/depmark/pkg/pkggraph"
	"github.com/depmark/depmark/pkg/policy"
	"github.com/depmark/depmark/pkg/statefile"
	"github.com/depmark/depmark/pkg/telemetry"
)

// errReadOnly is returned by mutating commands when the engine could
// not take the write lock or was opened with --read-only.
var errReadOnly = errors.New("state file is read-only")

// session wires together what one command invocation needs:
// configuration and telemetry always, and on demand the selection
// engine with its sweep protection and the transaction journal. One
// session serves exactly one command run.
type session struct {
	ctx context.Context
	cfg *config.Config
	tel *telemetry.Telemetry
	log zerolog.Logger

	eng   *engine.Engine
	prot  *policy.Protector
	store history.Store
	lock  *statefile.Lock

	// txID is the transaction in flight, consumed by the states-changed
	// hook so events carry the id of the transaction that caused them.
	txID string
}

// openSession loads the configuration and starts telemetry. The engine
// and the journal are attached separately by the commands that need
// them; sync and config commands run without either.
func openSession(cmd *cobra.Command) (*session, error) {
	ctx := cmd.Context()

	sources := config.DefaultSources()
	if configPath != "" {
		var err error
		sources, err = config.FindSources(configPath)
		if err != nil {
			return nil, err
		}
	}
	cfg, err := config.NewLoader().Load(ctx, sources...)
	if err != nil {
		return nil, err
	}
	if readOnly {
		cfg.ReadOnly = true
	}
	if verbose {
		cfg.Telemetry.LogLevel = "debug"
	}

	tel, err := telemetry.NewTelemetry(cfg.TelemetryConfig(buildVersion))
	if err != nil {
		return nil, fmt.Errorf("starting telemetry: %w", err)
	}

	s := &session{
		ctx: tel.WithContext(ctx),
		cfg: cfg,
		tel: tel,
		log: tel.Logger.Zerolog(),
	}
	if cfg.Telemetry.Metrics.Enabled {
		if err := tel.StartMetricsServer(); err != nil {
			s.log.Warn().Err(err).Msg("metrics endpoint failed to start")
		}
	}
	return s, nil
}

// Close releases the state lock, closes the journal and flushes
// telemetry. Safe on a partially opened session.
func (s *session) Close() {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.log.Warn().Err(err).Msg("closing journal")
		}
	}
	if s.lock != nil {
		if err := s.lock.Release(); err != nil {
			s.log.Warn().Err(err).Msg("releasing state lock")
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.tel.Shutdown(ctx); err != nil {
		s.log.Warn().Err(err).Msg("telemetry shutdown")
	}
}

// openEngine loads the package universe, arms sweep protection and
// replays the selection overlay. When the write lock is held by another
// process the engine comes up read-only instead of failing, so
// inspection commands keep working; mutating commands then refuse.
func (s *session) openEngine() error {
	g, seed, err := pkggraph.LoadFile(s.cfg.GraphFile)
	if err != nil {
		return err
	}

	dep := depcache.New(g, depcache.Policy{
		FollowRecommends: s.cfg.Sweep.KeepRecommends,
		FollowSuggests:   s.cfg.Sweep.KeepSuggests,
	}, s.log)
	for _, pkg := range seed.Auto {
		dep.MarkAuto(pkg, true)
	}

	opts := s.cfg.EngineOptions()

	var polEng *policy.Engine
	if s.cfg.Policy.Enabled {
		polEng, err = policy.NewEngine(s.log, s.cfg.Policy.Builtin, nil)
		if err != nil {
			return fmt.Errorf("policy engine: %w", err)
		}
		if len(s.cfg.Policy.Paths) > 0 {
			if err := polEng.LoadPaths(s.ctx, s.cfg.Policy.Paths); err != nil {
				return fmt.Errorf("loading policies: %w", err)
			}
		}
		s.prot = policy.NewProtector(polEng, opts.SelfPackage, s.log)
		opts.RootSet = s.prot.RootSet()
	}

	// Take the state lock; losing the race degrades to a read-only view
	// rather than failing the whole command.
	writable := !s.cfg.ReadOnly
	if writable {
		lock, err := statefile.Acquire(s.cfg.LockPath())
		switch {
		case errors.Is(err, statefile.ErrLocked):
			s.log.Warn().Str("lock", s.cfg.LockPath()).Msg("state file locked, opening read-only")
			writable = false
		case err != nil:
			return fmt.Errorf("locking state file: %w", err)
		default:
			s.lock = lock
		}
	}

	s.eng = engine.New(g, dep, opts, s.log)
	if !writable {
		s.eng.SetReadOnly(true)
	}

	s.eng.OnReset(func() {
		_ = s.tel.Events.PublishOverlayReset(s.cfg.StateFile)
	})
	s.eng.OnStatesChanged(func(pkgs []pkggraph.PkgID) {
		names := make([]string, len(pkgs))
		for i, id := range pkgs {
			names[i] = g.DisplayName(id)
		}
		_ = s.tel.Events.PublishStatesChanged(s.txID, names)
	})

	if s.prot != nil {
		// The builtin protections need no overlay state. Arming them
		// before the first replay keeps protected orphans out of the
		// initial sweep.
		s.refreshProtection()
	}

	err = telemetry.RecordOverlayOperation(s.ctx, "load", s.cfg.StateFile, func() error {
		return s.eng.LoadOverlay(s.cfg.StateFile, engine.DefaultLoadOptions())
	})
	if err != nil {
		return err
	}

	if s.prot != nil {
		// Auto flags and user tags arrived with the overlay; re-evaluate
		// so policies keyed on them see the replayed state.
		s.refreshProtection()
		if s.cfg.Policy.Watch && len(s.cfg.Policy.Paths) > 0 {
			err := polEng.WatchPaths(s.ctx, s.cfg.Policy.Paths, func(err error) {
				if err != nil {
					s.tel.Metrics.RecordPolicyReload("error")
					s.log.Error().Err(err).Msg("policy reload failed")
					return
				}
				s.tel.Metrics.RecordPolicyReload("ok")
				// The callback runs on the watcher goroutine, which must
				// not read engine state. Mark the verdicts stale; transact
				// re-evaluates them before the next action group.
				s.prot.Invalidate()
			})
			if err != nil {
				return fmt.Errorf("watching policies: %w", err)
			}
		}
	}
	return nil
}

// refreshProtection re-evaluates the protection verdicts with the
// engine's current auto flags and tags in the policy input, and
// publishes newly protected packages.
func (s *session) refreshProtection() {
	g := s.eng.Graph()
	dep := s.eng.Cache()
	base := policy.GraphInfo(g)
	info := func(id pkggraph.PkgID) *policy.PackageInfo {
		pi := base(id)
		st := dep.State(id)
		pi.Candidate = g.VerStrOf(st.Candidate)
		pi.Auto = st.Auto
		ext := s.eng.State(id)
		for _, ref := range ext.Tags {
			pi.Tags = append(pi.Tags, s.eng.Tags().Name(ref))
		}
		return pi
	}

	prev := make(map[pkggraph.PkgID]bool)
	for _, id := range s.prot.Protected() {
		prev[id] = true
	}

	n, err := s.prot.Refresh(s.ctx, g, info)
	if err != nil {
		s.log.Error().Err(err).Msg("protection refresh failed")
		// Leave the verdicts marked stale so the next transaction
		// retries instead of sweeping with outdated protections.
		s.prot.Invalidate()
		return
	}
	s.tel.Metrics.SetProtectedPackages(float64(n))

	for _, id := range s.prot.Protected() {
		if prev[id] {
			continue
		}
		name, _ := s.prot.Verdict(id)
		_ = s.tel.Events.PublishPackageProtected(g.DisplayName(id), name)
	}
}

// openJournal connects the transaction journal when it is enabled.
func (s *session) openJournal() error {
	if !s.cfg.History.Enabled {
		return nil
	}
	store, err := history.NewSQLiteStore(history.Config{Path: s.cfg.History.Path})
	if err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}
	if err := store.Init(s.ctx); err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}
	if err := store.Migrate(s.ctx); err != nil {
		_ = store.Close()
		return fmt.Errorf("migrating journal: %w", err)
	}
	s.store = store
	return nil
}

// journal returns the journal store, or an error when recording is
// disabled in the configuration.
func (s *session) journal() (history.Store, error) {
	if s.store == nil {
		return nil, errors.New("transaction journal is disabled (history.enabled)")
	}
	return s.store, nil
}

// withEngine is the standard prologue of a command that works on the
// selection state: open the session, load the engine, optionally attach
// the journal, and clean up afterwards.
func withEngine(cmd *cobra.Command, journal bool, fn func(s *session) error) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.openEngine(); err != nil {
		return err
	}
	if journal {
		if err := s.openJournal(); err != nil {
			return err
		}
	}
	return fn(s)
}

// txSummary reports one committed transaction back to the command.
type txSummary struct {
	ID      uuid.UUID
	Changed int
	Sweep   engine.SweepStats
	Stats   engine.Statistics
}

// transact runs fn inside one action group and drives the whole commit
// path: orphan sweep, overlay save, journal row, metrics and events.
// On an fn error the batch is rolled back and nothing is saved.
// undoneOf links an undo transaction to the one it reverses.
func (s *session) transact(command string, undoneOf *uuid.UUID, fn func(undo *engine.UndoGroup) error) (*txSummary, error) {
	if s.eng.ReadOnly() {
		return nil, errReadOnly
	}

	if s.prot != nil && s.prot.ConsumeStale() {
		s.refreshProtection()
	}

	txID := uuid.New()
	s.txID = txID.String()
	defer func() { s.txID = "" }()

	ctx := telemetry.WithTransactionContext(s.ctx, s.txID, command)
	started := time.Now()

	undo := engine.NewUndoGroup()
	ag := s.eng.BeginActionGroup(undo)
	err := fn(undo)
	ag.End()
	if err != nil {
		if !undo.Empty() {
			s.eng.Undo(undo)
		}
		telemetry.EndTransactionContext(ctx, s.txID, command, 0, err)
		return nil, err
	}

	sweep := s.eng.LastSweep()
	if sweep.Collected > 0 || sweep.Reinstated > 0 || sweep.Conflicted > 0 {
		telemetry.RecordSweepResult(ctx, sweep.Collected, sweep.Reinstated, sweep.Conflicted)
	}

	changes := history.ChangesFromUndo(s.eng, undo)

	if err := s.save(ctx); err != nil {
		telemetry.EndTransactionContext(ctx, s.txID, command, len(changes), err)
		return nil, err
	}
	finished := time.Now()

	// The overlay is already saved at this point; a journal failure is
	// loud but does not fail the command.
	if s.store != nil && len(changes) > 0 {
		tx := &history.Transaction{
			ID:          txID,
			Command:     command,
			StartedAt:   started,
			FinishedAt:  finished,
			ChangeCount: len(changes),
			UndoneOf:    undoneOf,
		}
		if err := s.store.Record(ctx, tx, changes); err != nil {
			s.log.Error().Err(err).Msg("journal write failed")
		} else if s.cfg.History.Retention > 0 {
			if pruned, err := s.store.Prune(ctx, s.cfg.History.Retention); err != nil {
				s.log.Warn().Err(err).Msg("journal prune failed")
			} else if pruned > 0 {
				s.log.Debug().Int64("pruned", pruned).Msg("journal pruned")
			}
		}
	}

	s.publishGauges()
	// EndTransactionContext publishes transaction.committed; an undo
	// additionally announces the original transaction's reversal.
	telemetry.EndTransactionContext(ctx, s.txID, command, len(changes), nil)
	if undoneOf != nil {
		_ = s.tel.Events.PublishTransactionUndone(s.txID, undoneOf.String(), len(changes))
	}

	return &txSummary{
		ID:      txID,
		Changed: len(changes),
		Sweep:   sweep,
		Stats:   s.eng.Statistics(),
	}, nil
}

// save writes the overlay when it changed. The primary save rotates the
// previous file to .old and marks the engine clean.
func (s *session) save(ctx context.Context) error {
	if s.eng.ReadOnly() || !s.eng.Dirty() {
		return nil
	}
	started := time.Now()
	err := telemetry.RecordOverlayOperation(ctx, "save", s.cfg.StateFile, func() error {
		return s.eng.SaveOverlay(s.cfg.StateFile, true)
	})
	if err != nil {
		return fmt.Errorf("saving state: %w", err)
	}
	_ = s.tel.Events.PublishOverlaySaved(s.cfg.StateFile, time.Since(started))
	return nil
}

// publishGauges refreshes the state gauges exposed on /metrics.
func (s *session) publishGauges() {
	st := s.eng.Statistics()
	m := s.tel.Metrics
	m.SetMarkedPackages("install", float64(st.Install))
	m.SetMarkedPackages("delete", float64(st.Delete))
	m.SetMarkedPackages("keep", float64(st.Keep))
	m.SetBrokenPackages(float64(st.Broken))
	m.SetNewPackages(float64(st.New))
}

// resolvePackages maps user-typed specs ("name" or "name:arch") to
// package ids, failing on the first unknown name before anything runs.
func (s *session) resolvePackages(specs []string) ([]pkggraph.PkgID, error) {
	ids := make([]pkggraph.PkgID, 0, len(specs))
	for _, spec := range specs {
		name, arch := pkggraph.ParseName(spec)
		id := s.eng.Graph().FindPkg(name, arch)
		if id == pkggraph.None {
			return nil, fmt.Errorf("no package named %q", spec)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// commandLine renders the invocation the way the journal records it,
// e.g. "install nginx" or "tag add web nginx".
func commandLine(cmd *cobra.Command, args []string) string {
	path := strings.TrimPrefix(cmd.CommandPath(), cmd.Root().Name()+" ")
	if len(args) == 0 {
		return path
	}
	return path + " " + strings.Join(args, " ")
}
