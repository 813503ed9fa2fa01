package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage"
	"github.com/open-policy-agent/opa/storage/inmem"
	"github.com/rs/zerolog"
)

// Engine compiles protection policies and answers per-package
// protection queries. Policies come from two pools: builtins compiled
// at construction, and file-loaded policies replaced wholesale by
// SetPolicies. It is safe for concurrent use.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	store    storage.Store
	logger   zerolog.Logger
}

// compiledPolicy pairs a policy with its prepared protect query. The
// query is prepared once at compile time and reused for every package.
type compiledPolicy struct {
	policy   *Policy
	query    rego.PreparedEvalQuery
	builtin  bool
	compiled time.Time
}

// NewEngine creates a policy engine. With builtin set, the stock
// protection policies are compiled in. static, if non-nil, is exposed
// to policies as data.runtime.
func NewEngine(logger zerolog.Logger, builtin bool, static map[string]interface{}) (*Engine, error) {
	store := inmem.New()
	if static != nil {
		store = inmem.NewFromObject(map[string]interface{}{"runtime": static})
	}

	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		store:    store,
		logger:   logger.With().Str("component", "policy").Logger(),
	}

	if builtin {
		for _, p := range GetBuiltinPolicies() {
			p := p
			if err := e.compileAndStore(context.Background(), &p, true); err != nil {
				return nil, fmt.Errorf("builtin policy %s: %w", p.Name, err)
			}
		}
		e.logger.Debug().Int("count", len(e.policies)).Msg("builtin policies compiled")
	}

	return e, nil
}

// EvaluatePackage runs every enabled policy against one package and
// collects the protection violations. A policy that fails to evaluate
// is recorded in the result's Warnings and skipped: protection fails
// open, so one broken user policy cannot quietly turn the whole
// universe into roots.
func (e *Engine) EvaluatePackage(ctx context.Context, input *PackageInput) (*Result, error) {
	if input == nil || input.Package == nil {
		return nil, fmt.Errorf("policy input has no package")
	}

	start := time.Now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	res := &Result{EvaluatedAt: start}
	for _, name := range e.sortedNames() {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}
		res.EvaluatedPolicies = append(res.EvaluatedPolicies, name)

		violations, err := e.evalOne(ctx, cp, input)
		if err != nil {
			e.logger.Warn().Err(err).
				Str("policy", name).
				Str("package", input.Package.Name).
				Msg("policy evaluation failed")
			res.Warnings = append(res.Warnings, fmt.Sprintf("policy %s: %v", name, err))
			continue
		}
		res.Violations = append(res.Violations, violations...)
	}

	for i := range res.Violations {
		if res.Violations[i].Severity.protects() {
			res.Protected = true
			break
		}
	}
	res.Duration = time.Since(start)
	return res, nil
}

// Protected reports whether any enabled policy protects the package.
// Evaluation errors fail open.
func (e *Engine) Protected(ctx context.Context, input *PackageInput) bool {
	res, err := e.EvaluatePackage(ctx, input)
	if err != nil {
		return false
	}
	return res.Protected
}

// LoadPaths loads policies from files and directories and installs them
// as the file-loaded set.
func (e *Engine) LoadPaths(ctx context.Context, paths []string) error {
	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return err
	}
	return e.SetPolicies(ctx, policies)
}

// SetPolicies replaces the file-loaded policy set while keeping the
// builtins. A compilation failure rolls the whole replacement back, so
// a half-broken reload cannot drop policies that were working.
func (e *Engine) SetPolicies(ctx context.Context, policies []Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	old := e.policies
	next := make(map[string]*compiledPolicy, len(old))
	for name, cp := range old {
		if cp.builtin {
			next[name] = cp
		}
	}

	e.policies = next
	for i := range policies {
		if err := e.compileAndStore(ctx, &policies[i], false); err != nil {
			e.policies = old
			return fmt.Errorf("compile policy %s: %w", policies[i].Name, err)
		}
	}

	e.logger.Info().Int("count", len(policies)).Msg("policies loaded")
	return nil
}

// WatchPaths reloads the file-loaded policies whenever a file under
// paths changes. It blocks only to set up the watch; reloads happen in
// the background until ctx is cancelled. onReload, if non-nil, observes
// the outcome of every reload.
func (e *Engine) WatchPaths(ctx context.Context, paths []string, onReload func(error)) error {
	loader := NewLoader(e.logger)
	return loader.Watch(ctx, paths, func(policies []Policy) error {
		err := e.SetPolicies(ctx, policies)
		if onReload != nil {
			onReload(err)
		}
		return err
	})
}

// evalOne evaluates one prepared policy query against the input.
func (e *Engine) evalOne(ctx context.Context, cp *compiledPolicy, input *PackageInput) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, err
	}

	var out []Violation
	for _, result := range results {
		for _, expr := range result.Expressions {
			set, ok := expr.Value.([]interface{})
			if !ok {
				continue
			}
			for _, item := range set {
				out = append(out, e.violationFrom(cp.policy, item, input))
			}
		}
	}
	return out, nil
}

// violationFrom shapes one protect result into a Violation. A bare
// string becomes the message; an object may override the severity and
// package name.
func (e *Engine) violationFrom(p *Policy, result interface{}, input *PackageInput) Violation {
	v := Violation{
		Policy:     p.Name,
		Severity:   p.Severity,
		DetectedAt: time.Now(),
	}
	if input.Package != nil {
		v.Package = input.Package.Name
	}

	switch r := result.(type) {
	case string:
		v.Message = r
	case map[string]interface{}:
		if msg, ok := r["message"].(string); ok {
			v.Message = msg
		}
		if sev, ok := r["severity"].(string); ok {
			v.Severity = Severity(sev)
		}
		if pkg, ok := r["package"].(string); ok {
			v.Package = pkg
		}
		v.Details = r
	default:
		v.Message = fmt.Sprintf("%v", result)
	}
	return v
}

// compileAndStore prepares the protect query for a policy and indexes
// it by name. Callers hold the write lock or own the engine exclusively.
func (e *Engine) compileAndStore(ctx context.Context, p *Policy, builtin bool) error {
	pkg := regoPackage(p.Rego)
	r := rego.New(
		rego.Module(p.Name+".rego", p.Rego),
		rego.Store(e.store),
		rego.Query("data."+pkg+".protect"),
	)
	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return err
	}

	e.policies[p.Name] = &compiledPolicy{
		policy:   p,
		query:    query,
		builtin:  builtin,
		compiled: time.Now(),
	}

	e.logger.Debug().Str("policy", p.Name).Msg("policy compiled")
	return nil
}

// regoPackage returns the package path declared in src, or the default
// when none is found.
func regoPackage(src string) string {
	for _, line := range strings.Split(src, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			if parts := strings.Fields(trimmed); len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "depmark.policies"
}

// sortedNames returns the policy names in lexical order so evaluation
// and listing are deterministic. Callers hold at least the read lock.
func (e *Engine) sortedNames() []string {
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}
	return cp.policy, nil
}

// ListPolicies returns all loaded policies in name order.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, name := range e.sortedNames() {
		policies = append(policies, *e.policies[name].policy)
	}
	return policies
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = true
	e.logger.Info().Str("policy", name).Msg("policy enabled")
	return nil
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = false
	e.logger.Info().Str("policy", name).Msg("policy disabled")
	return nil
}

// protects reports whether a violation of this severity marks the
// package protected, as opposed to merely annotating it.
func (s Severity) protects() bool {
	return s != SeverityInfo
}
