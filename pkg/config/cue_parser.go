package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"github.com/go-playground/validator/v10"
)

// Loader parses and validates CUE configuration files.
type Loader struct {
	ctx       *cue.Context
	schemas   *SchemaRegistry
	validator *validator.Validate
}

// NewLoader creates a new configuration loader. The loader and its
// schema registry share one CUE context so user values can unify with
// the registered schemas.
func NewLoader() *Loader {
	ctx := cuecontext.New()
	return &Loader{
		ctx:       ctx,
		schemas:   newSchemaRegistry(ctx),
		validator: validator.New(),
	}
}

// LoadError aggregates the validation errors from one load.
type LoadError struct {
	Errors []ValidationError
}

// Error formats each validation error on its own line with file:line:column.
func (e *LoadError) Error() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%d configuration error(s)", len(e.Errors)))
	for _, ve := range e.Errors {
		b.WriteString("\n  ")
		if ve.File != "" {
			b.WriteString(ve.File)
			if ve.Line > 0 {
				b.WriteString(fmt.Sprintf(":%d:%d", ve.Line, ve.Column))
			}
			b.WriteString(": ")
		}
		if ve.Path != "" {
			b.WriteString(ve.Path)
			b.WriteString(": ")
		}
		b.WriteString(strings.TrimSpace(ve.Message))
	}
	return b.String()
}

// Load parses configuration from the given sources, which may be CUE
// files or directories. Multiple sources unify; conflicting values are
// an error. Absent fields keep their defaults.
func (l *Loader) Load(ctx context.Context, sources ...string) (*Config, error) {
	if len(sources) == 0 {
		return Default(), nil
	}

	var cueValue cue.Value
	var parseErrors []ValidationError

	for _, source := range sources {
		info, err := os.Stat(source)
		if err != nil {
			return nil, fmt.Errorf("failed to stat source %s: %w", source, err)
		}

		var val cue.Value
		var errs []ValidationError
		if info.IsDir() {
			val, errs = l.loadDirectory(source)
		} else {
			val, errs = l.loadFile(source)
		}
		if len(errs) > 0 {
			parseErrors = append(parseErrors, errs...)
			continue
		}
		if cueValue.Exists() {
			cueValue = cueValue.Unify(val)
		} else {
			cueValue = val
		}
	}

	if len(parseErrors) > 0 {
		return nil, &LoadError{Errors: parseErrors}
	}
	if err := cueValue.Err(); err != nil {
		return nil, &LoadError{Errors: l.convertCUEErrors(err)}
	}

	return l.extract(cueValue)
}

// LoadInline parses inline CUE content.
func (l *Loader) LoadInline(ctx context.Context, content string) (*Config, error) {
	val := l.ctx.CompileString(content)
	if err := val.Err(); err != nil {
		return nil, &LoadError{Errors: l.convertCUEErrors(err)}
	}
	return l.extract(val)
}

// loadDirectory loads a directory as a CUE package.
func (l *Loader) loadDirectory(dir string) (cue.Value, []ValidationError) {
	buildInstances := load.Instances([]string{dir}, nil)
	if len(buildInstances) == 0 {
		return cue.Value{}, []ValidationError{{
			File:     dir,
			Message:  "no CUE files found",
			Severity: "error",
		}}
	}

	inst := buildInstances[0]
	if inst.Err != nil {
		return cue.Value{}, l.convertCUEErrors(inst.Err)
	}

	val := l.ctx.BuildInstance(inst)
	if err := val.Err(); err != nil {
		return cue.Value{}, l.convertCUEErrors(err)
	}

	return val, nil
}

// loadFile loads a single CUE file.
func (l *Loader) loadFile(path string) (cue.Value, []ValidationError) {
	content, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, []ValidationError{{
			File:     path,
			Message:  fmt.Sprintf("failed to read file: %v", err),
			Severity: "error",
		}}
	}

	val := l.ctx.CompileString(string(content), cue.Filename(path))
	if err := val.Err(); err != nil {
		return cue.Value{}, l.convertCUEErrors(err)
	}

	return val, nil
}

// extract validates a CUE value against the config schema and decodes
// it over the defaults.
func (l *Loader) extract(val cue.Value) (*Config, error) {
	if err := l.schemas.CheckConfig(val); err != nil {
		return nil, &LoadError{Errors: l.convertCUEErrors(err)}
	}

	cfg := Default()
	if err := val.Decode(cfg); err != nil {
		return nil, &LoadError{Errors: l.convertCUEErrors(err)}
	}

	if err := l.validator.Struct(cfg); err != nil {
		return nil, &LoadError{Errors: l.convertValidatorErrors(err)}
	}

	return cfg, nil
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func (l *Loader) convertCUEErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	errs := errors.Errors(err)
	for _, e := range errs {
		pos := errors.Positions(e)
		var file string
		var line, column int

		if len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}

		validationErrors = append(validationErrors, ValidationError{
			File:     file,
			Line:     line,
			Column:   column,
			Message:  errors.Details(e, nil),
			Severity: "error",
		})
	}

	return validationErrors
}

// convertValidatorErrors converts struct tag validation failures to
// ValidationError slice.
func (l *Loader) convertValidatorErrors(err error) []ValidationError {
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []ValidationError{{Message: err.Error(), Severity: "error"}}
	}

	out := make([]ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{
			Path:     fieldPath(fe.Namespace()),
			Message:  fmt.Sprintf("failed %q constraint", fe.Tag()),
			Severity: "error",
		})
	}
	return out
}

// fieldPath trims the root struct name from a validator namespace.
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

// ExportJSON renders a configuration as indented JSON.
func (l *Loader) ExportJSON(cfg *Config) ([]byte, error) {
	return json.MarshalIndent(cfg, "", "  ")
}

// DefaultSources returns the configuration sources to try when the
// user gives none: the system config file, then a conf.d directory.
func DefaultSources() []string {
	var sources []string
	for _, p := range []string{
		"/etc/depmark/config.cue",
		"/etc/depmark/conf.d",
	} {
		if _, err := os.Stat(p); err == nil {
			sources = append(sources, p)
		}
	}
	return sources
}

// FindSources expands a path into loadable CUE sources. A directory
// yields its .cue files; a file yields itself.
func FindSources(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.Walk(path, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !fi.IsDir() && strings.HasSuffix(p, ".cue") {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}
	return files, nil
}
