package config

import (
	"context"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages CUE schemas for validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	return newSchemaRegistry(cuecontext.New())
}

// newSchemaRegistry builds a registry on an existing CUE context.
// Values passed to CheckConfig must come from the same context, so the
// Loader shares its own.
func newSchemaRegistry(ctx *cue.Context) *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     ctx,
		schemas: make(map[string]cue.Value),
	}

	// Built-in schemas are compile-checked by their tests; a failure
	// here means a broken source tree.
	if err := sr.RegisterSchema("config", builtinConfigSchema, "#Config"); err != nil {
		panic(err)
	}
	if err := sr.RegisterSchema("sync_target", builtinSyncTargetSchema, "#SyncTarget"); err != nil {
		panic(err)
	}

	return sr
}

// RegisterSchema compiles a CUE schema and registers the definition at
// defPath under the given name.
func (sr *SchemaRegistry) RegisterSchema(name, schema, defPath string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	def := val.LookupPath(cue.ParsePath(defPath))
	if !def.Exists() {
		return fmt.Errorf("schema %s has no definition at %s", name, defPath)
	}

	sr.schemas[name] = def
	return nil
}

// GetSchema retrieves a schema definition by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema validates data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName string, data interface{}) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	// Convert data to CUE value
	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	// Unify with schema (validates)
	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

// CheckConfig validates a raw configuration value against the config
// schema without requiring every field to be present.
func (sr *SchemaRegistry) CheckConfig(val cue.Value) error {
	schema, ok := sr.GetSchema("config")
	if !ok {
		return fmt.Errorf("schema config not found")
	}
	unified := schema.Unify(val)
	return unified.Validate()
}

// ListSchemas returns all registered schema names.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	return names
}

// Built-in schema definitions

const builtinConfigSchema = `
// Runtime configuration schema for depmark
#Config: {
	// StateFile is the selection-state overlay
	state_file?: string

	// GraphFile is the package universe snapshot
	graph_file?: string

	// LockFile guards the state file; empty derives from state_file
	lock_file?: string

	// ReadOnly opens the state without taking the write lock
	read_only?: bool

	// Sweep tunes orphan reclamation
	sweep?: {
		delete_unused?:   bool
		purge_unused?:    bool
		keep_recommends?: bool
		keep_suggests?:   bool
		auto_install?:    bool
		auto_remove_ok?:  bool
		self_package?:    string
	}

	// Policy configures sweep-protection policies
	policy?: {
		enabled?: bool
		builtin?: bool
		paths?: [...string]
		watch?: bool
	}

	// History configures the transaction journal
	history?: {
		enabled?:   bool
		path?:      string
		retention?: int & >=0
	}

	// Telemetry configures logging, tracing and metrics
	telemetry?: {
		log_level?:  "trace" | "debug" | "info" | "warn" | "error" | "fatal"
		log_format?: "json" | "console"
		tracing?: {
			enabled?:       bool
			exporter?:      "otlp" | "stdout" | "none"
			endpoint?:      string
			insecure?:      bool
			sampling_rate?: number & >=0 & <=1
		}
		metrics?: {
			enabled?:        bool
			listen_address?: string
		}
	}

	// Sync lists remote overlay targets
	sync?: [...#SyncTarget]

	#SyncTarget: {
		name:               string & =~"^[a-zA-Z0-9_-]+$"
		host:               string & !=""
		port?:              int & >=1 & <=65535
		user:               string & !=""
		key_path?:          string
		known_hosts_file?:  string
		insecure_host_key?: bool
		remote_path:        string & !=""
		connect_timeout?:   int & >=1
	}
}
`

const builtinSyncTargetSchema = `
// Sync target schema for remote overlay hosts
#SyncTarget: {
	// Name is the target's handle on the command line
	name: string & =~"^[a-zA-Z0-9_-]+$"

	// Host is the SSH host
	host: string & !=""

	// Port is the SSH port
	port?: int & >=1 & <=65535

	// User is the SSH user
	user: string & !=""

	// KeyPath is the private key file
	key_path?: string

	// KnownHostsFile overrides the known_hosts location
	known_hosts_file?: string

	// InsecureHostKey skips host key verification
	insecure_host_key?: bool

	// RemotePath is where the overlay lives remotely
	remote_path: string & !=""

	// ConnectTimeout bounds connection establishment, in seconds
	connect_timeout?: int & >=1
}
`

// ValidateSyncTarget validates a sync target against the sync_target schema.
func (sr *SchemaRegistry) ValidateSyncTarget(ctx context.Context, target SyncTarget) error {
	return sr.ValidateAgainstSchema(ctx, "sync_target", target)
}
