// Package config provides CUE configuration loading for depmark.
//
// # Overview
//
// The config package loads the runtime configuration: where the
// selection-state overlay and package universe live, how the orphan
// sweep behaves, which protection policies apply, where the
// transaction journal goes, telemetry knobs and remote sync targets.
//
// # Features
//
//   - CUE configuration parsing from files, directories, and inline content
//   - Schema validation against a built-in config schema
//   - Struct tag validation of the decoded configuration
//   - Error reporting with file locations and line numbers
//   - Configuration merging from multiple sources via CUE unification
//
// # Usage Example
//
//	// Create a loader
//	loader := config.NewLoader()
//
//	// Load configuration, later sources unify with earlier ones
//	cfg, err := loader.Load(ctx, "/etc/depmark/config.cue", "/etc/depmark/conf.d")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Map sections onto the components they configure
//	opts := cfg.EngineOptions()
//	tel, err := telemetry.NewTelemetry(cfg.TelemetryConfig(version))
//
// # Configuration Structure
//
// A typical configuration:
//
//	state_file: "/var/lib/depmark/pkgstates"
//	graph_file: "/var/lib/depmark/universe"
//
//	sweep: {
//	    delete_unused:   true
//	    keep_recommends: true
//	    keep_suggests:   false
//	}
//
//	policy: {
//	    enabled: true
//	    builtin: true
//	    paths: ["/etc/depmark/policies"]
//	}
//
//	history: {
//	    enabled: true
//	    path:    "/var/lib/depmark/history.db"
//	}
//
//	sync: [{
//	    name:        "backup"
//	    host:        "backup.example.com"
//	    user:        "depmark"
//	    remote_path: "/var/lib/depmark/pkgstates"
//	}]
//
// Absent fields keep the defaults from Default(); multiple sources
// unify, and conflicting values are an error rather than last-wins.
//
// # Error Handling
//
// Load failures carry location information:
//
//	ValidationError{
//	    File: "config.cue",
//	    Line: 42,
//	    Column: 5,
//	    Path: "telemetry.log_level",
//	    Message: "3 errors in empty disjunction...",
//	    Severity: "error",
//	}
//
// # Thread Safety
//
// Loader and SchemaRegistry are safe for concurrent use.
package config
