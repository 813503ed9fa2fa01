package config

import (
	"time"

	"github.com/depmark/depmark/pkg/engine"
	"github.com/depmark/depmark/pkg/telemetry"
	"github.com/depmark/depmark/pkg/transports/ssh"
)

// Config is the runtime configuration for depmark.
type Config struct {
	// StateFile is the selection-state overlay depmark owns.
	StateFile string `json:"state_file" validate:"required"`

	// GraphFile is the package universe snapshot the overlay annotates.
	GraphFile string `json:"graph_file" validate:"required"`

	// LockFile guards the state file against concurrent writers.
	// Empty means StateFile + ".lock".
	LockFile string `json:"lock_file,omitempty"`

	// ReadOnly opens the state without taking the write lock. Mutating
	// commands fail unless the engine grants an override.
	ReadOnly bool `json:"read_only,omitempty"`

	// Sweep tunes orphan reclamation and dependency expansion.
	Sweep SweepConfig `json:"sweep"`

	// Policy configures sweep-protection policies.
	Policy PolicyConfig `json:"policy"`

	// History configures the transaction journal.
	History HistoryConfig `json:"history"`

	// Telemetry configures logging, tracing and metrics.
	Telemetry TelemetryConfig `json:"telemetry"`

	// Sync lists remote hosts the overlay can be pushed to or pulled from.
	Sync []SyncTarget `json:"sync,omitempty" validate:"dive"`
}

// SweepConfig tunes the orphan sweep and dependency expansion.
type SweepConfig struct {
	// DeleteUnused schedules automatically installed packages for
	// removal once nothing depends on them.
	DeleteUnused bool `json:"delete_unused"`

	// PurgeUnused purges unused packages instead of removing them.
	PurgeUnused bool `json:"purge_unused"`

	// KeepRecommends treats Recommends as strong enough to keep the
	// target installed.
	KeepRecommends bool `json:"keep_recommends"`

	// KeepSuggests treats Suggests the same way.
	KeepSuggests bool `json:"keep_suggests"`

	// AutoInstall pulls in the dependencies of packages marked for
	// install.
	AutoInstall bool `json:"auto_install"`

	// AutoRemoveOk lets dependency expansion remove packages without
	// an explicit request.
	AutoRemoveOk bool `json:"auto_remove_ok"`

	// SelfPackage names the package this program ships as.
	SelfPackage string `json:"self_package,omitempty"`
}

// PolicyConfig configures sweep-protection policies.
type PolicyConfig struct {
	// Enabled turns policy evaluation on.
	Enabled bool `json:"enabled"`

	// Builtin includes the built-in protection policies (essential
	// packages, kernels, depmark itself).
	Builtin bool `json:"builtin"`

	// Paths lists extra policy files or directories to load.
	Paths []string `json:"paths,omitempty"`

	// Watch reloads policies when the files change.
	Watch bool `json:"watch,omitempty"`
}

// HistoryConfig configures the transaction journal.
type HistoryConfig struct {
	// Enabled turns transaction recording on.
	Enabled bool `json:"enabled"`

	// Path is the journal database file.
	Path string `json:"path,omitempty" validate:"required_if=Enabled true"`

	// Retention is how many transactions to keep; zero keeps all.
	Retention int `json:"retention,omitempty" validate:"omitempty,min=0"`
}

// TelemetryConfig is the user-facing telemetry surface. It covers the
// knobs worth exposing in a config file; everything else keeps the
// telemetry package defaults.
type TelemetryConfig struct {
	// LogLevel is the minimum log level (trace, debug, info, warn, error, fatal).
	LogLevel string `json:"log_level,omitempty" validate:"omitempty,oneof=trace debug info warn error fatal"`

	// LogFormat selects json or console output.
	LogFormat string `json:"log_format,omitempty" validate:"omitempty,oneof=json console"`

	// Tracing configures OpenTelemetry trace export.
	Tracing TracingConfig `json:"tracing"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `json:"metrics"`
}

// TracingConfig configures trace export.
type TracingConfig struct {
	// Enabled turns tracing on.
	Enabled bool `json:"enabled"`

	// Exporter is the span exporter (otlp, stdout, none).
	Exporter string `json:"exporter,omitempty" validate:"omitempty,oneof=otlp stdout none"`

	// Endpoint is the OTLP collector address.
	Endpoint string `json:"endpoint,omitempty"`

	// Insecure disables TLS on the OTLP connection.
	Insecure bool `json:"insecure,omitempty"`

	// SamplingRate is the fraction of traces to sample (0.0-1.0).
	SamplingRate float64 `json:"sampling_rate,omitempty" validate:"omitempty,min=0,max=1"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled turns the metrics endpoint on.
	Enabled bool `json:"enabled"`

	// ListenAddress is the HTTP listen address for /metrics.
	ListenAddress string `json:"listen_address,omitempty"`
}

// SyncTarget names a remote host the overlay can be synchronized with.
type SyncTarget struct {
	// Name is the target's handle on the command line.
	Name string `json:"name" validate:"required"`

	// Host is the SSH host.
	Host string `json:"host" validate:"required"`

	// Port is the SSH port; zero means 22.
	Port int `json:"port,omitempty" validate:"omitempty,min=1,max=65535"`

	// User is the SSH user.
	User string `json:"user" validate:"required"`

	// KeyPath is the private key file; empty triggers default key
	// discovery under ~/.ssh.
	KeyPath string `json:"key_path,omitempty"`

	// KnownHostsFile overrides the known_hosts location.
	KnownHostsFile string `json:"known_hosts_file,omitempty"`

	// InsecureHostKey skips host key verification.
	InsecureHostKey bool `json:"insecure_host_key,omitempty"`

	// RemotePath is where the overlay lives on the remote host.
	RemotePath string `json:"remote_path" validate:"required"`

	// ConnectTimeout bounds connection establishment, in seconds;
	// zero keeps the transport default.
	ConnectTimeout int `json:"connect_timeout,omitempty" validate:"omitempty,min=1"`
}

// ValidationError represents a configuration error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the CUE path to the error (e.g., "sweep.delete_unused").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`

	// Severity is the error severity (error, warning, info).
	Severity string `json:"severity" validate:"required,oneof=error warning info"`
}

// Default returns the stock configuration. Loading layers the file's
// values over these, so absent sections keep their defaults.
func Default() *Config {
	return &Config{
		StateFile: "/var/lib/depmark/pkgstates",
		GraphFile: "/var/lib/depmark/universe",
		Sweep: SweepConfig{
			DeleteUnused:   true,
			KeepRecommends: true,
			KeepSuggests:   true,
			AutoInstall:    true,
			SelfPackage:    "depmark",
		},
		Policy: PolicyConfig{
			Enabled: true,
			Builtin: true,
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    "/var/lib/depmark/history.db",
		},
		Telemetry: TelemetryConfig{
			LogLevel:  "info",
			LogFormat: "console",
			Tracing:   TracingConfig{Exporter: "none", SamplingRate: 1.0},
			Metrics:   MetricsConfig{ListenAddress: ":9090"},
		},
	}
}

// LockPath returns the lock file location, deriving it from the state
// file when not set explicitly.
func (c *Config) LockPath() string {
	if c.LockFile != "" {
		return c.LockFile
	}
	return c.StateFile + ".lock"
}

// Target looks up a sync target by name.
func (c *Config) Target(name string) (SyncTarget, bool) {
	for _, t := range c.Sync {
		if t.Name == name {
			return t, true
		}
	}
	return SyncTarget{}, false
}

// EngineOptions converts the sweep section to engine options.
func (c *Config) EngineOptions() engine.Options {
	opts := engine.DefaultOptions()
	opts.DeleteUnused = c.Sweep.DeleteUnused
	opts.PurgeUnused = c.Sweep.PurgeUnused
	opts.KeepRecommends = c.Sweep.KeepRecommends
	opts.KeepSuggests = c.Sweep.KeepSuggests
	opts.AutoInstall = c.Sweep.AutoInstall
	opts.AutoRemoveOk = c.Sweep.AutoRemoveOk
	if c.Sweep.SelfPackage != "" {
		opts.SelfPackage = c.Sweep.SelfPackage
	}
	return opts
}

// TelemetryConfig builds the full telemetry configuration from the
// user-facing section, keeping package defaults for everything the
// section does not cover.
func (c *Config) TelemetryConfig(version string) *telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.ServiceVersion = version
	if c.Telemetry.LogLevel != "" {
		tc.Logging.Level = c.Telemetry.LogLevel
	}
	if c.Telemetry.LogFormat != "" {
		tc.Logging.Format = c.Telemetry.LogFormat
	}
	tc.Tracing.Enabled = c.Telemetry.Tracing.Enabled
	if c.Telemetry.Tracing.Exporter != "" {
		tc.Tracing.Exporter = c.Telemetry.Tracing.Exporter
	}
	tc.Tracing.Endpoint = c.Telemetry.Tracing.Endpoint
	tc.Tracing.Insecure = c.Telemetry.Tracing.Insecure
	if c.Telemetry.Tracing.SamplingRate > 0 {
		tc.Tracing.SamplingRate = c.Telemetry.Tracing.SamplingRate
	}
	tc.Metrics.Enabled = c.Telemetry.Metrics.Enabled
	if c.Telemetry.Metrics.ListenAddress != "" {
		tc.Metrics.ListenAddress = c.Telemetry.Metrics.ListenAddress
	}
	return tc
}

// SSHConfig converts a sync target to a transport configuration.
func (t SyncTarget) SSHConfig() ssh.Config {
	cfg := ssh.DefaultConfig(t.Host, t.User)
	if t.Port != 0 {
		cfg.Port = t.Port
	}
	if t.KeyPath != "" {
		cfg.AuthMethod = ssh.AuthMethodKey
		cfg.PrivateKeyPath = t.KeyPath
	}
	if t.KnownHostsFile != "" {
		cfg.KnownHostsFile = t.KnownHostsFile
	}
	cfg.StrictHostKeyCheck = !t.InsecureHostKey
	if t.ConnectTimeout > 0 {
		cfg.ConnectTimeout = time.Duration(t.ConnectTimeout) * time.Second
	}
	return cfg
}
