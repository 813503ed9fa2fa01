package telemetry

import (
	"fmt"
	"time"
)

// Config is the root telemetry configuration: service identity plus
// one section per signal.
type Config struct {
	// ServiceName identifies this process in logs, traces and metrics.
	ServiceName    string
	ServiceVersion string

	// Environment is the deployment environment (dev, staging, prod).
	Environment string

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
	Events  EventsConfig

	// ResourceAttributes are extra OTel resource attributes attached
	// to every exported signal.
	ResourceAttributes map[string]string
}

// LoggingConfig configures the zerolog-backed structured logger.
type LoggingConfig struct {
	// Level is the minimum level (trace through fatal).
	Level string

	// Format is "console" or "json".
	Format string

	// Output is "stdout", "stderr" or a file path.
	Output string

	// EnableCaller adds file:line to every entry.
	EnableCaller bool

	// Sampling passes the first SamplingInitial messages per second,
	// then every SamplingThereafter-th.
	EnableSampling     bool
	SamplingInitial    int
	SamplingThereafter int

	// TimeFormat is rfc3339, unix, unixms or unixmicro.
	TimeFormat string
}

// TracingConfig configures the OTel trace exporter.
type TracingConfig struct {
	Enabled bool

	// Exporter is "otlp", "stdout" or "none".
	Exporter string

	// Endpoint is the collector address for OTLP, e.g. "localhost:4317".
	Endpoint string

	// SamplingRate is the fraction of traces kept, 0 to 1.
	SamplingRate float64

	MaxExportBatchSize int
	ExportTimeout      time.Duration

	// Headers are sent with every OTLP export request.
	Headers map[string]string

	// Insecure disables TLS on the exporter connection.
	Insecure bool
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool

	// ListenAddress and Path locate the scrape endpoint.
	ListenAddress string
	Path          string

	// Namespace prefixes every metric name.
	Namespace string

	// DefaultHistogramBuckets are latency buckets in seconds.
	DefaultHistogramBuckets []float64
}

// EventsConfig configures the buffered event publisher.
type EventsConfig struct {
	Enabled bool

	// BufferSize bounds the in-flight queue; a full buffer drops the
	// event rather than blocking the engine.
	BufferSize int

	FlushInterval time.Duration
	MaxBatchSize  int

	// EnableAsync delivers events off the calling goroutine.
	EnableAsync bool
}

// DefaultConfig is the quiet baseline: console logging on stderr,
// tracing and metrics off, events buffered. Commands flip individual
// sections on from the loaded configuration file.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "depmark",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:              "info",
			Format:             "console",
			Output:             "stderr",
			SamplingInitial:    100,
			SamplingThereafter: 100,
			TimeFormat:         "rfc3339",
		},
		Tracing: TracingConfig{
			Exporter:           "none",
			SamplingRate:       1.0,
			MaxExportBatchSize: 512,
			ExportTimeout:      30 * time.Second,
			Headers:            make(map[string]string),
			Insecure:           true,
		},
		Metrics: MetricsConfig{
			ListenAddress: ":9090",
			Path:          "/metrics",
			Namespace:     "depmark",
			DefaultHistogramBuckets: []float64{
				0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0,
			},
		},
		Events: EventsConfig{
			Enabled:       true,
			BufferSize:    1000,
			FlushInterval: 5 * time.Second,
			MaxBatchSize:  100,
			EnableAsync:   true,
		},
		ResourceAttributes: make(map[string]string),
	}
}

// ProductionConfig tunes the defaults for long-running deployments:
// JSON logs with sampling, OTLP tracing at a 10% sample.
func ProductionConfig() *Config {
	cfg := DefaultConfig()
	cfg.Environment = "production"
	cfg.Logging.Format = "json"
	cfg.Logging.EnableSampling = true
	cfg.Logging.TimeFormat = "unix"
	cfg.Tracing.Exporter = "otlp"
	cfg.Tracing.SamplingRate = 0.1
	cfg.Tracing.Insecure = false
	return cfg
}

// DevelopmentConfig tunes the defaults for local work: debug level
// with caller info, every trace kept on the stdout exporter.
func DevelopmentConfig() *Config {
	cfg := DefaultConfig()
	cfg.Environment = "development"
	cfg.Logging.Level = "debug"
	cfg.Logging.Format = "console"
	cfg.Logging.EnableCaller = true
	cfg.Tracing.Exporter = "stdout"
	cfg.Tracing.SamplingRate = 1.0
	return cfg
}

var (
	validLogLevels = map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true,
	}
	validTraceExporters = map[string]bool{
		"otlp": true, "stdout": true, "none": true,
	}
)

// Validate rejects configurations the constructors cannot honor.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}
	if c.ServiceVersion == "" {
		return fmt.Errorf("service version is required")
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be 'console' or 'json')", c.Logging.Format)
	}
	if c.Tracing.Enabled && !validTraceExporters[c.Tracing.Exporter] {
		return fmt.Errorf("invalid trace exporter: %s", c.Tracing.Exporter)
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("trace sampling rate must be between 0 and 1, got: %f", c.Tracing.SamplingRate)
	}
	if c.Metrics.Enabled && c.Metrics.ListenAddress == "" {
		return fmt.Errorf("metrics listen address is required when metrics are enabled")
	}
	if c.Events.Enabled && c.Events.BufferSize <= 0 {
		return fmt.Errorf("event buffer size must be positive, got: %d", c.Events.BufferSize)
	}
	return nil
}
