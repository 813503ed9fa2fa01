// Package telemetry provides observability instrumentation for depmark.
//
// The telemetry package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus), and event publishing into a unified system
// for monitoring and debugging depmark operations.
//
// # Architecture
//
// The telemetry system is built on four pillars:
//
//  1. Structured Logging - Context-aware logging with zerolog
//  2. Distributed Tracing - OpenTelemetry traces with multiple exporters
//  3. Metrics Collection - Prometheus metrics for operational insights
//  4. Event Publishing - Async event system for audit and notifications
//
// As depmark is primarily a command-line tool, tracing and metrics are
// disabled by default and enabled only when a collector is configured;
// logging and events are always available.
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
// Add telemetry to context:
//
//	ctx = tel.WithContext(ctx)
//
// # Structured Logging
//
// The logger provides component-specific logging with automatic context propagation:
//
//	logger := tel.Logger.NewComponentLogger("engine")
//	logger = logger.WithTransactionID("tx-123").WithPackage("libfoo")
//	logger.Info("Marking package for installation")
//	logger.WithError(err).Error("Mark failed")
//
// Components that take a bare zerolog.Logger (the engine, the dependency
// cache, the policy loader) get one via tel.Logger.Zerolog().
//
// Log levels: trace, debug, info, warn, error, fatal
//
// # Distributed Tracing
//
// Tracing provides visibility into transaction flow and performance:
//
//	ctx, span := tel.Tracer.StartTransactionSpan(ctx, txID, "install")
//	defer span.End()
//
//	span.SetAttributes(
//	    telemetry.AttrPackageName.String("libfoo"),
//	)
//
//	if err != nil {
//	    telemetry.RecordError(span, err)
//	}
//
// Supported exporters: OTLP (production), Stdout (development)
//
// # Metrics
//
// Prometheus metrics track selection-state behavior:
//
//	tel.Metrics.RecordTransaction("install", changed, duration)
//	tel.Metrics.RecordSweep(collected, reinstated, conflicted)
//	tel.Metrics.RecordOverlayLoad("ok")
//	tel.Metrics.RecordError("conflict", "DEP_CONFLICT")
//
// Metrics are exposed via HTTP at /metrics (default: :9090/metrics) when
// the metrics server is enabled.
//
// # Event Publishing
//
// The event system provides async publishing with buffering and filtering.
// The engine fires exactly one package.states_changed event per committed
// transaction, listing every package whose state moved, and one
// overlay.reset event whenever the whole selection state is replaced:
//
//	tel.Events.PublishStatesChanged(txID, changedPackages)
//	tel.Events.PublishOverlayReset(path)
//
//	tel.Events.Subscribe(func(event telemetry.Event) {
//	    fmt.Printf("Event: %s - %s\n", event.Type, event.Message)
//	}, telemetry.FilterByType(telemetry.EventTypeStatesChanged))
//
// Event filters: FilterByLevel, FilterByType, FilterByTransaction, FilterByPackage
//
// # Context Helpers
//
// High-level helpers simplify common instrumentation patterns:
//
//	// Transaction context
//	ctx = telemetry.WithTransactionContext(ctx, txID, "install")
//	defer telemetry.EndTransactionContext(ctx, txID, "install", changed, err)
//
//	// Overlay persistence
//	err := telemetry.RecordOverlayOperation(ctx, "save", path, func() error {
//	    return eng.SaveOverlay(path, true)
//	})
//
//	// Sweep outcome
//	telemetry.RecordSweepResult(ctx, stats.Collected, stats.Reinstated, stats.Conflicted)
//
// # Configuration
//
// The package provides pre-configured setups for different environments:
//
//	// Development (verbose logging, stdout traces, full sampling)
//	cfg := telemetry.DevelopmentConfig()
//
//	// Production (JSON logs, OTLP traces, 10% sampling)
//	cfg := telemetry.ProductionConfig()
//
// # Graceful Shutdown
//
// Always shut down telemetry gracefully to flush pending data:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
//	defer cancel()
//
//	if err := tel.Shutdown(ctx); err != nil {
//	    log.Printf("Telemetry shutdown error: %v", err)
//	}
//
// This ensures all buffered events are published and all pending traces
// are exported before the process exits.
package telemetry
