package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for depmark.
type Metrics struct {
	config MetricsConfig

	// Transaction metrics
	transactions        *prometheus.CounterVec
	transactionDuration *prometheus.HistogramVec
	packageChanges      *prometheus.CounterVec

	// Sweep metrics
	sweepRuns       prometheus.Counter
	sweepCollected  prometheus.Counter
	sweepReinstated prometheus.Counter
	sweepConflicted prometheus.Counter

	// Overlay persistence metrics
	overlayLoads        *prometheus.CounterVec
	overlaySaves        *prometheus.CounterVec
	overlaySaveDuration prometheus.Histogram
	corruptSections     prometheus.Counter

	// Selection state gauges
	packagesMarked  *prometheus.GaugeVec
	packagesBroken  prometheus.Gauge
	packagesNew     prometheus.Gauge
	protectedRoots  prometheus.Gauge

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	// Policy metrics
	policyReloads *prometheus.CounterVec

	// Sync metrics
	syncTransfers *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	// Create a new registry
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		// Transaction metrics
		transactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transactions_total",
				Help:      "Total number of committed selection transactions",
			},
			[]string{"command"},
		),
		transactionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "transaction_duration_seconds",
				Help:      "Duration of selection transactions in seconds",
				Buckets:   buckets,
			},
			[]string{"command"},
		),
		packageChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "package_changes_total",
				Help:      "Total number of per-package state changes committed",
			},
			[]string{"command"},
		),

		// Sweep metrics
		sweepRuns: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweep_runs_total",
				Help:      "Total number of orphan sweep passes",
			},
		),
		sweepCollected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweep_collected_total",
				Help:      "Total number of orphans scheduled for removal by the sweep",
			},
		),
		sweepReinstated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweep_reinstated_total",
				Help:      "Total number of orphans reinstated because removal would break a dependent",
			},
		),
		sweepConflicted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweep_conflicted_total",
				Help:      "Total number of reinstatement candidates rejected for conflicts",
			},
		),

		// Overlay persistence metrics
		overlayLoads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "overlay_loads_total",
				Help:      "Total number of overlay file loads",
			},
			[]string{"result"},
		),
		overlaySaves: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "overlay_saves_total",
				Help:      "Total number of overlay file saves",
			},
			[]string{"result"},
		),
		overlaySaveDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "overlay_save_duration_seconds",
				Help:      "Duration of overlay file saves in seconds",
				Buckets:   buckets,
			},
		),
		corruptSections: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "overlay_corrupt_sections_total",
				Help:      "Total number of corrupt overlay sections skipped during load",
			},
		),

		// Selection state gauges
		packagesMarked: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "packages_marked",
				Help:      "Current number of packages by pending action",
			},
			[]string{"action"},
		),
		packagesBroken: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "packages_broken",
				Help:      "Current number of packages with unsatisfied critical dependencies",
			},
		),
		packagesNew: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "packages_new",
				Help:      "Current number of packages not yet seen by the user",
			},
		),
		protectedRoots: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "protected_packages",
				Help:      "Current number of packages protected from unused removal by policy",
			},
		),

		// Error metrics
		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),

		// Policy metrics
		policyReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_reloads_total",
				Help:      "Total number of protection policy reloads",
			},
			[]string{"status"},
		),

		// Sync metrics
		syncTransfers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_transfers_total",
				Help:      "Total number of overlay sync transfers",
			},
			[]string{"direction", "status"},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.transactions,
		m.transactionDuration,
		m.packageChanges,
		m.sweepRuns,
		m.sweepCollected,
		m.sweepReinstated,
		m.sweepConflicted,
		m.overlayLoads,
		m.overlaySaves,
		m.overlaySaveDuration,
		m.corruptSections,
		m.packagesMarked,
		m.packagesBroken,
		m.packagesNew,
		m.protectedRoots,
		m.errorsByClass,
		m.errorsByCode,
		m.policyReloads,
		m.syncTransfers,
	)

	return m, nil
}

// Transaction Metrics

// RecordTransaction records a committed transaction with the number of
// package states it changed.
func (m *Metrics) RecordTransaction(command string, changed int, duration time.Duration) {
	if m.transactions == nil {
		return
	}
	m.transactions.WithLabelValues(command).Inc()
	m.transactionDuration.WithLabelValues(command).Observe(duration.Seconds())
	m.packageChanges.WithLabelValues(command).Add(float64(changed))
}

// Sweep Metrics

// RecordSweep records the outcome of an orphan sweep pass.
func (m *Metrics) RecordSweep(collected, reinstated, conflicted int) {
	if m.sweepRuns == nil {
		return
	}
	m.sweepRuns.Inc()
	m.sweepCollected.Add(float64(collected))
	m.sweepReinstated.Add(float64(reinstated))
	m.sweepConflicted.Add(float64(conflicted))
}

// Overlay Metrics

// RecordOverlayLoad records an overlay load attempt ("ok", "missing",
// "corrupt", "error").
func (m *Metrics) RecordOverlayLoad(result string) {
	if m.overlayLoads == nil {
		return
	}
	m.overlayLoads.WithLabelValues(result).Inc()
}

// RecordOverlaySave records an overlay save attempt with its duration.
func (m *Metrics) RecordOverlaySave(result string, duration time.Duration) {
	if m.overlaySaves == nil {
		return
	}
	m.overlaySaves.WithLabelValues(result).Inc()
	m.overlaySaveDuration.Observe(duration.Seconds())
}

// RecordCorruptSections records overlay sections skipped as corrupt.
func (m *Metrics) RecordCorruptSections(count int) {
	if m.corruptSections == nil || count == 0 {
		return
	}
	m.corruptSections.Add(float64(count))
}

// Selection Gauges

// SetMarkedPackages sets the current count of packages pending an action
// ("install", "delete", "keep").
func (m *Metrics) SetMarkedPackages(action string, count float64) {
	if m.packagesMarked == nil {
		return
	}
	m.packagesMarked.WithLabelValues(action).Set(count)
}

// SetBrokenPackages sets the current broken-package count.
func (m *Metrics) SetBrokenPackages(count float64) {
	if m.packagesBroken == nil {
		return
	}
	m.packagesBroken.Set(count)
}

// SetNewPackages sets the current new-package count.
func (m *Metrics) SetNewPackages(count float64) {
	if m.packagesNew == nil {
		return
	}
	m.packagesNew.Set(count)
}

// SetProtectedPackages sets the current policy-protected package count.
func (m *Metrics) SetProtectedPackages(count float64) {
	if m.protectedRoots == nil {
		return
	}
	m.protectedRoots.Set(count)
}

// Error Metrics

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" && m.errorsByCode != nil {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// Policy Metrics

// RecordPolicyReload records a protection policy reload ("ok", "error").
func (m *Metrics) RecordPolicyReload(status string) {
	if m.policyReloads == nil {
		return
	}
	m.policyReloads.WithLabelValues(status).Inc()
}

// Sync Metrics

// RecordSyncTransfer records an overlay sync transfer ("push"/"pull",
// "ok"/"error").
func (m *Metrics) RecordSyncTransfer(direction, status string) {
	if m.syncTransfers == nil {
		return
	}
	m.syncTransfers.WithLabelValues(direction, status).Inc()
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Log error but don't fail the application
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
