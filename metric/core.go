package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "onboard"

// Metrics contains the counters and histograms recorded by the onboarding
// engine. All Record methods are safe to call on a nil *Metrics.
type Metrics struct {
	// Configuration publication
	ConfigsPublished *prometheus.CounterVec
	ConfigsRemoved   *prometheus.CounterVec

	// Resolution
	ResolverDiagnostics *prometheus.CounterVec
	NoDownstream        prometheus.Counter

	// Lifecycle
	Deployments      *prometheus.CounterVec
	UndeployOutcomes *prometheus.CounterVec
	HealthWait       prometheus.Histogram

	// Registry
	RegistryLatency *prometheus.HistogramVec
	RegistryErrors  *prometheus.CounterVec
}

// NewMetrics creates the onboarding metrics. They are not registered.
func NewMetrics() *Metrics {
	return &Metrics{
		ConfigsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "config",
				Name:      "published_total",
				Help:      "Configurations published to the registry, by publish mode (txn, manifest)",
			},
			[]string{"mode"},
		),

		ConfigsRemoved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "config",
				Name:      "removed_total",
				Help:      "Configuration removals, by result (ok, failed)",
			},
			[]string{"result"},
		),

		ResolverDiagnostics: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "resolver",
				Name:      "diagnostics_total",
				Help:      "Advisory diagnostics raised while resolving interfaces, by kind",
			},
			[]string{"kind"},
		),

		NoDownstream: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "resolver",
				Name:      "no_downstream_total",
				Help:      "Resolutions aborted because a required downstream had no instance",
			},
		),

		Deployments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "deploy",
				Name:      "total",
				Help:      "Component deployments, by component type and result",
			},
			[]string{"type", "result"},
		),

		UndeployOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "undeploy",
				Name:      "instances_total",
				Help:      "Instances handled by undeploy, by result (ok, failed)",
			},
			[]string{"result"},
		),

		HealthWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "deploy",
				Name:      "health_wait_seconds",
				Help:      "Time spent waiting for a deployed instance to become healthy",
				Buckets:   []float64{1, 2, 5, 10, 30, 60, 120, 300},
			},
		),

		RegistryLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "registry",
				Name:      "operation_duration_seconds",
				Help:      "Registry operation latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		RegistryErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "registry",
				Name:      "errors_total",
				Help:      "Registry operation errors, by operation",
			},
			[]string{"operation"},
		),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ConfigsPublished,
		m.ConfigsRemoved,
		m.ResolverDiagnostics,
		m.NoDownstream,
		m.Deployments,
		m.UndeployOutcomes,
		m.HealthWait,
		m.RegistryLatency,
		m.RegistryErrors,
	}
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}

// RecordConfigPublished counts a published configuration.
func (m *Metrics) RecordConfigPublished(mode string) {
	if m == nil {
		return
	}
	m.ConfigsPublished.WithLabelValues(mode).Inc()
}

// RecordConfigRemoved counts a configuration removal.
func (m *Metrics) RecordConfigRemoved(ok bool) {
	if m == nil {
		return
	}
	m.ConfigsRemoved.WithLabelValues(result(ok)).Inc()
}

// RecordDiagnostic counts a resolver diagnostic.
func (m *Metrics) RecordDiagnostic(kind string) {
	if m == nil {
		return
	}
	m.ResolverDiagnostics.WithLabelValues(kind).Inc()
}

// RecordNoDownstream counts an aborted resolution.
func (m *Metrics) RecordNoDownstream() {
	if m == nil {
		return
	}
	m.NoDownstream.Inc()
}

// RecordDeployment counts a deployment attempt.
func (m *Metrics) RecordDeployment(componentType string, ok bool) {
	if m == nil {
		return
	}
	m.Deployments.WithLabelValues(componentType, result(ok)).Inc()
}

// RecordUndeploy counts one undeployed instance.
func (m *Metrics) RecordUndeploy(ok bool) {
	if m == nil {
		return
	}
	m.UndeployOutcomes.WithLabelValues(result(ok)).Inc()
}

// RecordHealthWait records how long health verification took.
func (m *Metrics) RecordHealthWait(d time.Duration) {
	if m == nil {
		return
	}
	m.HealthWait.Observe(d.Seconds())
}

// RecordRegistryOp records the latency of one registry call and counts it
// as an error when err is non-nil.
func (m *Metrics) RecordRegistryOp(operation string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.RegistryLatency.WithLabelValues(operation).Observe(d.Seconds())
	if err != nil {
		m.RegistryErrors.WithLabelValues(operation).Inc()
	}
}
