// Package observability provides Prometheus metrics for the arraysync manager.
package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// namespace is the Prometheus metric namespace prefix for all arraysync metrics.
	namespace = "arraysync"
)

// Metrics holds all Prometheus metrics for the manager.
type Metrics struct {
	registry  *prometheus.Registry
	cacheOnce sync.Once

	// Sync task metrics
	syncTasksTotal   *prometheus.CounterVec
	syncTaskDuration *prometheus.HistogramVec
	lockSkipsTotal   *prometheus.CounterVec

	// Driver registry metrics
	driverBuildsTotal *prometheus.CounterVec

	// Remote command metrics
	remoteCommandsTotal   *prometheus.CounterVec
	remoteCommandDuration *prometheus.HistogramVec
	breakerTransitions    *prometheus.CounterVec

	// Alert metrics
	alertsExportedTotal *prometheus.CounterVec
	trapsReceivedTotal  *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
// Uses a custom registry so tests and restarts never collide on DefaultRegistry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		syncTasksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_tasks_total",
				Help:      "Total number of resource sync tasks by kind and status",
			},
			[]string{"kind", "status"},
		),

		syncTaskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sync_task_duration_seconds",
				Help:      "Duration of resource sync tasks in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"kind"},
		),

		lockSkipsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lock_skips_total",
				Help:      "Total number of sync jobs skipped because the lease was held elsewhere",
			},
			[]string{"kind"},
		),

		driverBuildsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "driver_builds_total",
				Help:      "Total number of driver constructions by status",
			},
			[]string{"status"},
		),

		remoteCommandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remote_commands_total",
				Help:      "Total number of remote CLI commands by command and status",
			},
			[]string{"command", "status"},
		),

		remoteCommandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "remote_command_duration_seconds",
				Help:      "Duration of remote CLI commands in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"command"},
		),

		breakerTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_transitions_total",
				Help:      "Total number of circuit breaker state transitions by target state",
			},
			[]string{"state"},
		),

		alertsExportedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alerts_exported_total",
				Help:      "Total number of alerts handed to exporters by severity",
			},
			[]string{"severity"},
		),

		trapsReceivedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "traps_received_total",
				Help:      "Total number of SNMP traps received by outcome",
			},
			[]string{"status"},
		),
	}

	reg.MustRegister(
		m.syncTasksTotal,
		m.syncTaskDuration,
		m.lockSkipsTotal,
		m.driverBuildsTotal,
		m.remoteCommandsTotal,
		m.remoteCommandDuration,
		m.breakerTransitions,
		m.alertsExportedTotal,
		m.trapsReceivedTotal,
	)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry exposes the underlying registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func status(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// RecordSyncTask records one sync task run for a resource kind.
// kind is one of: storage, pools, volumes, disks, filesystems, alerts.
func (m *Metrics) RecordSyncTask(kind string, err error, duration time.Duration) {
	m.syncTasksTotal.WithLabelValues(kind, status(err)).Inc()
	m.syncTaskDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordLockSkip records a job skipped because its lease could not be claimed in time
func (m *Metrics) RecordLockSkip(kind string) {
	m.lockSkipsTotal.WithLabelValues(kind).Inc()
}

// RecordDriverBuild records a driver construction attempt
func (m *Metrics) RecordDriverBuild(err error) {
	m.driverBuildsTotal.WithLabelValues(status(err)).Inc()
}

// SetDriverCache registers a gauge that reports count() at scrape time.
// Only the first call registers.
func (m *Metrics) SetDriverCache(count func() int) {
	m.cacheOnce.Do(func() {
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "drivers_cached",
				Help:      "Number of drivers currently held in the registry cache",
			},
			func() float64 { return float64(count()) },
		))
	})
}

// RecordCommand records a remote command. Its signature matches
// transport.CommandObserver so it can be handed to a session pool directly.
func (m *Metrics) RecordCommand(command string, err error, elapsed time.Duration) {
	m.remoteCommandsTotal.WithLabelValues(command, status(err)).Inc()
	m.remoteCommandDuration.WithLabelValues(command).Observe(elapsed.Seconds())
}

// RecordBreakerTransition records a circuit breaker moving to state
func (m *Metrics) RecordBreakerTransition(state string) {
	m.breakerTransitions.WithLabelValues(state).Inc()
}

// RecordAlertExported records an alert handed to the exporters
func (m *Metrics) RecordAlertExported(severity string) {
	m.alertsExportedTotal.WithLabelValues(severity).Inc()
}

// RecordTrapReceived records an inbound trap.
// status should be one of: accepted, rejected, ignored.
func (m *Metrics) RecordTrapReceived(outcome string) {
	m.trapsReceivedTotal.WithLabelValues(outcome).Inc()
}
