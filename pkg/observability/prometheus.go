// Package observability provides Prometheus metrics for draid-bench runs.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// namespace is the Prometheus metric namespace prefix for all draid-bench metrics.
	namespace = "draid_bench"
)

// Metrics holds all Prometheus metrics for a benchmark run.
type Metrics struct {
	registry *prometheus.Registry

	// Trial metrics
	trialsTotal      *prometheus.CounterVec
	recoveryDuration *prometheus.HistogramVec

	// Array tool command metrics
	commandsTotal   *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	statusPolls     *prometheus.CounterVec

	cleanupFailuresTotal prometheus.Counter

	// Discovery and enumeration
	devicesDiscovered prometheus.Gauge
	layoutsEnumerated prometheus.Gauge
	trialInProgress   prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
// Uses a custom registry so tests can create as many instances as they like.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		trialsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "trials_total",
				Help:      "Total number of layout trials by drill mode and outcome",
			},
			[]string{"mode", "outcome"},
		),

		recoveryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "recovery_duration_seconds",
				Help:      "Time from triggering a resilver or scrub until the pool reported it finished",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600, 10800},
			},
			[]string{"mode"},
		),

		commandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "array_commands_total",
				Help:      "Total number of array tool invocations by subcommand and status",
			},
			[]string{"subcommand", "status"},
		),

		commandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "array_command_duration_seconds",
				Help:      "Duration of array tool invocations in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"subcommand"},
		),

		statusPolls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "status_polls_total",
				Help:      "Total number of pool status polls by observed activity",
			},
			[]string{"activity"},
		),

		cleanupFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_failures_total",
			Help:      "Total number of pool destroy attempts that failed",
		}),

		devicesDiscovered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "devices_discovered",
			Help:      "Number of usable devices found by the last discovery",
		}),

		layoutsEnumerated: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "layouts_enumerated",
			Help:      "Number of feasible layouts produced by the last enumeration",
		}),

		trialInProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "trial_in_progress",
			Help:      "1 while a pool is live, 0 otherwise",
		}),
	}

	reg.MustRegister(
		m.trialsTotal,
		m.recoveryDuration,
		m.commandsTotal,
		m.commandDuration,
		m.statusPolls,
		m.cleanupFailuresTotal,
		m.devicesDiscovered,
		m.layoutsEnumerated,
		m.trialInProgress,
	)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordCommand records one array tool invocation.
// subcommand should be one of: create, offline, replace, scrub, status, destroy, list.
func (m *Metrics) RecordCommand(subcommand string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.commandsTotal.WithLabelValues(subcommand, status).Inc()
	m.commandDuration.WithLabelValues(subcommand).Observe(duration.Seconds())
}

// RecordStatusPoll records one status poll and the activity it observed.
func (m *Metrics) RecordStatusPoll(activity string) {
	m.statusPolls.WithLabelValues(activity).Inc()
}

// RecordTrial records a finished trial.
// Recovery duration is only observed for successful trials.
func (m *Metrics) RecordTrial(mode, outcome string, recovery time.Duration) {
	m.trialsTotal.WithLabelValues(mode, outcome).Inc()
	if outcome == "success" {
		m.recoveryDuration.WithLabelValues(mode).Observe(recovery.Seconds())
	}
}

// SetTrialInProgress flips the live-pool gauge.
func (m *Metrics) SetTrialInProgress(live bool) {
	if live {
		m.trialInProgress.Set(1)
		return
	}
	m.trialInProgress.Set(0)
}

// RecordCleanupFailure records that destroy failed.
func (m *Metrics) RecordCleanupFailure() {
	m.cleanupFailuresTotal.Inc()
}

// RecordDevicesDiscovered sets the discovered device gauge.
func (m *Metrics) RecordDevicesDiscovered(n int) {
	m.devicesDiscovered.Set(float64(n))
}

// RecordLayoutsEnumerated sets the enumerated layout gauge.
func (m *Metrics) RecordLayoutsEnumerated(n int) {
	m.layoutsEnumerated.Set(float64(n))
}
