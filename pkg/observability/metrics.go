package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pass Metrics
var (
	PassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circlemon_passes_total",
			Help: "Total number of monitoring passes",
		},
		[]string{"source", "result"}, // source: schedule/http/cli, result: success/failure
	)

	PassDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "circlemon_pass_duration_seconds",
			Help:    "Duration of monitoring passes in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"source"},
	)

	PassCirclesFailed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "circlemon_pass_circles_failed",
			Help: "Number of circles whose evaluation failed in the last pass",
		},
	)

	PassesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "circlemon_passes_in_flight",
			Help: "Number of passes currently running",
		},
	)

	LastPassTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "circlemon_last_pass_timestamp_seconds",
			Help: "Unix time the last pass finished",
		},
	)
)

// Circle Metrics
var (
	CircleEvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circlemon_circle_evaluations_total",
			Help: "Total number of circle evaluations",
		},
		[]string{"circle", "result"}, // ok, provision, error
	)

	PoolAvailableCount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circlemon_pool_available_count",
			Help: "Available members in a pool at the last probe",
		},
		[]string{"circle", "pool", "stage"},
	)

	PoolMinimumCount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circlemon_pool_minimum_count",
			Help: "Configured minimum available members for a circle",
		},
		[]string{"circle"},
	)

	ProbeErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circlemon_probe_errors_total",
			Help: "Total number of failed capacity probes",
		},
		[]string{"circle", "kind"}, // transient, fatal
	)

	ProvisionTriggersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circlemon_provision_triggers_total",
			Help: "Total number of provisioning runs requested",
		},
		[]string{"circle", "result"}, // success, failure
	)

	WorkerPanicsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "circlemon_worker_panics_total",
			Help: "Total number of circle workers that panicked",
		},
	)
)

// Control Plane Metrics
var (
	ControlPlaneRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circlemon_control_plane_requests_total",
			Help: "Total number of control plane requests",
		},
		[]string{"operation", "code"},
	)

	ControlPlaneRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "circlemon_control_plane_request_duration_seconds",
			Help:    "Duration of control plane requests in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
		},
		[]string{"operation"},
	)
)

// General System Metrics
var (
	SystemInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circlemon_system_info",
			Help: "System information (version, build time, etc.)",
		},
		[]string{"version", "build_time", "git_commit"},
	)

	UptimeSeconds = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circlemon_uptime_seconds",
			Help: "Uptime of the component in seconds",
		},
		[]string{"component"},
	)
)
