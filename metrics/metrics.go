package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BootstrapPhaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stageboot_bootstrap_phase_duration_seconds",
			Help:    "Time taken by each bootstrap phase",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"phase"},
	)

	BootstrapFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stageboot_bootstrap_failures_total",
			Help: "Total number of bootstrap runs aborted, by failing phase",
		},
		[]string{"phase"},
	)

	MigrationsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stageboot_migrations_applied_total",
			Help: "Total number of migrations applied",
		},
		[]string{"stage"},
	)

	MigrationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stageboot_migration_failures_total",
			Help: "Total number of migrations that failed",
		},
		[]string{"stage"},
	)

	ResourcesReleased = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stageboot_resources_released_total",
			Help: "Total number of resources released by the resource registry",
		},
	)

	TeardownErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stageboot_teardown_errors_total",
			Help: "Total number of resources whose release failed",
		},
	)
)
