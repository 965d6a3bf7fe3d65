package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LockAcquisitions tracks granted lock acquisitions per mode
	LockAcquisitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_lock_acquisitions_total",
			Help: "Total number of granted lock acquisitions",
		},
		[]string{"mode"},
	)

	// LockTimeouts tracks lock acquisitions that timed out
	LockTimeouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_lock_timeouts_total",
			Help: "Total number of lock acquisitions that timed out",
		},
		[]string{"mode"},
	)

	// LockContention tracks acquisitions that had to wait
	LockContention = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_lock_contention_total",
			Help: "Total number of lock acquisitions that queued behind another holder",
		},
		[]string{"mode"},
	)

	// Transactions tracks coordinated transactions by outcome
	Transactions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_transactions_total",
			Help: "Total number of coordinated transactions",
		},
		[]string{"status"},
	)

	// CheckpointOps tracks checkpoint store operations by outcome
	CheckpointOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_checkpoint_operations_total",
			Help: "Total number of checkpoint store operations",
		},
		[]string{"op", "status"},
	)

	// RecoveryAttempts tracks recovery attempts per operation outcome
	RecoveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_recovery_attempts_total",
			Help: "Total number of recovery operation attempts",
		},
		[]string{"operation", "status"},
	)

	// ErrorsClassified tracks classified failures per context and kind
	ErrorsClassified = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_errors_classified_total",
			Help: "Total number of failures run through the classifier",
		},
		[]string{"context", "kind"},
	)

	// BreakerTransitions tracks circuit breaker state transitions
	BreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"context", "kind", "to"},
	)

	// HealthScore tracks the aggregate health score
	HealthScore = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_health_score",
			Help: "Aggregate health score in [0,100]",
		},
	)

	// ActiveAlerts tracks currently active alerts per severity
	ActiveAlerts = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sentinel_active_alerts",
			Help: "Number of currently active alerts",
		},
		[]string{"severity"},
	)
)
