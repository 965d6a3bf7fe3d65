package domain

import "time"

// RecoveryType categorizes a recovery operation.
type RecoveryType string

const (
	RecoveryRetry    RecoveryType = "retry"
	RecoveryRollback RecoveryType = "rollback"
)

// RecoveryStepKind identifies one entry in a recovery step log.
type RecoveryStepKind string

const (
	StepAttemptSucceeded   RecoveryStepKind = "attempt_succeeded"
	StepAttemptFailed      RecoveryStepKind = "attempt_failed"
	StepRetryDelay         RecoveryStepKind = "retry_delay"
	StepBreakerRejected    RecoveryStepKind = "breaker_rejected"
	StepCheckpointRollback RecoveryStepKind = "checkpoint_rollback"
)

// RecoveryStep is one timestamped event within a recovery operation.
type RecoveryStep struct {
	Kind    RecoveryStepKind `json:"kind"`
	At      time.Time        `json:"at"`
	Attempt int              `json:"attempt"`
	Detail  string           `json:"detail,omitempty"`
}

// RecoveryOperation is the audit record of one recovery attempt sequence.
type RecoveryOperation struct {
	ID           string         `json:"id"`
	Operation    string         `json:"operation"`
	Type         RecoveryType   `json:"type"`
	StartedAt    time.Time      `json:"started_at"`
	FinishedAt   time.Time      `json:"finished_at"`
	Success      bool           `json:"success"`
	CheckpointID string         `json:"checkpoint_id,omitempty"`
	Steps        []RecoveryStep `json:"steps"`
}
