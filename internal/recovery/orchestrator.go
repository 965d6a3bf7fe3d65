// Package recovery retries failing operations with exponential backoff and
// escalates to checkpoint rollback on exhaustion, keeping an audit trail of
// every attempt sequence.
package recovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vietddude/sentinel/internal/checkpoint"
	"github.com/vietddude/sentinel/internal/core/domain"
	"github.com/vietddude/sentinel/internal/faults"
	"github.com/vietddude/sentinel/internal/infra/storage"
	"github.com/vietddude/sentinel/internal/metrics"
)

// Config tunes the retry and escalation behavior.
type Config struct {
	MaxAttempts        int           `yaml:"max_attempts"`
	BaseDelay          time.Duration `yaml:"base_delay"`
	BackoffFactor      float64       `yaml:"backoff_factor"`
	MaxDelay           time.Duration `yaml:"max_delay"`
	EmergencyThreshold int           `yaml:"emergency_threshold"`
	FailureWindow      time.Duration `yaml:"failure_window"`
}

// DefaultConfig mirrors the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:        3,
		BaseDelay:          200 * time.Millisecond,
		BackoffFactor:      2.0,
		MaxDelay:           10 * time.Second,
		EmergencyThreshold: 10,
		FailureWindow:      time.Hour,
	}
}

// Error wraps the final underlying failure of an exhausted recovery run.
type Error struct {
	Operation    string
	Attempts     int
	CheckpointID string
	RolledBack   bool
	Err          error
}

func (e *Error) Error() string {
	return fmt.Sprintf("recovery for %q exhausted after %d attempts (rolled_back=%t): %v",
		e.Operation, e.Attempts, e.RolledBack, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

type failureWindow struct {
	count       int
	windowStart time.Time
}

// Orchestrator runs operations under retry-with-rollback protection.
// Safe for concurrent use.
type Orchestrator struct {
	checkpoints *checkpoint.Store
	classifier  *faults.Classifier
	audit       storage.RecoveryAuditRepository
	cfg         Config
	log         *slog.Logger

	mu       sync.Mutex
	failures map[string]*failureWindow

	now func() time.Time
}

// NewOrchestrator wires the orchestrator. classifier may be nil, disabling
// breaker pre-checks; audit is required.
func NewOrchestrator(
	checkpoints *checkpoint.Store,
	classifier *faults.Classifier,
	audit storage.RecoveryAuditRepository,
	cfg Config,
	log *slog.Logger,
) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.BackoffFactor <= 1 {
		cfg.BackoffFactor = def.BackoffFactor
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.EmergencyThreshold <= 0 {
		cfg.EmergencyThreshold = def.EmergencyThreshold
	}
	if cfg.FailureWindow <= 0 {
		cfg.FailureWindow = def.FailureWindow
	}
	return &Orchestrator{
		checkpoints: checkpoints,
		classifier:  classifier,
		audit:       audit,
		cfg:         cfg,
		log:         log,
		failures:    make(map[string]*failureWindow),
		now:         time.Now,
	}
}

// Option adjusts one Run invocation.
type Option func(*runOptions)

type runOptions struct {
	rollbackInto any
}

// WithRollbackInto deserializes the pre-operation checkpoint into out when
// exhaustion triggers a rollback.
func WithRollbackInto(out any) Option {
	return func(o *runOptions) { o.rollbackInto = out }
}

// Run executes op with retry protection. A pre-operation checkpoint of state
// is taken before the first attempt; on exhaustion the checkpoint is rolled
// back and the caller receives a *Error wrapping the last underlying
// failure. Non-retryable failure kinds (validation, signature) abort
// immediately.
func (o *Orchestrator) Run(ctx context.Context, name string, state any, op func(context.Context) error, opts ...Option) error {
	var ro runOptions
	for _, opt := range opts {
		opt(&ro)
	}

	cpID, err := o.checkpoints.Create(ctx, state, domain.CheckpointPreOperation, "before "+name)
	if err != nil {
		return fmt.Errorf("recovery for %q: pre-operation checkpoint failed: %w", name, err)
	}

	record := &domain.RecoveryOperation{
		ID:           uuid.New().String(),
		Operation:    name,
		Type:         domain.RecoveryRetry,
		StartedAt:    o.now(),
		CheckpointID: cpID,
	}

	var lastErr error
	attempts := 0
	for attempt := 0; attempt < o.cfg.MaxAttempts; attempt++ {
		if o.classifier != nil {
			// Failures classify under their actual kind, so the gate checks
			// every breaker under this operation name. A rejection is recorded
			// but never masks an earlier attempt's failure.
			if rejection := o.classifier.Breakers().AllowContext(name); rejection != nil {
				o.step(record, domain.StepBreakerRejected, attempt, rejection.Error())
				if lastErr == nil {
					lastErr = rejection
				}
				break
			}
		}

		attempts++
		err := op(ctx)
		if err == nil {
			if o.classifier != nil {
				o.classifier.Breakers().RecordSuccessContext(name)
			}
			o.step(record, domain.StepAttemptSucceeded, attempt, "")
			record.Success = true
			record.FinishedAt = o.now()
			o.saveAudit(ctx, record)
			metrics.RecoveryAttempts.WithLabelValues(name, "succeeded").Inc()
			return nil
		}

		if o.classifier != nil {
			err = o.classifier.Classify(err, name)
		}
		lastErr = err
		o.step(record, domain.StepAttemptFailed, attempt, err.Error())
		metrics.RecoveryAttempts.WithLabelValues(name, "failed").Inc()

		if !faults.KindOf(err).Retryable() {
			o.log.Warn("non-retryable failure, aborting retries",
				"operation", name,
				"kind", faults.KindOf(err),
				"error", err)
			break
		}
		if attempt == o.cfg.MaxAttempts-1 {
			break
		}

		delay := o.delay(attempt)
		o.step(record, domain.StepRetryDelay, attempt, delay.String())
		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
		case <-time.After(delay):
		}
		if ctx.Err() != nil {
			break
		}
	}

	o.recordFailure(name)

	rolledBack := o.rollback(ctx, record, cpID, ro.rollbackInto)
	record.Success = false
	record.FinishedAt = o.now()
	o.saveAudit(ctx, record)

	return &Error{
		Operation:    name,
		Attempts:     attempts,
		CheckpointID: cpID,
		RolledBack:   rolledBack,
		Err:          lastErr,
	}
}

// RollbackToCheckpoint restores checkpoint id into out, outside the retry
// flow, for operator-triggered recovery. The rollback is recorded for audit.
func (o *Orchestrator) RollbackToCheckpoint(ctx context.Context, id, reason string, out any) error {
	record := &domain.RecoveryOperation{
		ID:           uuid.New().String(),
		Operation:    "rollback:" + reason,
		Type:         domain.RecoveryRollback,
		StartedAt:    o.now(),
		CheckpointID: id,
	}

	err := o.checkpoints.Restore(ctx, id, out)
	record.Success = err == nil
	record.FinishedAt = o.now()
	detail := "ok"
	if err != nil {
		detail = err.Error()
	}
	o.step(record, domain.StepCheckpointRollback, 0, detail)
	o.saveAudit(ctx, record)

	if err != nil {
		metrics.RecoveryAttempts.WithLabelValues("rollback", "failed").Inc()
		return fmt.Errorf("rollback to checkpoint %s failed: %w", id, err)
	}
	metrics.RecoveryAttempts.WithLabelValues("rollback", "succeeded").Inc()
	o.log.Info("checkpoint rollback applied",
		"checkpoint_id", id,
		"reason", reason)
	return nil
}

// FailureCount returns the failure count for name within the current rolling
// window.
func (o *Orchestrator) FailureCount(name string) int {
	o.mu.Lock()
	defer o.mu.Unlock()

	fw, ok := o.failures[name]
	if !ok || o.now().Sub(fw.windowStart) > o.cfg.FailureWindow {
		return 0
	}
	return fw.count
}

// rollback restores the pre-operation checkpoint. A rollback failure is
// logged as a distinct, more severe event but never masks the original
// failure.
func (o *Orchestrator) rollback(ctx context.Context, record *domain.RecoveryOperation, cpID string, into any) bool {
	var raw json.RawMessage
	out := into
	if out == nil {
		out = &raw
	}

	err := o.checkpoints.Restore(ctx, cpID, out)
	if err != nil {
		o.step(record, domain.StepCheckpointRollback, 0, "rollback failed: "+err.Error())
		o.log.Error("checkpoint rollback failed after retry exhaustion",
			"operation", record.Operation,
			"checkpoint_id", cpID,
			"error", err)
		return false
	}
	o.step(record, domain.StepCheckpointRollback, 0, "ok")
	return true
}

func (o *Orchestrator) recordFailure(name string) {
	o.mu.Lock()
	now := o.now()
	fw, ok := o.failures[name]
	if !ok || now.Sub(fw.windowStart) > o.cfg.FailureWindow {
		fw = &failureWindow{windowStart: now}
		o.failures[name] = fw
	}
	fw.count++
	count := fw.count
	o.mu.Unlock()

	if count == o.cfg.EmergencyThreshold {
		metrics.RecoveryAttempts.WithLabelValues(name, "emergency").Inc()
		o.log.Error("emergency threshold crossed, escalation required",
			"operation", name,
			"failures", count,
			"window", o.cfg.FailureWindow)
	}
}

func (o *Orchestrator) delay(attempt int) time.Duration {
	d := float64(o.cfg.BaseDelay) * math.Pow(o.cfg.BackoffFactor, float64(attempt))
	if d > float64(o.cfg.MaxDelay) {
		d = float64(o.cfg.MaxDelay)
	}
	return time.Duration(d)
}

func (o *Orchestrator) step(record *domain.RecoveryOperation, kind domain.RecoveryStepKind, attempt int, detail string) {
	record.Steps = append(record.Steps, domain.RecoveryStep{
		Kind:    kind,
		At:      o.now(),
		Attempt: attempt,
		Detail:  detail,
	})
}

func (o *Orchestrator) saveAudit(ctx context.Context, record *domain.RecoveryOperation) {
	if o.audit == nil {
		return
	}
	if err := o.audit.Save(ctx, record); err != nil {
		o.log.Warn("failed to persist recovery audit record",
			"recovery_id", record.ID,
			"error", err)
	}
}
