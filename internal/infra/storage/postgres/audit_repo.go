package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vietddude/sentinel/internal/core/domain"
)

// AuditRepo implements storage.RecoveryAuditRepository using PostgreSQL.
// Steps are stored as a JSONB column; the operation row carries the fields
// queried by operator tooling.
type AuditRepo struct {
	db *DB
}

// NewAuditRepo creates a new PostgreSQL audit repository.
func NewAuditRepo(db *DB) *AuditRepo {
	return &AuditRepo{db: db}
}

type auditRow struct {
	ID           string         `db:"id"`
	Operation    string         `db:"operation"`
	Type         string         `db:"recovery_type"`
	StartedAt    time.Time      `db:"started_at"`
	FinishedAt   time.Time      `db:"finished_at"`
	Success      bool           `db:"success"`
	CheckpointID sql.NullString `db:"checkpoint_id"`
	Steps        []byte         `db:"steps"`
}

func (row auditRow) toDomain() (*domain.RecoveryOperation, error) {
	var steps []domain.RecoveryStep
	if len(row.Steps) > 0 {
		if err := json.Unmarshal(row.Steps, &steps); err != nil {
			return nil, fmt.Errorf("failed to decode steps for %s: %w", row.ID, err)
		}
	}
	return &domain.RecoveryOperation{
		ID:           row.ID,
		Operation:    row.Operation,
		Type:         domain.RecoveryType(row.Type),
		StartedAt:    row.StartedAt,
		FinishedAt:   row.FinishedAt,
		Success:      row.Success,
		CheckpointID: row.CheckpointID.String,
		Steps:        steps,
	}, nil
}

// Save stores one finished recovery operation.
func (r *AuditRepo) Save(ctx context.Context, op *domain.RecoveryOperation) error {
	steps, err := json.Marshal(op.Steps)
	if err != nil {
		return fmt.Errorf("failed to encode steps: %w", err)
	}

	query := `
		INSERT INTO recovery_operations (id, operation, recovery_type, started_at, finished_at, success, checkpoint_id, steps)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8)
		ON CONFLICT (id) DO UPDATE
		SET finished_at = EXCLUDED.finished_at,
		    success = EXCLUDED.success,
		    checkpoint_id = EXCLUDED.checkpoint_id,
		    steps = EXCLUDED.steps
	`
	_, err = r.db.ExecContext(ctx, query,
		op.ID, op.Operation, string(op.Type), op.StartedAt, op.FinishedAt,
		op.Success, op.CheckpointID, steps)
	if err != nil {
		return fmt.Errorf("failed to save recovery operation: %w", err)
	}
	return nil
}

// List returns the most recent operations, newest first.
func (r *AuditRepo) List(ctx context.Context, limit int) ([]*domain.RecoveryOperation, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, operation, recovery_type, started_at, finished_at, success, checkpoint_id, steps
		FROM recovery_operations
		ORDER BY started_at DESC
		LIMIT $1
	`
	var rows []auditRow
	if err := r.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list recovery operations: %w", err)
	}

	out := make([]*domain.RecoveryOperation, 0, len(rows))
	for _, row := range rows {
		op, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	return out, nil
}

// Get fetches one operation by id.
func (r *AuditRepo) Get(ctx context.Context, id string) (*domain.RecoveryOperation, error) {
	query := `
		SELECT id, operation, recovery_type, started_at, finished_at, success, checkpoint_id, steps
		FROM recovery_operations
		WHERE id = $1
	`
	var row auditRow
	err := r.db.GetContext(ctx, &row, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recovery operation: %w", err)
	}
	return row.toDomain()
}
