// Package storage defines the persistence interfaces for recovery audit
// records, with in-memory and PostgreSQL implementations.
package storage

import (
	"context"

	"github.com/vietddude/sentinel/internal/core/domain"
)

// RecoveryAuditRepository persists recovery operation audit records.
type RecoveryAuditRepository interface {
	// Save stores one finished recovery operation with its step log.
	Save(ctx context.Context, op *domain.RecoveryOperation) error

	// List returns the most recent operations, newest first, up to limit.
	List(ctx context.Context, limit int) ([]*domain.RecoveryOperation, error)

	// Get fetches one operation by id, nil when unknown.
	Get(ctx context.Context, id string) (*domain.RecoveryOperation, error)
}
