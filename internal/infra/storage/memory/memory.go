package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vietddude/sentinel/internal/core/domain"
)

// AuditRepo is an in-memory RecoveryAuditRepository, used when no database
// is configured and in tests.
type AuditRepo struct {
	mu  sync.RWMutex
	ops map[string]*domain.RecoveryOperation
}

// NewAuditRepo creates an empty in-memory audit repository.
func NewAuditRepo() *AuditRepo {
	return &AuditRepo{ops: make(map[string]*domain.RecoveryOperation)}
}

func (r *AuditRepo) Save(ctx context.Context, op *domain.RecoveryOperation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *op
	cp.Steps = append([]domain.RecoveryStep(nil), op.Steps...)
	r.ops[op.ID] = &cp
	return nil
}

func (r *AuditRepo) List(ctx context.Context, limit int) ([]*domain.RecoveryOperation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.RecoveryOperation, 0, len(r.ops))
	for _, op := range r.ops {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *AuditRepo) Get(ctx context.Context, id string) (*domain.RecoveryOperation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ops[id], nil
}
