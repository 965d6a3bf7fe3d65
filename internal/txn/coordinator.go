// Package txn coordinates atomic multi-resource operations over the lock
// registry. Deadlock freedom comes from acquiring every transaction's
// resources in one global sorted order; the age-based stale-transaction scan
// is a diagnostic signal only.
package txn

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vietddude/sentinel/internal/core/domain"
	"github.com/vietddude/sentinel/internal/locking"
	"github.com/vietddude/sentinel/internal/metrics"
)

// DefaultStaleAge is the in-flight age beyond which a transaction is flagged
// as a potential deadlock candidate.
const DefaultStaleAge = 60 * time.Second

// Coordinator acquires lock sets atomically and tracks in-flight
// transactions. Safe for concurrent use.
type Coordinator struct {
	locks       *locking.Registry
	lockTimeout time.Duration
	log         *slog.Logger

	mu       sync.RWMutex
	inflight map[string]domain.Transaction

	now func() time.Time
}

// NewCoordinator creates a coordinator over locks. A non-positive
// lockTimeout falls back to the registry default.
func NewCoordinator(locks *locking.Registry, lockTimeout time.Duration, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		locks:       locks,
		lockTimeout: lockTimeout,
		log:         log,
		inflight:    make(map[string]domain.Transaction),
		now:         time.Now,
	}
}

// Atomic runs fn while holding exclusive locks on every resource in
// resources. Locks are acquired in globally sorted order and released in
// reverse on every exit path. Only a lock acquisition failure aborts before
// fn runs; an error from fn propagates after release, with the transaction
// recorded as failed for audit.
func (c *Coordinator) Atomic(ctx context.Context, resources []string, label string, fn func(context.Context) error) error {
	return c.run(ctx, resources, label, locking.ModeExclusive, fn)
}

// AtomicShared is Atomic with shared-mode acquisition, for multi-resource
// read paths.
func (c *Coordinator) AtomicShared(ctx context.Context, resources []string, label string, fn func(context.Context) error) error {
	return c.run(ctx, resources, label, locking.ModeShared, fn)
}

func (c *Coordinator) run(ctx context.Context, resources []string, label string, mode locking.Mode, fn func(context.Context) error) error {
	ordered := sortedUnique(resources)
	if len(ordered) == 0 {
		return fmt.Errorf("transaction %q: no resources given", label)
	}

	id := uuid.New().String()
	req := locking.Request{Owner: id, Context: label, Timeout: c.lockTimeout}

	guards := make([]*locking.Guard, 0, len(ordered))
	releaseAll := func() {
		for i := len(guards) - 1; i >= 0; i-- {
			guards[i].Release()
		}
	}

	for _, resource := range ordered {
		guard, err := c.locks.Acquire(ctx, resource, mode, req)
		if err != nil {
			releaseAll()
			metrics.Transactions.WithLabelValues("lock_timeout").Inc()
			return fmt.Errorf("transaction %q: acquiring %s: %w", label, resource, err)
		}
		guards = append(guards, guard)
	}

	txn := domain.Transaction{
		ID:        id,
		Resources: ordered,
		Context:   label,
		Owner:     id,
		StartedAt: c.now(),
	}
	c.register(txn)

	err := fn(ctx)

	releaseAll()
	c.unregister(id)

	if err != nil {
		metrics.Transactions.WithLabelValues("failed").Inc()
		c.log.Warn("transaction failed",
			"txn_id", id,
			"context", label,
			"resources", ordered,
			"error", err)
		return err
	}
	metrics.Transactions.WithLabelValues("committed").Inc()
	return nil
}

// InFlight returns every registered transaction, oldest first.
func (c *Coordinator) InFlight() []domain.Transaction {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]domain.Transaction, 0, len(c.inflight))
	for _, t := range c.inflight {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Stale returns in-flight transactions older than olderThan. This is an
// age-based heuristic for operator diagnostics, not a cycle check: sorted
// acquisition order is what actually prevents deadlocks.
func (c *Coordinator) Stale(olderThan time.Duration) []domain.Transaction {
	if olderThan <= 0 {
		olderThan = DefaultStaleAge
	}
	now := c.now()

	var out []domain.Transaction
	for _, t := range c.InFlight() {
		if t.Age(now) > olderThan {
			out = append(out, t)
		}
	}
	return out
}

func (c *Coordinator) register(t domain.Transaction) {
	c.mu.Lock()
	c.inflight[t.ID] = t
	c.mu.Unlock()
}

func (c *Coordinator) unregister(id string) {
	c.mu.Lock()
	delete(c.inflight, id)
	c.mu.Unlock()
}

func sortedUnique(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, dup := seen[s]; dup || s == "" {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
