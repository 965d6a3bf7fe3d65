package locking

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/sentinel/internal/faults"
	"github.com/vietddude/sentinel/internal/metrics"
)

// DefaultTimeout bounds lock waits when the request does not carry its own.
const DefaultTimeout = 10 * time.Second

// Request carries the identity and bounds of one acquisition.
type Request struct {
	// Owner identifies the requester (transaction id, worker name, ...).
	Owner string
	// Context is the operation context label used to tag timeout errors.
	Context string
	// Timeout bounds the wait. Zero means DefaultTimeout.
	Timeout time.Duration
}

// Registry owns all lock state, keyed by opaque resource identifier.
// Lock entries are created lazily and retained so cumulative counters
// survive quiet periods. Safe for concurrent use.
type Registry struct {
	mu    sync.Mutex
	locks map[string]*lockState
}

// NewRegistry creates an empty lock registry.
func NewRegistry() *Registry {
	return &Registry{locks: make(map[string]*lockState)}
}

// Acquire takes the lock on resource in the requested mode, waiting up to
// the request timeout. The returned guard must be released on every exit
// path, typically via defer. On timeout a concurrency-kind typed error
// tagged with the resource and operation context is returned.
func (r *Registry) Acquire(ctx context.Context, resource string, mode Mode, req Request) (*Guard, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	r.mu.Lock()
	ls, ok := r.locks[resource]
	if !ok {
		ls = newLockState()
		r.locks[resource] = ls
	}

	if mode == ModeUpgrade {
		if _, holds := ls.shared[req.Owner]; !holds {
			r.mu.Unlock()
			return nil, r.concurrencyError(resource, req, "upgrade requested without holding shared lock")
		}
	}

	w := &waiter{mode: mode, owner: req.Owner, ready: make(chan struct{}), enqueuedAt: time.Now()}

	// Grant immediately only when nobody is queued ahead. Upgrades may barge:
	// queued waiters are necessarily blocked on the upgrader's shared hold.
	if (len(ls.queue) == 0 || mode == ModeUpgrade) && ls.grantable(w) {
		ls.grant(w)
		ls.stats.Acquisitions++
		r.mu.Unlock()
		metrics.LockAcquisitions.WithLabelValues(mode.String()).Inc()
		return r.newGuard(resource, mode, req.Owner), nil
	}

	ls.enqueue(w)
	ls.stats.Contention++
	r.mu.Unlock()
	metrics.LockContention.WithLabelValues(mode.String()).Inc()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-w.ready:
		metrics.LockAcquisitions.WithLabelValues(mode.String()).Inc()
		return r.newGuard(resource, mode, req.Owner), nil
	case <-timer.C:
	case <-ctx.Done():
	}

	// Timed out or canceled. The grant may have raced us; if it did, keep it.
	r.mu.Lock()
	if w.granted {
		r.mu.Unlock()
		metrics.LockAcquisitions.WithLabelValues(mode.String()).Inc()
		return r.newGuard(resource, mode, req.Owner), nil
	}
	ls.dequeue(w)
	ls.stats.Timeouts++
	ls.reevaluate()
	r.mu.Unlock()
	metrics.LockTimeouts.WithLabelValues(mode.String()).Inc()

	if err := ctx.Err(); err != nil {
		return nil, r.concurrencyError(resource, req, fmt.Sprintf("lock wait canceled: %v", err))
	}
	return nil, r.concurrencyError(resource, req, fmt.Sprintf("timed out after %s waiting for %s lock", timeout, mode))
}

// release returns a granted mode on resource held by owner and wakes queued
// waiters the new state permits.
func (r *Registry) release(resource string, mode Mode, owner string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ls, ok := r.locks[resource]
	if !ok {
		return
	}

	switch mode {
	case ModeShared:
		if n, held := ls.shared[owner]; held {
			if n <= 1 {
				delete(ls.shared, owner)
			} else {
				ls.shared[owner] = n - 1
			}
		}
	case ModeExclusive, ModeUpgrade:
		if ls.exclusive == owner {
			ls.exclusive = ""
		}
	}

	ls.reevaluate()
}

// Inspect returns a point-in-time view of one resource's lock, or false when
// the registry has never seen it.
func (r *Registry) Inspect(resource string) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ls, ok := r.locks[resource]
	if !ok {
		return Snapshot{}, false
	}

	holders := make([]string, 0, len(ls.shared))
	for owner := range ls.shared {
		holders = append(holders, owner)
	}
	sort.Strings(holders)

	return Snapshot{
		Resource:      resource,
		SharedHolders: holders,
		Exclusive:     ls.exclusive,
		QueueDepth:    len(ls.queue),
		Stats:         ls.stats,
	}, true
}

// Snapshots returns views of every resource the registry has seen, sorted by
// resource id.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	resources := make([]string, 0, len(r.locks))
	for res := range r.locks {
		resources = append(resources, res)
	}
	r.mu.Unlock()
	sort.Strings(resources)

	out := make([]Snapshot, 0, len(resources))
	for _, res := range resources {
		if snap, ok := r.Inspect(res); ok {
			out = append(out, snap)
		}
	}
	return out
}

func (r *Registry) concurrencyError(resource string, req Request, msg string) error {
	te := faults.NewTypedError(faults.KindConcurrency, req.Context, fmt.Errorf("%s: %s", resource, msg))
	te.Fields = map[string]string{"resource": resource, "owner": req.Owner}
	return te
}

// Guard represents one granted acquisition. Release is idempotent.
type Guard struct {
	registry *Registry
	resource string
	mode     Mode
	owner    string
	once     sync.Once
}

func (r *Registry) newGuard(resource string, mode Mode, owner string) *Guard {
	return &Guard{registry: r, resource: resource, mode: mode, owner: owner}
}

// Resource returns the resource id the guard holds.
func (g *Guard) Resource() string { return g.resource }

// Mode returns the granted mode.
func (g *Guard) Mode() Mode { return g.mode }

// Release returns the lock and wakes eligible waiters. Safe to call more
// than once.
func (g *Guard) Release() {
	g.once.Do(func() {
		g.registry.release(g.resource, g.mode, g.owner)
	})
}
