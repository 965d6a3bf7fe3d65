// Package locking implements the per-resource lock registry: shared,
// exclusive and upgrade acquisition with bounded waiting and FIFO grant
// order.
package locking

import (
	"time"
)

// Mode is the requested acquisition mode.
type Mode int

const (
	// ModeShared admits any number of concurrent holders, blocked only by an
	// exclusive holder.
	ModeShared Mode = iota
	// ModeExclusive admits a sole holder, blocked by any holder.
	ModeExclusive
	// ModeUpgrade atomically turns a sole shared holding into an exclusive
	// one. The caller must already hold the lock shared.
	ModeUpgrade
)

func (m Mode) String() string {
	switch m {
	case ModeShared:
		return "shared"
	case ModeExclusive:
		return "exclusive"
	case ModeUpgrade:
		return "upgrade"
	}
	return "unknown"
}

// Stats are cumulative per-resource counters, kept for the lifetime of the
// registry for health reporting.
type Stats struct {
	Acquisitions uint64 `json:"acquisitions"`
	Timeouts     uint64 `json:"timeouts"`
	Contention   uint64 `json:"contention"`
}

// Snapshot is a point-in-time view of one resource's lock state.
type Snapshot struct {
	Resource      string   `json:"resource"`
	SharedHolders []string `json:"shared_holders"`
	Exclusive     string   `json:"exclusive_holder,omitempty"`
	QueueDepth    int      `json:"queue_depth"`
	Stats         Stats    `json:"stats"`
}

type waiter struct {
	mode       Mode
	owner      string
	ready      chan struct{}
	enqueuedAt time.Time
	granted    bool
}

// lockState holds one resource's lock: current holders plus the FIFO wait
// queue. Invariant: exclusive != "" implies len(shared) == 0.
type lockState struct {
	shared    map[string]int // holder -> grant count
	exclusive string
	queue     []*waiter
	stats     Stats
}

func newLockState() *lockState {
	return &lockState{shared: make(map[string]int)}
}

// grantable reports whether w could be granted against the current holders.
func (ls *lockState) grantable(w *waiter) bool {
	switch w.mode {
	case ModeShared:
		return ls.exclusive == ""
	case ModeExclusive:
		return ls.exclusive == "" && len(ls.shared) == 0
	case ModeUpgrade:
		_, holds := ls.shared[w.owner]
		return ls.exclusive == "" && holds && len(ls.shared) == 1
	}
	return false
}

// grant applies w to the holder state. Caller has verified grantable.
func (ls *lockState) grant(w *waiter) {
	switch w.mode {
	case ModeShared:
		ls.shared[w.owner]++
	case ModeExclusive:
		ls.exclusive = w.owner
	case ModeUpgrade:
		delete(ls.shared, w.owner)
		ls.exclusive = w.owner
	}
}

// enqueue inserts w preserving FIFO order within a mode class. Exclusive
// requests are placed ahead of queued shared requests; upgrade requests go
// ahead of everything, since queued exclusives are blocked on the upgrader's
// own shared hold.
func (ls *lockState) enqueue(w *waiter) {
	if w.mode == ModeShared {
		ls.queue = append(ls.queue, w)
		return
	}

	at := len(ls.queue)
	for i, q := range ls.queue {
		if q.mode == ModeShared || (w.mode == ModeUpgrade && q.mode == ModeExclusive) {
			at = i
			break
		}
	}
	ls.queue = append(ls.queue, nil)
	copy(ls.queue[at+1:], ls.queue[at:])
	ls.queue[at] = w
}

// dequeue removes w from the queue if still present.
func (ls *lockState) dequeue(w *waiter) {
	for i, q := range ls.queue {
		if q == w {
			ls.queue = append(ls.queue[:i], ls.queue[i+1:]...)
			return
		}
	}
}

// reevaluate grants queued requests in order for as long as the state
// permits, stopping at the first waiter that cannot be granted.
func (ls *lockState) reevaluate() {
	for len(ls.queue) > 0 {
		head := ls.queue[0]
		if !ls.grantable(head) {
			return
		}
		ls.grant(head)
		head.granted = true
		ls.queue = ls.queue[1:]
		ls.stats.Acquisitions++
		close(head.ready)
	}
}
