package locking

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vietddude/sentinel/internal/faults"
)

func acquire(t *testing.T, r *Registry, resource string, mode Mode, owner string, timeout time.Duration) *Guard {
	t.Helper()
	g, err := r.Acquire(context.Background(), resource, mode, Request{Owner: owner, Context: "test", Timeout: timeout})
	if err != nil {
		t.Fatalf("Acquire(%s, %s, %s) failed: %v", resource, mode, owner, err)
	}
	return g
}

func TestSharedAllowsConcurrentHolders(t *testing.T) {
	r := NewRegistry()

	g1 := acquire(t, r, "acct:1", ModeShared, "a", time.Second)
	g2 := acquire(t, r, "acct:1", ModeShared, "b", time.Second)

	snap, ok := r.Inspect("acct:1")
	if !ok {
		t.Fatal("expected lock state for acct:1")
	}
	if len(snap.SharedHolders) != 2 {
		t.Errorf("shared holders = %v, want 2", snap.SharedHolders)
	}
	if snap.Exclusive != "" {
		t.Errorf("exclusive holder = %q, want none", snap.Exclusive)
	}

	g1.Release()
	g2.Release()
}

func TestExclusiveBlocksAll(t *testing.T) {
	r := NewRegistry()

	g := acquire(t, r, "acct:1", ModeExclusive, "a", time.Second)

	for _, mode := range []Mode{ModeShared, ModeExclusive} {
		_, err := r.Acquire(context.Background(), "acct:1", mode, Request{Owner: "b", Context: "test", Timeout: 30 * time.Millisecond})
		if err == nil {
			t.Fatalf("%s acquisition should time out while exclusive is held", mode)
		}
		var te *faults.TypedError
		if !errors.As(err, &te) || te.Kind != faults.KindConcurrency {
			t.Errorf("error = %v, want concurrency typed error", err)
		}
	}

	g.Release()
}

func TestMutualExclusionInvariant(t *testing.T) {
	r := NewRegistry()

	var exclusive atomic.Int32
	var shared atomic.Int32
	var violations atomic.Int32
	var wg sync.WaitGroup

	work := func(mode Mode, owner string) {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			g, err := r.Acquire(context.Background(), "res", mode, Request{Owner: owner, Context: "test", Timeout: 5 * time.Second})
			if err != nil {
				violations.Add(1)
				return
			}
			if mode == ModeExclusive {
				if exclusive.Add(1) > 1 || shared.Load() > 0 {
					violations.Add(1)
				}
				exclusive.Add(-1)
			} else {
				if shared.Add(1) > 0 && exclusive.Load() > 0 {
					violations.Add(1)
				}
				shared.Add(-1)
			}
			g.Release()
		}
	}

	wg.Add(4)
	go work(ModeExclusive, "w1")
	go work(ModeExclusive, "w2")
	go work(ModeShared, "r1")
	go work(ModeShared, "r2")
	wg.Wait()

	if v := violations.Load(); v != 0 {
		t.Errorf("observed %d mutual exclusion violations", v)
	}
}

func TestContentionWaitsForRelease(t *testing.T) {
	r := NewRegistry()

	g := acquire(t, r, "acct:1", ModeExclusive, "a", time.Second)

	started := make(chan struct{})
	done := make(chan time.Duration, 1)
	go func() {
		start := time.Now()
		close(started)
		g2, err := r.Acquire(context.Background(), "acct:1", ModeExclusive, Request{Owner: "b", Context: "test", Timeout: 200 * time.Millisecond})
		if err != nil {
			done <- -1
			return
		}
		g2.Release()
		done <- time.Since(start)
	}()

	<-started
	time.Sleep(50 * time.Millisecond)
	g.Release()

	waited := <-done
	if waited < 0 {
		t.Fatal("second acquisition timed out, want grant after release")
	}
	if waited < 50*time.Millisecond || waited >= 200*time.Millisecond {
		t.Errorf("waited %v, want >=50ms and <200ms", waited)
	}
}

func TestUpgrade(t *testing.T) {
	t.Run("sole shared holder upgrades", func(t *testing.T) {
		r := NewRegistry()
		g := acquire(t, r, "res", ModeShared, "a", time.Second)
		up := acquire(t, r, "res", ModeUpgrade, "a", time.Second)

		snap, _ := r.Inspect("res")
		if snap.Exclusive != "a" || len(snap.SharedHolders) != 0 {
			t.Errorf("after upgrade: exclusive=%q shared=%v, want a/[]", snap.Exclusive, snap.SharedHolders)
		}
		up.Release()
		g.Release()
	})

	t.Run("upgrade without shared hold fails", func(t *testing.T) {
		r := NewRegistry()
		_, err := r.Acquire(context.Background(), "res", ModeUpgrade, Request{Owner: "a", Context: "test", Timeout: 50 * time.Millisecond})
		if err == nil {
			t.Fatal("upgrade without shared hold should fail")
		}
	})

	t.Run("upgrade waits for other shared holders", func(t *testing.T) {
		r := NewRegistry()
		ga := acquire(t, r, "res", ModeShared, "a", time.Second)
		gb := acquire(t, r, "res", ModeShared, "b", time.Second)

		done := make(chan error, 1)
		go func() {
			g, err := r.Acquire(context.Background(), "res", ModeUpgrade, Request{Owner: "a", Context: "test", Timeout: 500 * time.Millisecond})
			if err == nil {
				g.Release()
			}
			done <- err
		}()

		time.Sleep(30 * time.Millisecond)
		gb.Release()

		if err := <-done; err != nil {
			t.Fatalf("upgrade after other shared holder released: %v", err)
		}
		ga.Release()
	})
}

func TestExclusivePriorityOverQueuedShared(t *testing.T) {
	r := NewRegistry()

	g := acquire(t, r, "res", ModeExclusive, "a", time.Second)

	var order []string
	var mu sync.Mutex
	record := func(who string) {
		mu.Lock()
		order = append(order, who)
		mu.Unlock()
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		g2, err := r.Acquire(context.Background(), "res", ModeShared, Request{Owner: "s", Context: "test", Timeout: time.Second})
		if err == nil {
			record("shared")
			g2.Release()
		}
	}()
	time.Sleep(20 * time.Millisecond)
	go func() {
		defer wg.Done()
		g3, err := r.Acquire(context.Background(), "res", ModeExclusive, Request{Owner: "x", Context: "test", Timeout: time.Second})
		if err == nil {
			record("exclusive")
			g3.Release()
		}
	}()
	time.Sleep(20 * time.Millisecond)

	g.Release()
	wg.Wait()

	if len(order) != 2 || order[0] != "exclusive" {
		t.Errorf("grant order = %v, want exclusive first", order)
	}
}

func TestTimeoutRecordsCounters(t *testing.T) {
	r := NewRegistry()

	g := acquire(t, r, "res", ModeExclusive, "a", time.Second)
	_, err := r.Acquire(context.Background(), "res", ModeExclusive, Request{Owner: "b", Context: "test", Timeout: 20 * time.Millisecond})
	if err == nil {
		t.Fatal("expected timeout")
	}
	g.Release()

	snap, _ := r.Inspect("res")
	if snap.Stats.Timeouts != 1 {
		t.Errorf("timeouts = %d, want 1", snap.Stats.Timeouts)
	}
	if snap.Stats.Contention != 1 {
		t.Errorf("contention = %d, want 1", snap.Stats.Contention)
	}
	if snap.Stats.Acquisitions != 1 {
		t.Errorf("acquisitions = %d, want 1", snap.Stats.Acquisitions)
	}
	if snap.QueueDepth != 0 {
		t.Errorf("queue depth = %d, want 0 after timeout removed waiter", snap.QueueDepth)
	}
}

func TestGuardReleaseIdempotent(t *testing.T) {
	r := NewRegistry()

	g := acquire(t, r, "res", ModeExclusive, "a", time.Second)
	g.Release()
	g.Release() // must not panic or double-release

	g2 := acquire(t, r, "res", ModeExclusive, "b", 50*time.Millisecond)
	g2.Release()
}
