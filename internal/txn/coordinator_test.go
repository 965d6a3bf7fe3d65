package txn

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/sentinel/internal/locking"
)

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	return NewCoordinator(locking.NewRegistry(), time.Second, nil)
}

func TestAtomicRunsWithLocksHeld(t *testing.T) {
	registry := locking.NewRegistry()
	c := NewCoordinator(registry, time.Second, nil)

	var sawExclusive bool
	err := c.Atomic(context.Background(), []string{"b", "a"}, "transfer", func(ctx context.Context) error {
		for _, res := range []string{"a", "b"} {
			snap, ok := registry.Inspect(res)
			if !ok || snap.Exclusive == "" {
				return fmt.Errorf("resource %s not exclusively held", res)
			}
		}
		sawExclusive = true
		return nil
	})
	if err != nil {
		t.Fatalf("Atomic failed: %v", err)
	}
	if !sawExclusive {
		t.Error("enclosed work never ran")
	}

	// All locks must be released afterwards.
	for _, res := range []string{"a", "b"} {
		snap, _ := registry.Inspect(res)
		if snap.Exclusive != "" || len(snap.SharedHolders) != 0 {
			t.Errorf("resource %s still held after transaction", res)
		}
	}
}

func TestAtomicSortsResources(t *testing.T) {
	c := newTestCoordinator(t)

	var seen []string
	err := c.Atomic(context.Background(), []string{"z", "a", "m", "a"}, "sorted", func(ctx context.Context) error {
		for _, txn := range c.InFlight() {
			seen = txn.Resources
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Atomic failed: %v", err)
	}

	want := []string{"a", "m", "z"}
	if len(seen) != len(want) {
		t.Fatalf("resources = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("resources = %v, want %v", seen, want)
		}
	}
}

func TestAtomicPropagatesWorkError(t *testing.T) {
	c := newTestCoordinator(t)

	boom := errors.New("boom")
	err := c.Atomic(context.Background(), []string{"a"}, "failing", func(ctx context.Context) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("error = %v, want wrapped boom", err)
	}
	if n := len(c.InFlight()); n != 0 {
		t.Errorf("in-flight after failure = %d, want 0", n)
	}
}

func TestAtomicReleasesOnAcquisitionFailure(t *testing.T) {
	registry := locking.NewRegistry()
	c := NewCoordinator(registry, 50*time.Millisecond, nil)

	// Hold "b" so the transaction acquires "a" then times out on "b".
	blocker, err := registry.Acquire(context.Background(), "b", locking.ModeExclusive,
		locking.Request{Owner: "blocker", Context: "test", Timeout: time.Second})
	if err != nil {
		t.Fatalf("blocker acquire failed: %v", err)
	}

	ran := false
	err = c.Atomic(context.Background(), []string{"a", "b"}, "blocked", func(ctx context.Context) error {
		ran = true
		return nil
	})
	if err == nil {
		t.Fatal("expected lock timeout error")
	}
	if ran {
		t.Error("work ran despite failed acquisition")
	}

	// "a" must have been rolled back.
	snap, _ := registry.Inspect("a")
	if snap.Exclusive != "" {
		t.Errorf("resource a still held: %q", snap.Exclusive)
	}

	blocker.Release()
}

func TestAtomicRejectsEmptyResourceSet(t *testing.T) {
	c := newTestCoordinator(t)
	if err := c.Atomic(context.Background(), nil, "empty", func(ctx context.Context) error { return nil }); err == nil {
		t.Fatal("expected error for empty resource set")
	}
}

func TestStaleDetection(t *testing.T) {
	c := newTestCoordinator(t)

	base := time.Now()
	c.now = func() time.Time { return base }

	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- c.Atomic(context.Background(), []string{"r"}, "long", func(ctx context.Context) error {
			<-release
			return nil
		})
	}()

	// Wait for registration.
	deadline := time.Now().Add(time.Second)
	for len(c.InFlight()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("transaction never registered")
		}
		time.Sleep(time.Millisecond)
	}

	c.now = func() time.Time { return base.Add(2 * time.Minute) }
	stale := c.Stale(time.Minute)
	if len(stale) != 1 || stale[0].Context != "long" {
		t.Errorf("stale = %v, want the long transaction", stale)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("transaction failed: %v", err)
	}
	if len(c.Stale(time.Minute)) != 0 {
		t.Error("stale transaction reported after completion")
	}
}

// TestOverlappingTransactionsTerminate exercises the deadlock-avoidance
// property: many concurrent transactions over random overlapping resource
// sets must all finish within a bounded time.
func TestOverlappingTransactionsTerminate(t *testing.T) {
	c := NewCoordinator(locking.NewRegistry(), 5*time.Second, nil)

	pool := []string{"r0", "r1", "r2", "r3", "r4", "r5"}
	rng := rand.New(rand.NewSource(42))

	var picks [][]string
	for i := 0; i < 32; i++ {
		n := 2 + rng.Intn(3)
		set := make([]string, 0, n)
		for _, j := range rng.Perm(len(pool))[:n] {
			set = append(set, pool[j])
		}
		picks = append(picks, set)
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(picks))
	for i, set := range picks {
		wg.Add(1)
		go func(i int, set []string) {
			defer wg.Done()
			errs <- c.Atomic(context.Background(), set, fmt.Sprintf("txn-%d", i), func(ctx context.Context) error {
				time.Sleep(time.Millisecond)
				return nil
			})
		}(i, set)
	}

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(30 * time.Second):
		t.Fatal("transactions did not terminate; possible livelock")
	}

	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("transaction failed: %v", err)
		}
	}
}
