package dedup_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonesrussell/north-cloud/capture-ingest/internal/dedup"
	"github.com/jonesrussell/north-cloud/capture-ingest/internal/domain"
)

var t0 = time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC)

func TestMemoryStore_DuplicateWithinWindow(t *testing.T) {
	t.Parallel()

	s := dedup.NewMemoryStore(time.Minute, 10)
	ctx := context.Background()

	if got := s.CheckAndInsert(ctx, "fp", t0); got != domain.VerdictAccepted {
		t.Fatalf("first insert = %v, want accepted", got)
	}
	if got := s.CheckAndInsert(ctx, "fp", t0.Add(59*time.Second)); got != domain.VerdictDuplicate {
		t.Errorf("within window = %v, want duplicate", got)
	}
	if got := s.CheckAndInsert(ctx, "other", t0.Add(time.Second)); got != domain.VerdictAccepted {
		t.Errorf("different fingerprint = %v, want accepted", got)
	}
}

func TestMemoryStore_AcceptedAgainAfterWindow(t *testing.T) {
	t.Parallel()

	s := dedup.NewMemoryStore(time.Minute, 10)
	ctx := context.Background()

	s.CheckAndInsert(ctx, "fp", t0)
	if got := s.CheckAndInsert(ctx, "fp", t0.Add(time.Minute)); got != domain.VerdictAccepted {
		t.Errorf("at window end = %v, want accepted", got)
	}
	if got := s.CheckAndInsert(ctx, "fp", t0.Add(90*time.Second)); got != domain.VerdictDuplicate {
		t.Errorf("inside new window = %v, want duplicate", got)
	}
}

func TestMemoryStore_RepeatSightingDoesNotRefresh(t *testing.T) {
	t.Parallel()

	s := dedup.NewMemoryStore(time.Minute, 10)
	ctx := context.Background()

	s.CheckAndInsert(ctx, "fp", t0)
	s.CheckAndInsert(ctx, "fp", t0.Add(50*time.Second))

	if got := s.CheckAndInsert(ctx, "fp", t0.Add(61*time.Second)); got != domain.VerdictAccepted {
		t.Errorf("after original window = %v, want accepted", got)
	}
}

func TestMemoryStore_Release(t *testing.T) {
	t.Parallel()

	s := dedup.NewMemoryStore(time.Minute, 10)
	ctx := context.Background()

	s.CheckAndInsert(ctx, "fp", t0)
	s.Release(ctx, "fp")

	if got := s.CheckAndInsert(ctx, "fp", t0.Add(time.Second)); got != domain.VerdictAccepted {
		t.Fatalf("after release = %v, want accepted", got)
	}

	// The stale slot from the first insert expires first and must not evict
	// the re-accepted entry.
	s.Sweep(t0.Add(time.Minute))
	if got := s.CheckAndInsert(ctx, "fp", t0.Add(time.Minute+500*time.Millisecond)); got != domain.VerdictDuplicate {
		t.Errorf("re-accepted entry = %v, want duplicate", got)
	}
}

func TestMemoryStore_SweepRemovesExpired(t *testing.T) {
	t.Parallel()

	var evicted atomic.Int64
	s := dedup.NewMemoryStore(time.Minute, 100, dedup.WithEvictionHook(func(n int) { evicted.Add(int64(n)) }))
	ctx := context.Background()

	for i := range 10 {
		s.CheckAndInsert(ctx, fmt.Sprintf("fp-%d", i), t0.Add(time.Duration(i)*time.Second))
	}

	if n := s.Sweep(t0.Add(time.Minute + 4*time.Second)); n != 5 {
		t.Errorf("Sweep removed %d, want 5", n)
	}
	if s.Len() != 5 {
		t.Errorf("Len = %d, want 5", s.Len())
	}
	if evicted.Load() != 5 {
		t.Errorf("eviction hook saw %d, want 5", evicted.Load())
	}
}

func TestMemoryStore_CapacityPressure(t *testing.T) {
	t.Parallel()

	var pressure atomic.Int64
	s := dedup.NewMemoryStore(time.Minute, 2, dedup.WithCapacityPressureHook(func() { pressure.Add(1) }))
	ctx := context.Background()

	s.CheckAndInsert(ctx, "a", t0)
	s.CheckAndInsert(ctx, "b", t0)
	if got := s.CheckAndInsert(ctx, "c", t0); got != domain.VerdictAccepted {
		t.Errorf("insert at capacity = %v, want accepted", got)
	}
	if pressure.Load() != 1 {
		t.Errorf("pressure hook calls = %d, want 1", pressure.Load())
	}

	// Expired entries are evicted before the capacity check.
	s.CheckAndInsert(ctx, "d", t0.Add(2*time.Minute))
	if pressure.Load() != 1 {
		t.Errorf("pressure after expiry = %d, want 1", pressure.Load())
	}
}

func TestMemoryStore_ConcurrentSameFingerprint(t *testing.T) {
	t.Parallel()

	s := dedup.NewMemoryStore(time.Minute, 100)
	ctx := context.Background()

	const callers = 64
	var accepted atomic.Int64
	var wg sync.WaitGroup
	start := make(chan struct{})

	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if s.CheckAndInsert(ctx, "same", time.Now()) == domain.VerdictAccepted {
				accepted.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if accepted.Load() != 1 {
		t.Errorf("accepted = %d, want exactly 1", accepted.Load())
	}
}

func TestMemoryStore_SweeperStopsOnClose(t *testing.T) {
	t.Parallel()

	s := dedup.NewMemoryStore(time.Millisecond, 10)
	s.CheckAndInsert(context.Background(), "fp", time.Now())
	s.StartSweeper(5 * time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for s.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.Len() != 0 {
		t.Errorf("sweeper did not remove expired entry")
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
