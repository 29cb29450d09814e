package dedup_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/north-cloud/capture-ingest/internal/dedup"
	"github.com/jonesrussell/north-cloud/capture-ingest/internal/domain"
)

func newRedisStore(t *testing.T) (*dedup.RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return dedup.NewRedisStore(client, time.Minute), mr
}

func TestRedisStore_Window(t *testing.T) {
	t.Parallel()

	s, mr := newRedisStore(t)
	ctx := context.Background()

	if got := s.CheckAndInsert(ctx, "fp", time.Now()); got != domain.VerdictAccepted {
		t.Fatalf("first = %v, want accepted", got)
	}
	if got := s.CheckAndInsert(ctx, "fp", time.Now()); got != domain.VerdictDuplicate {
		t.Errorf("second = %v, want duplicate", got)
	}
	if !mr.Exists("capture:dedup:fp") {
		t.Error("expected key capture:dedup:fp")
	}
	if ttl := mr.TTL("capture:dedup:fp"); ttl != time.Minute {
		t.Errorf("TTL = %v, want 1m", ttl)
	}

	mr.FastForward(time.Minute)

	if got := s.CheckAndInsert(ctx, "fp", time.Now()); got != domain.VerdictAccepted {
		t.Errorf("after window = %v, want accepted", got)
	}
}

func TestRedisStore_Release(t *testing.T) {
	t.Parallel()

	s, mr := newRedisStore(t)
	ctx := context.Background()

	s.CheckAndInsert(ctx, "fp", time.Now())
	s.Release(ctx, "fp")

	if mr.Exists("capture:dedup:fp") {
		t.Error("key still present after Release")
	}
	if got := s.CheckAndInsert(ctx, "fp", time.Now()); got != domain.VerdictAccepted {
		t.Errorf("after release = %v, want accepted", got)
	}
}

func TestRedisStore_FailsOpen(t *testing.T) {
	t.Parallel()

	s, mr := newRedisStore(t)
	mr.Close()

	if got := s.CheckAndInsert(context.Background(), "fp", time.Now()); got != domain.VerdictAccepted {
		t.Errorf("with redis down = %v, want accepted", got)
	}
}

func TestRedisStore_ConcurrentSameFingerprint(t *testing.T) {
	t.Parallel()

	s, _ := newRedisStore(t)
	ctx := context.Background()

	var accepted atomic.Int64
	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.CheckAndInsert(ctx, "same", time.Now()) == domain.VerdictAccepted {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()

	if accepted.Load() != 1 {
		t.Errorf("accepted = %d, want exactly 1", accepted.Load())
	}
}
