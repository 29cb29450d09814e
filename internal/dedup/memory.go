package dedup

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonesrussell/north-cloud/capture-ingest/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/capture-ingest/internal/domain"
)

// compactThreshold is the number of consumed FIFO slots that triggers a copy.
const compactThreshold = 1024

type fifoEntry struct {
	fingerprint string
	expiresAt   time.Time
}

// MemoryStore is a process-local Store. Every entry lives exactly one window
// after its first acceptance, so insertion order is expiry order and the
// FIFO head is always the next entry to expire.
type MemoryStore struct {
	window   time.Duration
	capacity int
	opts     options

	mu      sync.Mutex
	entries map[string]time.Time
	fifo    []fifoEntry
	head    int

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewMemoryStore creates a MemoryStore. Zero window or capacity take the
// package defaults.
func NewMemoryStore(window time.Duration, capacity int, opts ...Option) *MemoryStore {
	if window <= 0 {
		window = DefaultWindow
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	return &MemoryStore{
		window:   window,
		capacity: capacity,
		opts:     buildOptions(opts),
		entries:  make(map[string]time.Time, capacity),
		fifo:     make([]fifoEntry, 0, capacity),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// CheckAndInsert implements Store.
func (s *MemoryStore) CheckAndInsert(_ context.Context, fingerprint string, now time.Time) domain.Verdict {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictExpiredLocked(now)

	if expiresAt, ok := s.entries[fingerprint]; ok && now.Before(expiresAt) {
		return domain.VerdictDuplicate
	}

	if len(s.entries) >= s.capacity {
		s.opts.log.Warn("Dedup store at capacity, inserting anyway",
			logger.Int("capacity", s.capacity),
			logger.Int("entries", len(s.entries)),
		)
		s.opts.onPressure()
	}

	expiresAt := now.Add(s.window)
	s.entries[fingerprint] = expiresAt
	s.fifo = append(s.fifo, fifoEntry{fingerprint: fingerprint, expiresAt: expiresAt})

	return domain.VerdictAccepted
}

// Release implements Store. The FIFO slot is left behind and skipped once it
// reaches the head.
func (s *MemoryStore) Release(_ context.Context, fingerprint string) {
	s.mu.Lock()
	delete(s.entries, fingerprint)
	s.mu.Unlock()
}

// Len returns the number of live entries, including expired ones not yet swept.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Capacity returns the configured soft capacity.
func (s *MemoryStore) Capacity() int {
	return s.capacity
}

// Sweep removes every entry expired at now and returns how many were removed.
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evictExpiredLocked(now)
}

// StartSweeper runs Sweep every interval until Close. Only the first call
// starts a goroutine.
func (s *MemoryStore) StartSweeper(interval time.Duration) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stop:
				return
			case now := <-ticker.C:
				if n := s.Sweep(now); n > 0 {
					s.opts.log.Debug("Dedup sweep removed expired entries",
						logger.Int("removed", n),
						logger.Int("remaining", s.Len()),
					)
				}
			}
		}
	}()
}

// Close stops the sweeper if it was started. Safe to call more than once.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() {
		close(s.stop)
	})

	if s.started.Load() {
		<-s.done
	}
	return nil
}

func (s *MemoryStore) evictExpiredLocked(now time.Time) int {
	removed := 0
	for s.head < len(s.fifo) {
		e := s.fifo[s.head]
		if now.Before(e.expiresAt) {
			break
		}
		// The map may hold a newer entry for the same fingerprint after a
		// Release and re-accept; only drop the one this slot recorded.
		if current, ok := s.entries[e.fingerprint]; ok && current.Equal(e.expiresAt) {
			delete(s.entries, e.fingerprint)
			removed++
		}
		s.fifo[s.head] = fifoEntry{}
		s.head++
	}

	if s.head >= compactThreshold && s.head*2 >= len(s.fifo) {
		s.fifo = append(s.fifo[:0:0], s.fifo[s.head:]...)
		s.head = 0
	}

	if removed > 0 {
		s.opts.onEvict(removed)
	}
	return removed
}
