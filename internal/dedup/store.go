// Package dedup remembers recently accepted fingerprints so repeated sightings
// of the same media URL inside the dedup window are reported as duplicates.
package dedup

import (
	"context"
	"time"

	"github.com/jonesrussell/north-cloud/capture-ingest/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/capture-ingest/internal/domain"
)

// Defaults for the dedup window and the in-memory store.
const (
	DefaultWindow        = 60 * time.Second
	DefaultCapacity      = 10000
	DefaultSweepInterval = 30 * time.Second
)

// Store is implemented by MemoryStore and RedisStore.
type Store interface {
	// CheckAndInsert records fingerprint if it has not been accepted within
	// the window. Exactly one concurrent caller observes VerdictAccepted.
	CheckAndInsert(ctx context.Context, fingerprint string, now time.Time) domain.Verdict
	// Release forgets a fingerprint whose event was never enqueued.
	Release(ctx context.Context, fingerprint string)
	Close() error
}

// Option customizes a store.
type Option func(*options)

type options struct {
	log        logger.Logger
	onPressure func()
	onEvict    func(n int)
}

// WithLogger sets the store logger.
func WithLogger(log logger.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithCapacityPressureHook is called each time an insert happens while the
// store is already at capacity with unexpired entries.
func WithCapacityPressureHook(fn func()) Option {
	return func(o *options) { o.onPressure = fn }
}

// WithEvictionHook is called with the number of expired entries removed.
func WithEvictionHook(fn func(n int)) Option {
	return func(o *options) { o.onEvict = fn }
}

func buildOptions(opts []Option) options {
	o := options{
		log:        logger.NewNop(),
		onPressure: func() {},
		onEvict:    func(int) {},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
