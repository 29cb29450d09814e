package dedup

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/north-cloud/capture-ingest/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/capture-ingest/internal/domain"
)

const (
	redisKeyPrefix = "capture:dedup:"
	// DefaultRedisTimeout bounds each Redis round trip.
	DefaultRedisTimeout = 250 * time.Millisecond
)

// RedisStore keeps fingerprints in Redis so the window survives restarts and
// is shared between instances. Redis enforces expiry; capacity is not applied.
type RedisStore struct {
	client  *redis.Client
	window  time.Duration
	timeout time.Duration
	opts    options
}

// NewRedisStore creates a RedisStore on an existing client. The caller owns
// the client.
func NewRedisStore(client *redis.Client, window time.Duration, opts ...Option) *RedisStore {
	if window <= 0 {
		window = DefaultWindow
	}
	return &RedisStore{
		client:  client,
		window:  window,
		timeout: DefaultRedisTimeout,
		opts:    buildOptions(opts),
	}
}

func (s *RedisStore) key(fingerprint string) string {
	return redisKeyPrefix + fingerprint
}

// CheckAndInsert implements Store with SET NX PX. A Redis failure is logged
// and treated as Accepted so captures keep flowing.
func (s *RedisStore) CheckAndInsert(ctx context.Context, fingerprint string, now time.Time) domain.Verdict {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	key := s.key(fingerprint)
	ok, err := s.client.SetNX(ctx, key, now.UnixMilli(), s.window).Result()
	if err != nil {
		s.opts.log.Error("Redis error checking fingerprint",
			logger.String("fingerprint", fingerprint),
			logger.String("redis_key", key),
			logger.Error(err),
		)
		return domain.VerdictAccepted
	}

	if !ok {
		return domain.VerdictDuplicate
	}
	return domain.VerdictAccepted
}

// Release implements Store.
func (s *RedisStore) Release(ctx context.Context, fingerprint string) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	key := s.key(fingerprint)
	if err := s.client.Del(ctx, key).Err(); err != nil {
		s.opts.log.Error("Redis error releasing fingerprint",
			logger.String("fingerprint", fingerprint),
			logger.String("redis_key", key),
			logger.Error(err),
		)
	}
}

// Close implements Store. The client is closed by its owner.
func (s *RedisStore) Close() error {
	return nil
}
