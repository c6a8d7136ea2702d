package quota

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyTTL outlives the bucket by an hour so a counter never expires while it
// is still current, then disappears on its own.
const keyTTL = 2 * time.Hour

// RedisLedger stores usage counters in Redis. The bucket is derived from the
// Redis server's clock rather than the local one, so every API instance
// sharing the ledger agrees on the hour boundary.
type RedisLedger struct {
	client *redis.Client
	logger *slog.Logger
}

// RedisOptions configures the ledger's connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Logger   *slog.Logger
}

func NewRedisLedger(opts RedisOptions) *RedisLedger {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &RedisLedger{
		client: redis.NewClient(&redis.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		}),
		logger: opts.Logger.With(slog.String("component", "quota.redis")),
	}
}

func (l *RedisLedger) Increment(ctx context.Context, identity string) (Usage, error) {
	now, err := l.client.Time(ctx).Result()
	if err != nil {
		l.logger.Error("redis clock unavailable", slog.Any("error", err))
		return Usage{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	bucket := now.UTC().Truncate(time.Hour)
	key := fmt.Sprintf("quota:%s:%d", identity, bucket.Unix())

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		l.logger.Error("usage increment failed", slog.Any("error", err))
		return Usage{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, keyTTL).Err(); err != nil {
			// The counter still works without a TTL; it just lingers.
			l.logger.Warn("quota key expiry not set", slog.String("key", key), slog.Any("error", err))
		}
	}
	return Usage{Count: count, Bucket: bucket}, nil
}

func (l *RedisLedger) Ping(ctx context.Context) error {
	if err := l.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (l *RedisLedger) Close() error {
	return l.client.Close()
}
