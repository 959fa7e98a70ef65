package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

type Redis struct {
	rdb         *redis.Client
	ttl         time.Duration
	limitWindow time.Duration
	maxRequests int
}

type RedisOptions struct {
	Addr string
	// TTL is refreshed on every write; zero keeps slots forever.
	TTL time.Duration
	// MaxRequests per LimitWindow before IsRateLimited reports true.
	MaxRequests int
	LimitWindow time.Duration
}

func NewRedis(opts RedisOptions) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: opts.Addr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := rdb.Ping(ctx).Result(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}

	if opts.LimitWindow <= 0 {
		opts.LimitWindow = 60 * time.Second
	}
	if opts.MaxRequests <= 0 {
		opts.MaxRequests = 10
	}

	return &Redis{
		rdb:         rdb,
		ttl:         opts.TTL,
		limitWindow: opts.LimitWindow,
		maxRequests: opts.MaxRequests,
	}, nil
}

func redisKey(sid string, slot Slot) string {
	return fmt.Sprintf("session:%s:%s", sid, slot)
}

func (r *Redis) Get(ctx context.Context, sid string, slot Slot) ([]byte, error) {
	data, err := r.rdb.Get(ctx, redisKey(sid, slot)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return data, err
}

func (r *Redis) Set(ctx context.Context, sid string, slot Slot, data []byte) error {
	return r.rdb.Set(ctx, redisKey(sid, slot), data, r.ttl).Err()
}

func (r *Redis) Delete(ctx context.Context, sid string, slot Slot) error {
	return r.rdb.Del(ctx, redisKey(sid, slot)).Err()
}

// IsRateLimited counts hits on key in a fixed window. Redis failures let the
// request through.
func (r *Redis) IsRateLimited(ctx context.Context, key string) bool {
	key = fmt.Sprintf("ratelimit:%s", key)

	pipe := r.rdb.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, r.limitWindow)
	_, err := pipe.Exec(ctx)

	if err != nil {
		return false
	}

	return incr.Val() > int64(r.maxRequests)
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}
