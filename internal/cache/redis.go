package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"
)

var (
	ErrEmptyRedisURL = errors.New("empty redis connection URL")
	ErrRedisNotReady = errors.New("redis did not become ready")
	ErrHealthcheck   = errors.New("cache healthcheck failed")
)

// indexGrace keeps an index set alive slightly longer than the entries it lists.
const indexGrace = time.Minute

// Redis is a Cache backed by a shared Redis instance. Each write registers the entry
// key in its scope index so invalidation deletes exactly those keys.
type Redis struct {
	client redis.UniversalClient
	maxTTL time.Duration
}

// NewRedis wraps client. Entry TTLs are clamped to maxTTL.
func NewRedis(client redis.UniversalClient, maxTTL time.Duration) *Redis {
	return &Redis{client: client, maxTTL: maxTTL}
}

// Client exposes the underlying client for health checks.
func (r *Redis) Client() redis.UniversalClient { return r.client }

func (r *Redis) Generation(ctx context.Context, scope string) (int64, error) {
	raw, err := r.client.Get(ctx, GenerationKey(scope)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: get generation: %w", ErrUnavailable, err)
	}
	gen, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: parse generation %q: %w", ErrUnavailable, raw, err)
	}
	return gen, nil
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	payload, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: get: %w", ErrUnavailable, err)
	}
	return payload, true, nil
}

func (r *Redis) Set(ctx context.Context, scope, key string, value []byte, ttl time.Duration) error {
	if r.maxTTL > 0 && ttl > r.maxTTL {
		ttl = r.maxTTL
	}
	if ttl <= 0 {
		return nil
	}
	indexTTL := ttl + indexGrace
	if r.maxTTL > 0 {
		indexTTL = r.maxTTL + indexGrace
	}

	indexKey := IndexKey(scope)
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, key, value, ttl)
	pipe.SAdd(ctx, indexKey, key)
	pipe.Expire(ctx, indexKey, indexTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: set: %w", ErrUnavailable, err)
	}
	return nil
}

// Invalidate bumps each scope's generation first so concurrent readers switch to fresh
// keys, then deletes the indexed entries and the index itself.
func (r *Redis) Invalidate(ctx context.Context, scopes ...string) error {
	for _, scope := range scopes {
		if err := r.client.Incr(ctx, GenerationKey(scope)).Err(); err != nil {
			return fmt.Errorf("%w: bump generation %s: %w", ErrUnavailable, scope, err)
		}

		indexKey := IndexKey(scope)
		members, err := r.client.SMembers(ctx, indexKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: read index %s: %w", ErrUnavailable, scope, err)
		}

		pipe := r.client.TxPipeline()
		if len(members) > 0 {
			pipe.Del(ctx, members...)
		}
		pipe.Del(ctx, indexKey)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("%w: delete scope %s: %w", ErrUnavailable, scope, err)
		}
	}
	return nil
}

func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return errors.Join(ErrHealthcheck, err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

// Connect parses url and pings the server with exponential backoff until it answers,
// maxTries attempts are spent or ctx ends.
func Connect(ctx context.Context, url string, maxTries uint) (*redis.Client, error) {
	if url == "" {
		return nil, ErrEmptyRedisURL
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if maxTries == 0 {
		maxTries = 5
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 2 * time.Second

	client, err := backoff.Retry(ctx, func() (*redis.Client, error) {
		c := redis.NewClient(opts)
		if err := c.Ping(ctx).Err(); err != nil {
			_ = c.Close()
			return nil, err
		}
		return c, nil
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(maxTries))
	if err != nil {
		return nil, errors.Join(ErrRedisNotReady, err)
	}
	return client, nil
}

var _ Cache = (*Redis)(nil)
