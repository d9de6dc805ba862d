package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/TimurManjosov/flagledger/internal/clock"
)

// Options selects and configures a cache backend.
type Options struct {
	Type     string // "none", "memory" or "redis"
	RedisURL string
	TTL      time.Duration
}

// New creates the cache selected by opts.Type. An empty type disables caching.
func New(ctx context.Context, opts Options) (Cache, error) {
	switch opts.Type {
	case "", "none":
		return NewNoop(), nil
	case "memory":
		return NewMemory(clock.System{}), nil
	case "redis":
		client, err := Connect(ctx, opts.RedisURL, 5)
		if err != nil {
			return nil, err
		}
		return NewRedis(client, opts.TTL), nil
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", opts.Type)
	}
}

// Healthcheck returns a readiness probe for c.
func Healthcheck(c Cache) func(context.Context) error {
	return c.Ping
}
