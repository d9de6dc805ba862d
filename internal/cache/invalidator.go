package cache

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/TimurManjosov/flagledger/internal/telemetry"
)

// Invalidator drops cached data that depends on a flag after it changes.
type Invalidator struct {
	cache  Cache
	logger zerolog.Logger
}

func NewInvalidator(c Cache, logger zerolog.Logger) *Invalidator {
	return &Invalidator{cache: c, logger: logger.With().Str("component", "cache_invalidator").Logger()}
}

// OnFlagMutated invalidates every cached evaluation of key and the active-flag listing.
// Failures are logged and counted but never returned: entry TTLs bound the staleness.
func (i *Invalidator) OnFlagMutated(ctx context.Context, key string) {
	if err := i.cache.Invalidate(ctx, FlagScope(key), ActiveFlagsScope); err != nil {
		telemetry.CacheInvalidations.WithLabelValues("error").Inc()
		i.logger.Warn().Err(err).Str("flag_key", key).Msg("cache invalidation failed")
		return
	}
	telemetry.CacheInvalidations.WithLabelValues("ok").Inc()
}
