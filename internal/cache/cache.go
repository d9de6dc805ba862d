// Package cache holds evaluation results and the active-flag listing for short periods.
//
// Entries are grouped into scopes: one per flag ("flag:{key}") and one for the listing
// ("active_flags"). Every entry is registered in its scope's index set when written and
// its key embeds the scope's generation. Invalidating a scope bumps the generation, so
// readers stop seeing old entries at once, and deletes exactly the indexed entries.
// No wildcard key scans are ever issued.
package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Prefix namespaces every key this package writes.
const Prefix = "flagledger"

// ActiveFlagsScope is the scope of the enabled-flag listing.
const ActiveFlagsScope = "active_flags"

// ErrUnavailable wraps backend failures.
var ErrUnavailable = errors.New("cache unavailable")

// Cache is a TTL cache with per-scope explicit indexes and generations.
type Cache interface {
	// Generation returns the current generation of scope (0 if never invalidated).
	Generation(ctx context.Context, scope string) (int64, error)
	// Get returns the value stored at key.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value at key for ttl and registers key in scope's index.
	// A non-positive ttl is a no-op.
	Set(ctx context.Context, scope, key string, value []byte, ttl time.Duration) error
	// Invalidate bumps the generation of each scope and deletes its indexed entries.
	Invalidate(ctx context.Context, scopes ...string) error
	Ping(ctx context.Context) error
	Close() error
}

// FlagScope returns the scope holding entries that depend on flagKey.
func FlagScope(flagKey string) string {
	return "flag:" + flagKey
}

// EvaluationKey is the key of a cached evaluation result for flagKey and identifier at
// generation gen. Identifiers are hashed so arbitrary client input never ends up in key
// names.
func EvaluationKey(flagKey string, gen int64, identifier string) string {
	id := "anon"
	if identifier != "" {
		id = strconv.FormatUint(xxhash.Sum64String(identifier), 16)
	}
	return entryKey(FlagScope(flagKey), gen) + ":eval:" + id
}

// ActiveFlagsKey is the key of the cached enabled-flag listing at generation gen.
func ActiveFlagsKey(gen int64) string {
	return entryKey(ActiveFlagsScope, gen) + ":list"
}

// IndexKey is the set of entry keys registered under scope.
func IndexKey(scope string) string {
	return Prefix + ":idx:" + scope
}

// GenerationKey holds the generation counter of scope.
func GenerationKey(scope string) string {
	return Prefix + ":gen:" + scope
}

func entryKey(scope string, gen int64) string {
	return Prefix + ":" + scope + ":g" + strconv.FormatInt(gen, 10)
}
