// Package rollout provides deterministic user bucketing for feature flag rollouts.
package rollout

import (
	"github.com/cespare/xxhash/v2"
)

// BucketCount is the number of buckets identifiers are spread across.
const BucketCount = 100

// Bucket returns a deterministic bucket (0-99) for the given flag and identifier.
// The same flagKey + identifier + salt combination always returns the same bucket.
// An empty identifier has no bucket and returns -1.
func Bucket(flagKey, identifier, salt string) int {
	if identifier == "" {
		return -1
	}
	seed := flagKey + ":" + identifier
	if salt != "" {
		seed += ":" + salt
	}
	return int(xxhash.Sum64String(seed) % BucketCount)
}
